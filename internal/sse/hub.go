// Package sse re-broadcasts domain events to browsers as server-sent events.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const keepAliveEvery = 15 * time.Second

type Hub struct {
	logger *slog.Logger

	register   chan chan []byte
	unregister chan chan []byte
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		broadcast:  make(chan []byte, 100),
		done:       make(chan struct{}),
		clients:    make(map[chan []byte]struct{}),
	}
}

// Run dispatches until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for ch := range h.clients {
			delete(h.clients, ch)
			close(ch)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-h.register:
			h.mu.Lock()
			h.clients[ch] = struct{}{}
			h.mu.Unlock()
		case ch := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for ch := range h.clients {
				select {
				case ch <- msg:
				default:
					h.logger.Debug("sse client slow, dropping event")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients is the number of connected streams.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues b for every client. Payloads that are not JSON are wrapped as {"event":"raw"}.
func (h *Hub) Broadcast(b []byte) {
	if !json.Valid(b) {
		b, _ = json.Marshal(map[string]any{
			"event":   "raw",
			"payload": string(b),
		})
	}
	select {
	case h.broadcast <- append([]byte(nil), b...):
	case <-h.done:
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		client := make(chan []byte, 25)
		select {
		case h.register <- client:
		case <-h.done:
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer func() {
			select {
			case h.unregister <- client:
			case <-h.done:
			}
		}()

		bw := bufio.NewWriter(w)
		writeEvent(bw, []byte(`{"event":"connected"}`))
		_ = bw.Flush()
		flusher.Flush()

		keepAlive := time.NewTicker(keepAliveEvery)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				_, _ = bw.WriteString(": keep-alive\n\n")
			case msg, ok := <-client:
				if !ok {
					return
				}
				writeEvent(bw, msg)
			}
			_ = bw.Flush()
			flusher.Flush()
		}
	}
}

func writeEvent(w *bufio.Writer, data []byte) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.ReplaceAll(string(data), "\n", ""))
}
