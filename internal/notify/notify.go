// Package notify keeps the most recent domain events seen on the broker and fans them out to
// server-sent event subscribers.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voltguard/internal/events"
	"voltguard/internal/metrics"
	"voltguard/internal/sse"
)

type Service struct {
	recent *history
	hub    *sse.Hub
	logger *slog.Logger
}

func New(bufferSize int, hub *sse.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{recent: newHistory(bufferSize), hub: hub, logger: logger}
}

// Handle records one broker message and pushes it to stream subscribers. Payloads that are not
// events are kept verbatim.
func (s *Service) Handle(topic string, payload []byte) {
	rec := Record{ReceivedAt: time.Now().UTC(), Topic: topic}
	if e, err := events.Decode(topic, payload); err == nil {
		rec.Kind, rec.RequestID = e.Kind, e.RequestID
		rec.Payload = append(json.RawMessage(nil), payload...)
	} else {
		rec.Payload, _ = json.Marshal(string(payload))
	}
	kind := string(rec.Kind)
	if kind == "" {
		kind = "unknown"
	}
	metrics.EventsRelayed.WithLabelValues(kind).Inc()

	s.recent.add(rec)
	s.logger.Info("event", "topic", topic, "kind", kind, "request_id", rec.RequestID)
	s.hub.Broadcast(payload)
}

func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "notifier"})
	})
	r.With(middleware.Timeout(10*time.Second)).Get("/events", func(w http.ResponseWriter, r *http.Request) {
		snap := s.recent.snapshot(events.Kind(r.URL.Query().Get("kind")))
		writeJSON(w, http.StatusOK, map[string]any{"count": len(snap), "events": snap})
	})
	// no timeout: streams stay open
	r.Get("/stream", s.hub.Handler())
	r.Handle("/metrics", metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
