package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltguard/internal/events"
	"voltguard/internal/sse"
)

func TestService_EventsSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := sse.NewHub(quiet)
	go hub.Run(ctx)

	s := New(2, hub, quiet)
	s.Handle("voltguard/requests/request_created", []byte(`{"event":"request_created","request_id":"r1"}`))
	s.Handle("voltguard/chat/r1", []byte(`{"request_id":"r1"}`))
	s.Handle("voltguard/chat/r1", []byte("plain text"))

	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count  int      `json:"count"`
		Events []Record `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "voltguard/chat/r1", body.Events[0].Topic)
	assert.Equal(t, events.MessageSent, body.Events[0].Kind)
	assert.Equal(t, "r1", body.Events[0].RequestID)
	assert.Empty(t, body.Events[1].Kind)
	assert.JSONEq(t, `"plain text"`, string(body.Events[1].Payload))

	resp, err = http.Get(srv.URL + "/events?kind=message_sent")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "voltguard/chat/r1", body.Events[0].Topic)
}

func TestHistory_WrapsOldestFirst(t *testing.T) {
	h := newHistory(3)
	assert.Empty(t, h.snapshot(""))

	kinds := []events.Kind{events.RequestCreated, events.RequestAccepted, events.MessageSent, events.SessionCompleted, events.MessageSent}
	for i, k := range kinds {
		h.add(Record{Topic: fmt.Sprintf("t%d", i), Kind: k})
	}

	var topics []string
	for _, r := range h.snapshot("") {
		topics = append(topics, r.Topic)
	}
	assert.Equal(t, []string{"t2", "t3", "t4"}, topics)

	sent := h.snapshot(events.MessageSent)
	require.Len(t, sent, 2)
	assert.Equal(t, "t2", sent[0].Topic)
	assert.Equal(t, "t4", sent[1].Topic)

	sent[0].Topic = "mutated"
	assert.Equal(t, "t2", h.snapshot("")[0].Topic)
}

func TestHistory_ExactlyFull(t *testing.T) {
	h := newHistory(2)
	h.add(Record{Topic: "a"})
	h.add(Record{Topic: "b"})
	snap := h.snapshot("")
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Topic)
	assert.Equal(t, "b", snap[1].Topic)
}

func TestService_HealthAndMetrics(t *testing.T) {
	s := New(0, sse.NewHub(nil), nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
