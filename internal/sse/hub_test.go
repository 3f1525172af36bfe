package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_StreamsBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)
	defer cancel()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	first, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"event\":\"connected\"}\n", first)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)
	hub.Broadcast([]byte(`{"event":"session_completed","request_id":"r1"}`))
	hub.Broadcast([]byte("not json"))

	var got []map[string]any
	for len(got) < 2 {
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &m))
		got = append(got, m)
	}
	assert.Equal(t, "session_completed", got[0]["event"])
	assert.Equal(t, "raw", got[1]["event"])
	assert.Equal(t, "not json", got[1]["payload"])
}
