package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltguard/internal/faults"
	"voltguard/internal/session"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func TestClient_MissingTokenFailsBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken(""))
	_, err := c.ListFaultRequests(context.Background(), ScopeOwn, "")
	require.ErrorIs(t, err, faults.ErrAuth)

	_, err = c.ListMessages(context.Background(), "r1")
	require.ErrorIs(t, err, faults.ErrAuth)
	assert.Zero(t, hits.Load())
}

func TestClient_SendsBearerAndRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "/api/electrician/fault-requests", r.URL.Path)
		assert.Equal(t, "assigned", r.URL.Query().Get("status_filter"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"requests":[{"id":"r1","status":"assigned","priority":"high"}],"total":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	out, err := c.ListFaultRequests(context.Background(), ScopeAll, faults.StatusAssigned)
	require.NoError(t, err)
	require.Len(t, out.Requests, 1)
	assert.Equal(t, faults.StatusAssigned, out.Requests[0].Status)
	assert.Equal(t, 1, out.Total)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    error
		message string
	}{
		{"detail field", http.StatusNotFound, `{"detail":"Fault request not found"}`, faults.ErrNotFound, "Fault request not found"},
		{"message field", http.StatusConflict, `{"message":"already assigned"}`, faults.ErrConflict, "already assigned"},
		{"error field", http.StatusForbidden, `{"error":"not yours"}`, faults.ErrForbidden, "not yours"},
		{"no body", http.StatusBadGateway, ``, faults.ErrTransient, "HTTP 502"},
		{"html body", http.StatusInternalServerError, `<h1>oops</h1>`, faults.ErrTransient, "HTTP 500"},
		{"expired token", http.StatusUnauthorized, `{"detail":"Invalid or expired token"}`, faults.ErrAuth, "Invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, staticToken("tok"))
			_, err := c.GetFaultRequest(context.Background(), faults.RoleConsumer, "r1")
			require.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, staticToken("tok"))
	_, err := c.ListMessages(context.Background(), "r1")
	require.ErrorIs(t, err, faults.ErrTransient)
}

func TestClient_SignInAndUpdateStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var req SignInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "e@example.com", req.Email)
		_ = json.NewEncoder(w).Encode(AuthResponse{
			AccessToken: "tok",
			TokenType:   "bearer",
			User:        session.User{ID: "u9", Role: faults.RoleElectrician},
		})
	})
	mux.HandleFunc("/api/electrician/fault-request/r1/assign", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var req UpdateStatusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, faults.StatusAssigned, req.Status)
		assert.Equal(t, "u9", req.AssignedTo)
		_, _ = w.Write([]byte(`{"message":"Fault request updated successfully"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, nil)
	ss, err := c.SignIn(context.Background(), SignInRequest{Email: "e@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok", ss.Token)
	assert.Equal(t, faults.RoleElectrician, ss.User.Role)

	c = c.WithTokens(&ss)
	require.NoError(t, c.UpdateFaultRequestStatus(context.Background(), "r1", faults.StatusAssigned, "u9"))
}

func TestClient_ListMessagesNeverNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":null,"total":0}`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL, staticToken("tok")).ListMessages(context.Background(), "r1")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
