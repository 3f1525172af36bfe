package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"voltguard/internal/devbackend"
	"voltguard/internal/faults"
)

type harness struct {
	url string
	dir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := devbackend.OpenStore(filepath.Join(t.TempDir(), "dev.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := devbackend.NewAPI(store, devbackend.Options{Logger: quiet, BcryptCost: bcrypt.MinCost})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	t.Setenv("VOLTGUARD_LOG_LEVEL", "error")
	t.Setenv("VOLTGUARD_CHAT_INITIAL_DELAY", "10ms")
	t.Setenv("MQTT_BROKER", "")
	return &harness{url: srv.URL, dir: t.TempDir()}
}

// run executes one command as the named user, each user keeping their own session file.
func (h *harness) run(t *testing.T, user, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VOLTGUARD_SESSION_PATH", filepath.Join(h.dir, user+".db"))
	var out bytes.Buffer
	cmd := NewRootCmd(strings.NewReader(stdin), &out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--api-url", h.url))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, user, stdin string, args ...string) string {
	t.Helper()
	out, err := h.run(t, user, stdin, args...)
	require.NoError(t, err, out)
	return out
}

func (h *harness) signUp(t *testing.T, user string, role faults.Role) {
	t.Helper()
	out := h.mustRun(t, user, "", "signup",
		"--email", user+"@example.com", "--password", "secret1", "--name", user, "--role", string(role))
	assert.Contains(t, out, "Signed in as "+user+" ("+string(role)+")")
}

func (h *harness) createRequest(t *testing.T, user, title string) string {
	t.Helper()
	out := h.mustRun(t, user, "", "requests", "create",
		"--title", title, "--description", "breaker trips hourly", "--location", "12 Oak St", "--priority", "high")
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2, out)
	require.Equal(t, "Created", fields[0])
	return fields[1]
}

func TestRequests_CreateAndList(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "kavya", faults.RoleConsumer)

	out := h.mustRun(t, "kavya", "", "requests", "list")
	assert.Contains(t, out, "No fault requests.")

	id := h.createRequest(t, "kavya", "Power Trip")
	out = h.mustRun(t, "kavya", "", "requests", "list")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Power Trip")
	assert.Contains(t, out, "open")

	out = h.mustRun(t, "kavya", "", "requests", "get", id)
	assert.Contains(t, out, "breaker trips hourly")
	assert.Contains(t, out, "12 Oak St")
}

func TestNotSignedIn(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "nobody", "", "requests", "list")
	assert.ErrorIs(t, err, faults.ErrAuth)

	h.signUp(t, "kavya", faults.RoleConsumer)
	h.mustRun(t, "kavya", "", "logout")
	_, err = h.run(t, "kavya", "", "whoami")
	assert.ErrorIs(t, err, faults.ErrAuth)
}

func TestRequestsCreate_ValidatesLocally(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "nobody", "", "requests", "create", "--title", " ", "--description", "x", "--location", "y")
	assert.ErrorIs(t, err, faults.ErrValidation)
}

func TestLogin_ReadsPasswordFromStdin(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "kavya", faults.RoleConsumer)
	h.mustRun(t, "kavya", "", "logout")

	out := h.mustRun(t, "kavya", "secret1\n", "login", "--email", "kavya@example.com")
	assert.Contains(t, out, "Signed in as kavya (consumer)")

	out = h.mustRun(t, "kavya", "", "whoami")
	assert.Contains(t, out, "kavya <kavya@example.com> consumer")

	_, err := h.run(t, "kavya", "wrong\n", "login", "--email", "kavya@example.com")
	assert.ErrorIs(t, err, faults.ErrAuth)
}

func TestAcceptAndChat(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "kavya", faults.RoleConsumer)
	h.signUp(t, "ravi", faults.RoleElectrician)
	id := h.createRequest(t, "kavya", "Power Trip")

	out := h.mustRun(t, "ravi", "", "requests", "accept", id)
	assert.Contains(t, out, id+" is now assigned")

	out = h.mustRun(t, "ravi", "", "requests", "active")
	assert.Contains(t, out, "Power Trip")

	out = h.mustRun(t, "ravi", "", "chat", "send", id, "on", "my", "way")
	assert.Contains(t, out, "you: on my way")

	out = h.mustRun(t, "kavya", "", "chat", "history", id)
	assert.Contains(t, out, "electrician: on my way")

	_, err := h.run(t, "kavya", "", "requests", "cancel", id)
	assert.ErrorIs(t, err, faults.ErrConflict)
}

func TestChatWatch_SendsAndResolves(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "kavya", faults.RoleConsumer)
	h.signUp(t, "ravi", faults.RoleElectrician)
	id := h.createRequest(t, "kavya", "Power Trip")
	h.mustRun(t, "ravi", "", "requests", "accept", id)

	out := h.mustRun(t, "ravi", "hello\n/resolve\n", "chat", "watch", id)
	assert.Contains(t, out, "Chat on "+id)
	assert.Contains(t, out, "you: hello")
	assert.Contains(t, out, id+" is now resolved")
	assert.Equal(t, 1, strings.Count(out, "you: hello"))

	_, err := h.run(t, "ravi", "", "chat", "watch", id)
	assert.ErrorIs(t, err, faults.ErrConflict)
}

func TestChatWatch_RefusesOpenRequest(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "kavya", faults.RoleConsumer)
	id := h.createRequest(t, "kavya", "Power Trip")

	_, err := h.run(t, "kavya", "", "chat", "watch", id)
	assert.ErrorIs(t, err, faults.ErrConflict)
}

func TestRequestsWatch_Quit(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "ravi", faults.RoleElectrician)
	_, err := h.run(t, "ravi", "quit\n", "requests", "watch", "--interval", "10ms")
	assert.NoError(t, err)
}
