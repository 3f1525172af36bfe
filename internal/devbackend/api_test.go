package devbackend

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"voltguard/internal/apiclient"
	"voltguard/internal/events"
	"voltguard/internal/faults"
	"voltguard/internal/session"
)

type testEnv struct {
	srv *httptest.Server
	api *API
	bus *events.Bus
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "dev.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	api := NewAPI(store, Options{
		Secret:     "test-secret",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bus:        bus,
		BcryptCost: bcrypt.MinCost,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, api: api, bus: bus}
}

func (e *testEnv) signUp(t *testing.T, email string, role faults.Role) (*apiclient.Client, session.Session) {
	t.Helper()
	c := apiclient.New(e.srv.URL, nil)
	s, err := c.SignUp(context.Background(), apiclient.SignUpRequest{
		Email: email, Password: "secret123", FullName: "User " + email, Role: role,
	})
	require.NoError(t, err)
	return c.WithTokens(&s), s
}

func newFault(title string) faults.NewRequest {
	return faults.NewRequest{Title: title, Description: "sparking pole", Location: "Anna Nagar 2nd St"}
}

func TestAuth_SignUpSignInMe(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	_, s := env.signUp(t, "kavya@example.com", faults.RoleConsumer)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, faults.RoleConsumer, s.User.Role)

	anon := apiclient.New(env.srv.URL, nil)
	_, err := anon.SignUp(ctx, apiclient.SignUpRequest{
		Email: "kavya@example.com", Password: "secret123", FullName: "Dup", Role: faults.RoleConsumer,
	})
	assert.ErrorIs(t, err, faults.ErrConflict)

	_, err = anon.SignIn(ctx, apiclient.SignInRequest{Email: "kavya@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, faults.ErrAuth)

	in, err := anon.SignIn(ctx, apiclient.SignInRequest{Email: "KAVYA@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, in.User.ID)

	me, err := anon.WithTokens(&in).Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kavya@example.com", me.Email)

	_, err = anon.WithTokens(&session.Session{Token: "garbage"}).Me(ctx)
	assert.ErrorIs(t, err, faults.ErrAuth)
}

func TestAuth_SignUpValidation(t *testing.T) {
	env := newEnv(t)
	anon := apiclient.New(env.srv.URL, nil)
	_, err := anon.SignUp(context.Background(), apiclient.SignUpRequest{
		Email: "x@example.com", Password: "123", FullName: "X", Role: faults.RoleConsumer,
	})
	assert.ErrorIs(t, err, faults.ErrValidation)

	_, err = anon.SignUp(context.Background(), apiclient.SignUpRequest{
		Email: "x@example.com", Password: "secret123", FullName: "X", Role: "wizard",
	})
	assert.ErrorIs(t, err, faults.ErrValidation)
}

func TestRoutes_RoleGuards(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	consumer, _ := env.signUp(t, "c@example.com", faults.RoleConsumer)
	electrician, _ := env.signUp(t, "e@example.com", faults.RoleElectrician)

	_, err := consumer.ListFaultRequests(ctx, apiclient.ScopeAll, "")
	assert.ErrorIs(t, err, faults.ErrForbidden)

	_, err = electrician.CreateFaultRequest(ctx, newFault("x"))
	assert.ErrorIs(t, err, faults.ErrForbidden)

	lineman, _ := env.signUp(t, "l@example.com", faults.RoleLineman)
	_, err = lineman.ListFaultRequests(ctx, apiclient.ScopeAll, "")
	assert.NoError(t, err, "linemen use the electrician routes")
}

func TestFaultRequests_CreateListGet(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	consumer, cs := env.signUp(t, "c@example.com", faults.RoleConsumer)
	other, _ := env.signUp(t, "o@example.com", faults.RoleConsumer)

	created, _ := env.bus.Subscribe(4, events.RequestCreated)

	first, err := consumer.CreateFaultRequest(ctx, newFault("first"))
	require.NoError(t, err)
	assert.Equal(t, faults.StatusOpen, first.Status)
	assert.Equal(t, faults.PriorityMedium, first.Priority)
	assert.Equal(t, cs.User.ID, first.ConsumerID)
	assert.Empty(t, first.AssignedTo)
	second, err := consumer.CreateFaultRequest(ctx, newFault("second"))
	require.NoError(t, err)
	assert.Len(t, created, 2)

	list, err := consumer.ListFaultRequests(ctx, apiclient.ScopeOwn, "")
	require.NoError(t, err)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, second.ID, list.Requests[0].ID, "newest first")

	otherList, err := other.ListFaultRequests(ctx, apiclient.ScopeOwn, "")
	require.NoError(t, err)
	assert.Zero(t, otherList.Total)

	_, err = other.GetFaultRequest(ctx, faults.RoleConsumer, first.ID)
	assert.ErrorIs(t, err, faults.ErrForbidden)
	_, err = consumer.GetFaultRequest(ctx, faults.RoleConsumer, "missing")
	assert.ErrorIs(t, err, faults.ErrNotFound)

	_, err = consumer.CreateFaultRequest(ctx, faults.NewRequest{Title: " ", Description: "d", Location: "l"})
	assert.ErrorIs(t, err, faults.ErrValidation)

	_, err = consumer.ListFaultRequests(ctx, apiclient.ScopeOwn, "bogus")
	assert.ErrorIs(t, err, faults.ErrValidation)
}

func TestUpdateStatus_AcceptRaceHasOneWinner(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	consumer, _ := env.signUp(t, "c@example.com", faults.RoleConsumer)
	e1, _ := env.signUp(t, "e1@example.com", faults.RoleElectrician)
	e2, _ := env.signUp(t, "e2@example.com", faults.RoleElectrician)

	fr, err := consumer.CreateFaultRequest(ctx, newFault("pole"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []*apiclient.Client{e1, e2} {
		wg.Add(1)
		go func(i int, c *apiclient.Client) {
			defer wg.Done()
			errs[i] = c.UpdateFaultRequestStatus(ctx, fr.ID, faults.StatusAssigned, "")
		}(i, c)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, faults.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	got, err := e1.GetFaultRequest(ctx, faults.RoleElectrician, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, faults.StatusAssigned, got.Status)
	assert.NotEmpty(t, got.AssignedToName)
}

func TestUpdateStatus_Guards(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	consumer, _ := env.signUp(t, "c@example.com", faults.RoleConsumer)
	e1, s1 := env.signUp(t, "e1@example.com", faults.RoleElectrician)
	e2, s2 := env.signUp(t, "e2@example.com", faults.RoleElectrician)

	fr, err := consumer.CreateFaultRequest(ctx, newFault("pole"))
	require.NoError(t, err)

	err = e1.UpdateFaultRequestStatus(ctx, fr.ID, faults.StatusInProgress, "")
	assert.ErrorIs(t, err, faults.ErrConflict, "open cannot jump to in_progress")

	err = e1.UpdateFaultRequestStatus(ctx, fr.ID, faults.StatusAssigned, s2.User.ID)
	assert.ErrorIs(t, err, faults.ErrForbidden, "cannot assign to someone else")

	require.NoError(t, e1.UpdateFaultRequestStatus(ctx, fr.ID, faults.StatusAssigned, s1.User.ID))

	err = e2.UpdateFaultRequestStatus(ctx, fr.ID, faults.StatusInProgress, "")
	assert.ErrorIs(t, err, faults.ErrForbidden)

	require.NoError(t, e1.UpdateFaultRequestStatus(ctx, fr.ID, faults.StatusInProgress, ""))
	err = e1.UpdateFaultRequestStatus(ctx, fr.ID, faults.StatusAssigned, "")
	assert.ErrorIs(t, err, faults.ErrConflict, "no back-transitions")

	mine, err := e1.ListFaultRequests(ctx, apiclient.ScopeAssigned, faults.StatusInProgress)
	require.NoError(t, err)
	require.Len(t, mine.Requests, 1)
	theirs, err := e2.ListFaultRequests(ctx, apiclient.ScopeAssigned, "")
	require.NoError(t, err)
	assert.Empty(t, theirs.Requests)

	err = e1.UpdateFaultRequestStatus(ctx, "missing", faults.StatusAssigned, "")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestCancel(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	consumer, _ := env.signUp(t, "c@example.com", faults.RoleConsumer)
	other, _ := env.signUp(t, "o@example.com", faults.RoleConsumer)
	e1, _ := env.signUp(t, "e1@example.com", faults.RoleElectrician)

	a, err := consumer.CreateFaultRequest(ctx, newFault("a"))
	require.NoError(t, err)
	b, err := consumer.CreateFaultRequest(ctx, newFault("b"))
	require.NoError(t, err)

	assert.ErrorIs(t, other.CancelFaultRequest(ctx, a.ID), faults.ErrForbidden)
	require.NoError(t, consumer.CancelFaultRequest(ctx, a.ID))
	got, err := consumer.GetFaultRequest(ctx, faults.RoleConsumer, a.ID)
	require.NoError(t, err)
	assert.Equal(t, faults.StatusClosed, got.Status)

	require.NoError(t, e1.UpdateFaultRequestStatus(ctx, b.ID, faults.StatusAssigned, ""))
	assert.ErrorIs(t, consumer.CancelFaultRequest(ctx, b.ID), faults.ErrConflict)
}

func TestChat_AuthorizationAndOrder(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	consumer, cs := env.signUp(t, "c@example.com", faults.RoleConsumer)
	e1, _ := env.signUp(t, "e1@example.com", faults.RoleElectrician)
	e2, _ := env.signUp(t, "e2@example.com", faults.RoleElectrician)

	fr, err := consumer.CreateFaultRequest(ctx, newFault("pole"))
	require.NoError(t, err)

	_, err = e1.SendMessage(ctx, fr.ID, "hello")
	assert.ErrorIs(t, err, faults.ErrForbidden, "not assigned yet")

	require.NoError(t, e1.UpdateFaultRequestStatus(ctx, fr.ID, faults.StatusAssigned, ""))

	m1, err := consumer.SendMessage(ctx, fr.ID, "when will you arrive?")
	require.NoError(t, err)
	assert.Equal(t, cs.User.ID, m1.SenderID)
	assert.Equal(t, faults.RoleConsumer, m1.SenderRole)
	m2, err := e1.SendMessage(ctx, fr.ID, "20 minutes")
	require.NoError(t, err)

	msgs, err := e1.ListMessages(ctx, fr.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m2.ID}, faults.Fingerprint(msgs))

	_, err = e2.ListMessages(ctx, fr.ID)
	assert.ErrorIs(t, err, faults.ErrForbidden)

	_, err = consumer.SendMessage(ctx, fr.ID, "   ")
	assert.ErrorIs(t, err, faults.ErrValidation)

	_, err = consumer.ListMessages(ctx, "missing")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	require.NoError(t, env.api.EnsureUser(ctx, "admin@example.com", "admin123", "Admin", faults.RoleAdmin))
	require.NoError(t, env.api.EnsureUser(ctx, "admin@example.com", "other", "Admin", faults.RoleAdmin))

	_, err := apiclient.New(env.srv.URL, nil).SignIn(ctx, apiclient.SignInRequest{Email: "admin@example.com", Password: "admin123"})
	assert.NoError(t, err)
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
