// Package devbackend is a small sqlite-backed implementation of the fault desk REST API. It backs
// local development and the end-to-end tests of the client packages.
package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"voltguard/internal/events"
	"voltguard/internal/faults"
)

type Options struct {
	Secret   string
	TokenTTL time.Duration
	Logger   *slog.Logger
	// Bus, when set, receives an event for every accepted state change and chat message.
	Bus *events.Bus
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

type API struct {
	store    *Store
	logger   *slog.Logger
	bus      *events.Bus
	secret   []byte
	tokenTTL time.Duration
	cost     int
}

func NewAPI(store *Store, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Secret == "" {
		opts.Secret = "dev-secret"
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &API{
		store:    store,
		logger:   opts.Logger,
		bus:      opts.Bus,
		secret:   []byte(opts.Secret),
		tokenTTL: opts.TokenTTL,
		cost:     opts.BcryptCost,
	}
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(a.logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "devbackend"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signin", a.signIn)
		r.Post("/auth/signup", a.signUp)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/auth/me", a.me)

			r.Route("/consumer", func(r chi.Router) {
				r.Use(requireRoles(faults.RoleConsumer))
				r.Post("/fault-request/create", a.createRequest)
				r.Get("/fault-requests", a.listOwnRequests)
				r.Get("/fault-request/{id}", a.getOwnRequest)
				r.Put("/fault-request/{id}/cancel", a.cancelRequest)
			})

			r.Route("/electrician", func(r chi.Router) {
				r.Use(requireRoles(faults.RoleElectrician, faults.RoleLineman))
				r.Get("/fault-requests", a.listAllRequests)
				r.Get("/my-assignments", a.listAssignments)
				r.Get("/fault-request/{id}", a.getAnyRequest)
				r.Put("/fault-request/{id}/assign", a.updateStatus)
			})

			r.Post("/chat/send", a.sendMessage)
			r.Get("/chat/request/{id}", a.listMessages)
		})
	})
	return r
}

// EnsureUser creates the account if the email is not registered yet.
func (a *API) EnsureUser(ctx context.Context, email, password, fullName string, role faults.Role) error {
	_, err := a.store.UserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}
	_, err = a.createUser(ctx, signUpReq{Email: email, Password: password, FullName: fullName, Role: role})
	return err
}

// --------------------
// Auth
// --------------------

type signInReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpReq struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	FullName string      `json:"full_name"`
	Role     faults.Role `json:"role"`
	Phone    string      `json:"phone"`
}

type userResp struct {
	ID        string      `json:"_id"`
	Email     string      `json:"email"`
	FullName  string      `json:"full_name"`
	Role      faults.Role `json:"role"`
	Phone     string      `json:"phone,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type authResp struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	User        userResp `json:"user"`
}

func toUserResp(u userRecord) userResp {
	return userResp{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role, Phone: u.Phone, CreatedAt: u.CreatedAt}
}

func (a *API) createUser(ctx context.Context, req signUpReq) (userRecord, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return userRecord{}, faults.Validationf("A valid email is required")
	case len(req.Password) < 6:
		return userRecord{}, faults.Validationf("Password must be at least 6 characters")
	case req.FullName == "":
		return userRecord{}, faults.Validationf("Full name is required")
	case !req.Role.Valid():
		return userRecord{}, faults.Validationf("Invalid role %q", req.Role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.cost)
	if err != nil {
		return userRecord{}, err
	}
	u, err := a.store.CreateUser(ctx, userRecord{
		Email: req.Email, FullName: req.FullName, Role: req.Role, Phone: req.Phone, PassHash: string(hash),
	})
	if errors.Is(err, errDuplicate) {
		return userRecord{}, faults.Conflictf("Email already registered")
	}
	return u, err
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpReq
	if !decode(w, r, &req) {
		return
	}
	u, err := a.createUser(r.Context(), req)
	if err != nil {
		a.fail(w, "sign up", err)
		return
	}
	a.writeAuth(w, http.StatusCreated, u)
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInReq
	if !decode(w, r, &req) {
		return
	}
	u, err := a.store.UserByEmail(r.Context(), req.Email)
	if errors.Is(err, errNotFound) || (err == nil && !checkPassword(u.PassHash, req.Password)) {
		writeErr(w, faults.Authf("Incorrect email or password"))
		return
	}
	if err != nil {
		a.fail(w, "sign in", err)
		return
	}
	a.writeAuth(w, http.StatusOK, u)
}

func (a *API) writeAuth(w http.ResponseWriter, status int, u userRecord) {
	tok, err := a.issueToken(u)
	if err != nil {
		a.fail(w, "issue token", err)
		return
	}
	writeJSON(w, status, authResp{AccessToken: tok, TokenType: "bearer", User: toUserResp(u)})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResp(currentUser(r)))
}

// --------------------
// Fault requests
// --------------------

type listResp struct {
	Requests []faults.FaultRequest `json:"requests"`
	Total    int                   `json:"total"`
}

type ackResp struct {
	Message string `json:"message"`
}

type updateStatusReq struct {
	Status     faults.Status `json:"status"`
	AssignedTo string        `json:"assigned_to"`
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	var in faults.NewRequest
	if !decode(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeErr(w, err)
		return
	}
	fr, err := a.store.CreateRequest(r.Context(), u.ID, in)
	if err != nil {
		a.fail(w, "create fault request", err)
		return
	}
	a.publish(events.RequestCreated, fr.ID, u.ID, fr.Status)
	writeJSON(w, http.StatusCreated, fr)
}

func statusFilter(r *http.Request) (faults.Status, error) {
	s := faults.Status(r.URL.Query().Get("status_filter"))
	if s != "" && !s.Valid() {
		return "", faults.Validationf("Invalid status_filter %q", s)
	}
	return s, nil
}

func (a *API) listWith(w http.ResponseWriter, r *http.Request, f requestFilter) {
	st, err := statusFilter(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	f.Status = st
	items, err := a.store.ListRequests(r.Context(), f)
	if err != nil {
		a.fail(w, "list fault requests", err)
		return
	}
	writeJSON(w, http.StatusOK, listResp{Requests: items, Total: len(items)})
}

func (a *API) listOwnRequests(w http.ResponseWriter, r *http.Request) {
	a.listWith(w, r, requestFilter{ConsumerID: currentUser(r).ID})
}

func (a *API) listAllRequests(w http.ResponseWriter, r *http.Request) {
	a.listWith(w, r, requestFilter{})
}

func (a *API) listAssignments(w http.ResponseWriter, r *http.Request) {
	a.listWith(w, r, requestFilter{AssignedTo: currentUser(r).ID})
}

// loadRequest writes 404 and returns false when the {id} request does not exist.
func (a *API) loadRequest(w http.ResponseWriter, r *http.Request) (faults.FaultRequest, bool) {
	fr, err := a.store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, errNotFound) {
		writeErr(w, &faults.Error{Kind: faults.ErrNotFound, Message: "Fault request not found"})
		return faults.FaultRequest{}, false
	}
	if err != nil {
		a.fail(w, "get fault request", err)
		return faults.FaultRequest{}, false
	}
	return fr, true
}

func (a *API) getOwnRequest(w http.ResponseWriter, r *http.Request) {
	fr, ok := a.loadRequest(w, r)
	if !ok {
		return
	}
	if fr.ConsumerID != currentUser(r).ID {
		writeErr(w, faults.Forbiddenf("Not authorized to view this request"))
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

func (a *API) getAnyRequest(w http.ResponseWriter, r *http.Request) {
	fr, ok := a.loadRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

func (a *API) cancelRequest(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	fr, ok := a.loadRequest(w, r)
	if !ok {
		return
	}
	if fr.ConsumerID != u.ID {
		writeErr(w, faults.Forbiddenf("Not authorized to cancel this request"))
		return
	}
	if fr.Status != faults.StatusOpen {
		writeErr(w, faults.Conflictf("Only open requests can be cancelled"))
		return
	}
	if err := a.store.UpdateStatus(r.Context(), fr.ID, faults.StatusOpen, faults.StatusClosed, ""); err != nil {
		a.failStale(w, "cancel fault request", err)
		return
	}
	a.publish(events.RequestCancelled, fr.ID, u.ID, faults.StatusClosed)
	writeJSON(w, http.StatusOK, ackResp{Message: "Fault request cancelled"})
}

// updateStatus handles both accepting an open request and moving an assigned one forward.
func (a *API) updateStatus(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	var req updateStatusReq
	if !decode(w, r, &req) {
		return
	}
	fr, ok := a.loadRequest(w, r)
	if !ok {
		return
	}
	if err := faults.CheckTransition(fr.Status, req.Status); err != nil {
		writeErr(w, err)
		return
	}

	assignee := ""
	if req.Status == faults.StatusAssigned {
		if req.AssignedTo != "" && req.AssignedTo != u.ID {
			writeErr(w, faults.Forbiddenf("Electricians can only assign requests to themselves"))
			return
		}
		assignee = u.ID
	} else if fr.AssignedTo != u.ID {
		writeErr(w, faults.Forbiddenf("Fault request is not assigned to you"))
		return
	}

	if err := a.store.UpdateStatus(r.Context(), fr.ID, fr.Status, req.Status, assignee); err != nil {
		a.failStale(w, "update fault request", err)
		return
	}
	a.publish(kindFor(req.Status), fr.ID, u.ID, req.Status)
	writeJSON(w, http.StatusOK, ackResp{Message: "Fault request updated successfully"})
}

func kindFor(s faults.Status) events.Kind {
	switch s {
	case faults.StatusAssigned:
		return events.RequestAccepted
	case faults.StatusInProgress:
		return events.RequestStarted
	case faults.StatusResolved:
		return events.SessionCompleted
	default:
		return events.RequestClosed
	}
}

// --------------------
// Chat
// --------------------

type sendMessageReq struct {
	RequestID string `json:"request_id"`
	Content   string `json:"content"`
}

type messagesResp struct {
	Messages []faults.ChatMessage `json:"messages"`
	Total    int                  `json:"total"`
}

// chatAllowed reports whether u is the owning consumer or the assigned field worker.
func chatAllowed(u userRecord, fr faults.FaultRequest) bool {
	if u.Role == faults.RoleConsumer {
		return fr.ConsumerID == u.ID
	}
	return u.Role.FieldWorker() && fr.AssignedTo == u.ID
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	var req sendMessageReq
	if !decode(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeErr(w, faults.Validationf("Message content is required"))
		return
	}
	fr, err := a.store.GetRequest(r.Context(), req.RequestID)
	if errors.Is(err, errNotFound) {
		writeErr(w, &faults.Error{Kind: faults.ErrNotFound, Message: "Fault request not found"})
		return
	}
	if err != nil {
		a.fail(w, "send message", err)
		return
	}
	if !chatAllowed(u, fr) {
		writeErr(w, faults.Forbiddenf("Not authorized to message in this request"))
		return
	}
	m, err := a.store.InsertMessage(r.Context(), faults.ChatMessage{
		RequestID: fr.ID, SenderID: u.ID, SenderRole: u.Role, Content: req.Content,
	})
	if err != nil {
		a.fail(w, "send message", err)
		return
	}
	a.publish(events.MessageSent, fr.ID, u.ID, "")
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	fr, ok := a.loadRequest(w, r)
	if !ok {
		return
	}
	if !chatAllowed(currentUser(r), fr) {
		writeErr(w, faults.Forbiddenf("Not authorized to view this conversation"))
		return
	}
	msgs, err := a.store.ListMessages(r.Context(), fr.ID)
	if err != nil {
		a.fail(w, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, messagesResp{Messages: msgs, Total: len(msgs)})
}

// --------------------
// helpers
// --------------------

func (a *API) publish(kind events.Kind, requestID, actorID string, status faults.Status) {
	a.bus.Publish(events.Event{Kind: kind, RequestID: requestID, ActorID: actorID, Status: status})
}

// fail answers err when it belongs to the taxonomy and logs anything else as a 500.
func (a *API) fail(w http.ResponseWriter, op string, err error) {
	var fe *faults.Error
	if errors.As(err, &fe) {
		writeErr(w, err)
		return
	}
	a.logger.Error(op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal server error"})
}

// failStale turns a lost conditional update into 409.
func (a *API) failStale(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, errStale) {
		writeErr(w, faults.Conflictf("Fault request was modified by someone else"))
		return
	}
	a.fail(w, op, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, faults.Validationf("invalid json"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, faults.StatusOf(err), map[string]string{"detail": err.Error()})
}
