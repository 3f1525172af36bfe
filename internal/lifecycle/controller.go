package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"voltguard/internal/apiclient"
	"voltguard/internal/events"
	"voltguard/internal/faults"
	"voltguard/internal/session"
)

// Backend is the part of the REST contract the controller drives. *apiclient.Client implements it.
type Backend interface {
	ListFaultRequests(ctx context.Context, scope apiclient.Scope, status faults.Status) (apiclient.FaultRequestList, error)
	GetFaultRequest(ctx context.Context, role faults.Role, id string) (faults.FaultRequest, error)
	CreateFaultRequest(ctx context.Context, in faults.NewRequest) (faults.FaultRequest, error)
	UpdateFaultRequestStatus(ctx context.Context, id string, status faults.Status, assignedTo string) error
	CancelFaultRequest(ctx context.Context, id string) error
}

type ListOptions struct {
	// Status filters by exact status; empty means unfiltered.
	Status faults.Status
	// Mine restricts field workers to their own assignments. Consumers always see only their own.
	Mine bool
}

// Ack confirms a state change the backend accepted.
type Ack struct {
	ID         string
	Status     faults.Status
	AssignedTo string
}

// Controller presents the requests relevant to the signed-in actor and issues their state
// transitions. It holds a read-mostly copy of the last list it fetched; the backend stays the
// system of record.
type Controller struct {
	backend Backend
	actor   session.User
	bus     *events.Bus
	logger  *slog.Logger

	mu        sync.Mutex
	cached    []faults.FaultRequest
	lastOpts  ListOptions
	dismissed map[string]struct{}
}

func NewController(backend Backend, sess *session.Session, bus *events.Bus, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	var actor session.User
	if sess != nil {
		actor = sess.User
	}
	return &Controller{
		backend:   backend,
		actor:     actor,
		bus:       bus,
		logger:    logger,
		dismissed: make(map[string]struct{}),
	}
}

func (c *Controller) Actor() session.User { return c.actor }

func (c *Controller) requireActor() error {
	if c.actor.ID == "" || !c.actor.Role.Valid() {
		return faults.Authf("no signed-in user")
	}
	return nil
}

func (c *Controller) scope(opts ListOptions) apiclient.Scope {
	if !c.actor.Role.FieldWorker() {
		return apiclient.ScopeOwn
	}
	if opts.Mine {
		return apiclient.ScopeAssigned
	}
	return apiclient.ScopeAll
}

// ListRequests fetches the actor's requests, newest first. Requests the actor dismissed with
// RejectRequest are left out. On failure the cached list is kept and the error returned.
func (c *Controller) ListRequests(ctx context.Context, opts ListOptions) ([]faults.FaultRequest, error) {
	if err := c.requireActor(); err != nil {
		return nil, err
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, faults.Validationf("unknown status filter %q", opts.Status)
	}

	out, err := c.backend.ListFaultRequests(ctx, c.scope(opts), opts.Status)
	if err != nil {
		return nil, fmt.Errorf("list fault requests: %w", err)
	}

	c.mu.Lock()
	items := make([]faults.FaultRequest, 0, len(out.Requests))
	for _, r := range out.Requests {
		if _, ok := c.dismissed[r.ID]; ok && r.Status == faults.StatusOpen {
			continue
		}
		items = append(items, r)
	}
	sortNewestFirst(items)
	c.cached = items
	c.lastOpts = opts
	c.mu.Unlock()

	return items, nil
}

func sortNewestFirst(items []faults.FaultRequest) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// Requests returns the list from the last successful ListRequests.
func (c *Controller) Requests() []faults.FaultRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]faults.FaultRequest, len(c.cached))
	copy(out, c.cached)
	return out
}

// Refresh repeats the last ListRequests query.
func (c *Controller) Refresh(ctx context.Context) ([]faults.FaultRequest, error) {
	c.mu.Lock()
	opts := c.lastOpts
	c.mu.Unlock()
	return c.ListRequests(ctx, opts)
}

func (c *Controller) GetRequest(ctx context.Context, id string) (faults.FaultRequest, error) {
	if err := c.requireActor(); err != nil {
		return faults.FaultRequest{}, err
	}
	r, err := c.backend.GetFaultRequest(ctx, c.actor.Role, id)
	if err != nil {
		return faults.FaultRequest{}, fmt.Errorf("get fault request %s: %w", id, err)
	}
	return r, nil
}

// CreateRequest validates in locally and only then submits it.
func (c *Controller) CreateRequest(ctx context.Context, in faults.NewRequest) (faults.FaultRequest, error) {
	if err := in.Validate(); err != nil {
		return faults.FaultRequest{}, err
	}
	if err := c.requireActor(); err != nil {
		return faults.FaultRequest{}, err
	}
	if c.actor.Role != faults.RoleConsumer {
		return faults.FaultRequest{}, faults.Forbiddenf("only consumers can raise fault requests")
	}

	r, err := c.backend.CreateFaultRequest(ctx, in)
	if err != nil {
		return faults.FaultRequest{}, fmt.Errorf("create fault request: %w", err)
	}
	if r.Status != faults.StatusOpen || r.AssignedTo != "" {
		c.logger.Warn("backend returned a new request that is not open",
			"request_id", r.ID, "status", r.Status, "assigned_to", r.AssignedTo)
	}
	c.publish(events.RequestCreated, r.ID, r.Status)
	return r, nil
}

// AcceptRequest assigns an open request to the signed-in field worker. When the backend refuses
// (typically because someone else won the race) the list is re-fetched so the cache shows the
// winner, and the refusal is returned.
func (c *Controller) AcceptRequest(ctx context.Context, id string) (Ack, error) {
	if err := c.requireFieldWorker(); err != nil {
		return Ack{}, err
	}

	cur, err := c.GetRequest(ctx, id)
	if err != nil {
		return Ack{}, err
	}
	if err := faults.CheckTransition(cur.Status, faults.StatusAssigned); err != nil {
		c.resync(ctx)
		return Ack{}, err
	}

	if err := c.backend.UpdateFaultRequestStatus(ctx, id, faults.StatusAssigned, c.actor.ID); err != nil {
		c.logger.Info("accept refused, refreshing list", "request_id", id, "error", err)
		c.resync(ctx)
		return Ack{}, fmt.Errorf("accept fault request %s: %w", id, err)
	}

	c.mu.Lock()
	delete(c.dismissed, id)
	c.mu.Unlock()
	c.publish(events.RequestAccepted, id, faults.StatusAssigned)
	return Ack{ID: id, Status: faults.StatusAssigned, AssignedTo: c.actor.ID}, nil
}

// RejectRequest hides an open request from this controller's lists. Nothing is sent to the
// backend: the request stays open and other field workers still see it.
func (c *Controller) RejectRequest(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dismissed[id] = struct{}{}
	kept := c.cached[:0:0]
	for _, r := range c.cached {
		if r.ID == id && r.Status == faults.StatusOpen {
			continue
		}
		kept = append(kept, r)
	}
	c.cached = kept
}

func (c *Controller) MarkInProgress(ctx context.Context, id string) (Ack, error) {
	return c.workerTransition(ctx, id, faults.StatusInProgress, events.RequestStarted)
}

// MarkResolved completes the job and announces SessionCompleted.
func (c *Controller) MarkResolved(ctx context.Context, id string) (Ack, error) {
	return c.workerTransition(ctx, id, faults.StatusResolved, events.SessionCompleted)
}

// CloseRequest archives an in-progress or resolved request from the field worker side.
func (c *Controller) CloseRequest(ctx context.Context, id string) (Ack, error) {
	return c.workerTransition(ctx, id, faults.StatusClosed, events.RequestClosed)
}

func (c *Controller) workerTransition(ctx context.Context, id string, to faults.Status, kind events.Kind) (Ack, error) {
	if err := c.requireFieldWorker(); err != nil {
		return Ack{}, err
	}
	cur, err := c.GetRequest(ctx, id)
	if err != nil {
		return Ack{}, err
	}
	if cur.AssignedTo != c.actor.ID {
		return Ack{}, faults.Forbiddenf("request %s is not assigned to you", id)
	}
	if err := faults.CheckTransition(cur.Status, to); err != nil {
		return Ack{}, err
	}
	if err := c.backend.UpdateFaultRequestStatus(ctx, id, to, ""); err != nil {
		return Ack{}, fmt.Errorf("move fault request %s to %s: %w", id, to, err)
	}
	c.publish(kind, id, to)
	return Ack{ID: id, Status: to, AssignedTo: cur.AssignedTo}, nil
}

// CancelRequest withdraws an open request on behalf of the consumer who raised it.
func (c *Controller) CancelRequest(ctx context.Context, id string) (Ack, error) {
	if err := c.requireActor(); err != nil {
		return Ack{}, err
	}
	if c.actor.Role != faults.RoleConsumer {
		return Ack{}, faults.Forbiddenf("only the consumer who raised a request can cancel it")
	}
	cur, err := c.GetRequest(ctx, id)
	if err != nil {
		return Ack{}, err
	}
	if cur.ConsumerID != "" && cur.ConsumerID != c.actor.ID {
		return Ack{}, faults.Forbiddenf("request %s belongs to another consumer", id)
	}
	if cur.Status != faults.StatusOpen {
		return Ack{}, faults.Conflictf("request %s is %s; only open requests can be cancelled", id, cur.Status)
	}
	if err := c.backend.CancelFaultRequest(ctx, id); err != nil {
		return Ack{}, fmt.Errorf("cancel fault request %s: %w", id, err)
	}
	c.publish(events.RequestCancelled, id, faults.StatusClosed)
	return Ack{ID: id, Status: faults.StatusClosed}, nil
}

// ActiveRequest returns the field worker's current job: the newest assigned request, else the
// newest in-progress one. ok is false when there is none.
func (c *Controller) ActiveRequest(ctx context.Context) (r faults.FaultRequest, ok bool, err error) {
	if err := c.requireFieldWorker(); err != nil {
		return faults.FaultRequest{}, false, err
	}
	for _, st := range []faults.Status{faults.StatusAssigned, faults.StatusInProgress} {
		out, err := c.backend.ListFaultRequests(ctx, apiclient.ScopeAssigned, st)
		if err != nil {
			return faults.FaultRequest{}, false, fmt.Errorf("list %s assignments: %w", st, err)
		}
		items := append([]faults.FaultRequest(nil), out.Requests...)
		sortNewestFirst(items)
		if len(items) > 0 {
			return items[0], true, nil
		}
	}
	return faults.FaultRequest{}, false, nil
}

func (c *Controller) requireFieldWorker() error {
	if err := c.requireActor(); err != nil {
		return err
	}
	if !c.actor.Role.FieldWorker() {
		return faults.Forbiddenf("only electricians can work fault requests")
	}
	return nil
}

// resync re-fetches the last list after a refused command; its own failure is only logged.
func (c *Controller) resync(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("refresh after refused command failed", "error", err)
	}
}

func (c *Controller) publish(kind events.Kind, id string, status faults.Status) {
	c.bus.Publish(events.Event{Kind: kind, RequestID: id, ActorID: c.actor.ID, Status: status})
}
