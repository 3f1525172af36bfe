// Package chatsync keeps a local copy of a fault request's conversation in step with the backend
// by polling. Each cycle fetches the whole conversation and replaces the local copy only when the
// ordered list of message ids changed.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"voltguard/internal/events"
	"voltguard/internal/faults"
	"voltguard/internal/metrics"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultInitialDelay = 500 * time.Millisecond
)

var ErrStopped = errors.New("chat loop stopped")

// Fetcher is the slice of the backend the loop needs. *apiclient.Client implements it.
type Fetcher interface {
	ListMessages(ctx context.Context, requestID string) ([]faults.ChatMessage, error)
	SendMessage(ctx context.Context, requestID, content string) (faults.ChatMessage, error)
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	// StateTerminated means the request vanished; the loop will not poll again.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Update describes the outcome of a reconciliation that the view should react to.
type Update struct {
	RequestID string
	// Messages is the loop's current list. It is shared, callers must not modify it.
	Messages []faults.ChatMessage
	// Replaced is false when the fetched id list matched the local one and nothing was swapped.
	Replaced bool
	// ScrollToLatest is set on the first successful reconciliation and whenever the list grew.
	ScrollToLatest bool
	Version        uint64
}

type Options struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Logger       *slog.Logger
	// OnUpdate runs on the polling goroutine while the cycle still holds the loop. It must not call
	// SendMessage or Reconcile synchronously.
	OnUpdate     func(Update)
	OnTerminated func(requestID string, err error)
	// Bus, when set, receives a MessageSent event for every message sent through the loop.
	Bus          *events.Bus
	ActorID      string
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	} else if o.InitialDelay == 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type Loop struct {
	requestID string
	fetcher   Fetcher
	opts      Options
	logger    *slog.Logger

	// cycleMu keeps scheduled and post-send reconciliations from overlapping.
	cycleMu sync.Mutex

	mu          sync.Mutex
	state       State
	gen         uint64
	started     bool
	cancel      context.CancelFunc
	messages    []faults.ChatMessage
	fingerprint []string
	version     uint64
	initialized bool
	lastCount   int
	err         error

	done     chan struct{}
	doneOnce sync.Once
}

func New(requestID string, f Fetcher, opts Options) *Loop {
	opts = opts.withDefaults()
	return &Loop{
		requestID: requestID,
		fetcher:   f,
		opts:      opts,
		logger:    opts.Logger.With("request_id", requestID),
		done:      make(chan struct{}),
	}
}

func (l *Loop) RequestID() string { return l.requestID }

// Start begins periodic reconciliation: one cycle after the initial delay, then one per interval,
// counted from the end of the previous cycle.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateRunning:
		l.mu.Unlock()
		return nil
	case StateStopped, StateTerminated:
		l.mu.Unlock()
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.state = StateRunning
	l.started = true
	gen := l.gen
	l.mu.Unlock()

	metrics.ActiveChatLoops.Inc()
	go l.run(ctx, gen)
	return nil
}

func (l *Loop) run(ctx context.Context, gen uint64) {
	defer func() {
		metrics.ActiveChatLoops.Dec()
		l.closeDone()
	}()

	timer := time.NewTimer(l.opts.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			if l.gen == gen && l.state == StateRunning {
				l.state = StateStopped
				l.gen++
			}
			l.mu.Unlock()
			return
		case <-timer.C:
		}

		_, err := l.reconcile(ctx, gen, false)
		if errors.Is(err, ErrStopped) || errors.Is(err, faults.ErrNotFound) {
			return
		}
		timer.Reset(l.opts.Interval)
	}
}

// Stop cancels the timer and any in-flight cycle. Results of cycles that were already running are
// dropped. Stop is idempotent and does not wait; use Done to wait for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state == StateStopped || l.state == StateTerminated {
		l.mu.Unlock()
		return
	}
	l.state = StateStopped
	l.gen++
	cancel, started := l.cancel, l.started
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		l.closeDone()
	}
}

// Done is closed once the loop has stopped or terminated and its goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) closeDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err is the error that terminated the loop, nil otherwise.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Messages returns the current list. The slice is shared and must not be modified.
func (l *Loop) Messages() []faults.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.messages
}

// Version increments every time the local list is replaced.
func (l *Loop) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Reconcile runs one cycle now, outside the timer.
func (l *Loop) Reconcile(ctx context.Context) (Update, error) {
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()
	return l.reconcile(ctx, gen, false)
}

// SendMessage posts text to the conversation and then refreshes the local list unconditionally,
// so the sender sees the message without waiting for the next tick. A failed send is returned
// untouched; a failed refresh after a successful send is only logged.
func (l *Loop) SendMessage(ctx context.Context, text string) (faults.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return faults.ChatMessage{}, faults.Validationf("message is empty")
	}

	l.mu.Lock()
	state, gen := l.state, l.gen
	l.mu.Unlock()
	if state == StateStopped || state == StateTerminated {
		return faults.ChatMessage{}, ErrStopped
	}

	msg, err := l.fetcher.SendMessage(ctx, l.requestID, text)
	if err != nil {
		return faults.ChatMessage{}, err
	}
	l.opts.Bus.Publish(events.Event{Kind: events.MessageSent, RequestID: l.requestID, ActorID: l.opts.ActorID})

	if _, err := l.reconcile(ctx, gen, true); err != nil && !errors.Is(err, ErrStopped) {
		l.logger.Warn("refresh after send failed", "error", err)
	}
	return msg, nil
}

func (l *Loop) applicable(gen uint64) bool {
	return l.gen == gen && l.state != StateStopped && l.state != StateTerminated
}

func (l *Loop) reconcile(ctx context.Context, gen uint64, force bool) (Update, error) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	l.mu.Lock()
	ok := l.applicable(gen)
	l.mu.Unlock()
	if !ok {
		return Update{}, ErrStopped
	}

	msgs, err := l.fetcher.ListMessages(ctx, l.requestID)

	l.mu.Lock()
	if !l.applicable(gen) {
		l.mu.Unlock()
		metrics.ChatCycles.WithLabelValues(metrics.CycleDiscarded).Inc()
		return Update{}, ErrStopped
	}
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			l.terminateLocked(err)
			l.mu.Unlock()
			metrics.ChatCycles.WithLabelValues(metrics.CycleNotFound).Inc()
			l.logger.Warn("request not found, stopping message polling")
			if l.opts.OnTerminated != nil {
				l.opts.OnTerminated(l.requestID, err)
			}
			return Update{}, err
		}
		l.mu.Unlock()
		metrics.ChatCycles.WithLabelValues(metrics.CycleError).Inc()
		l.logger.Warn("fetch messages failed", "error", err)
		return Update{}, err
	}

	fp := faults.Fingerprint(msgs)
	replaced := force || !slices.Equal(fp, l.fingerprint)
	if replaced {
		l.messages = msgs
		l.fingerprint = fp
		l.version++
	}
	scroll := !l.initialized || len(msgs) > l.lastCount
	l.initialized = true
	l.lastCount = len(msgs)

	up := Update{
		RequestID:      l.requestID,
		Messages:       l.messages,
		Replaced:       replaced,
		ScrollToLatest: scroll,
		Version:        l.version,
	}
	l.mu.Unlock()

	if replaced {
		metrics.ChatCycles.WithLabelValues(metrics.CycleReplaced).Inc()
	} else {
		metrics.ChatCycles.WithLabelValues(metrics.CycleUnchanged).Inc()
	}
	if (replaced || scroll) && l.opts.OnUpdate != nil {
		l.opts.OnUpdate(up)
	}
	return up, nil
}

func (l *Loop) terminateLocked(err error) {
	l.state = StateTerminated
	l.err = err
	l.gen++
	if l.cancel != nil {
		l.cancel()
	}
	if !l.started {
		l.closeDone()
	}
}
