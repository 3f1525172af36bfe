package chatsync

import (
	"context"
	"sync"
)

// Manager owns at most one running loop per request id.
type Manager struct {
	fetcher Fetcher
	opts    Options

	mu    sync.Mutex
	loops map[string]*Loop
}

func NewManager(f Fetcher, opts Options) *Manager {
	return &Manager{fetcher: f, opts: opts, loops: make(map[string]*Loop)}
}

// Start returns the running loop for requestID, starting a new one when there is none or the
// previous one has stopped. A request whose loop terminated on NotFound is not polled again until
// Stop clears it; Start returns the terminating error instead.
func (m *Manager) Start(ctx context.Context, requestID string) (*Loop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loops[requestID]; ok {
		switch l.State() {
		case StateRunning, StateIdle:
			return l, l.Start(ctx)
		case StateTerminated:
			return nil, l.Err()
		}
	}
	l := New(requestID, m.fetcher, m.opts)
	if err := l.Start(ctx); err != nil {
		return nil, err
	}
	m.loops[requestID] = l
	return l, nil
}

func (m *Manager) Get(requestID string) (*Loop, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loops[requestID]
	return l, ok
}

func (m *Manager) Stop(requestID string) {
	m.mu.Lock()
	l, ok := m.loops[requestID]
	delete(m.loops, requestID)
	m.mu.Unlock()
	if ok {
		l.Stop()
	}
}

// StopAll stops every loop and waits for their goroutines to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	loops := make([]*Loop, 0, len(m.loops))
	for id, l := range m.loops {
		loops = append(loops, l)
		delete(m.loops, id)
	}
	m.mu.Unlock()

	for _, l := range loops {
		l.Stop()
	}
	for _, l := range loops {
		<-l.Done()
	}
}
