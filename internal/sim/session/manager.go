// internal/sim/session/manager.go
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/kb"
)

// Manager owns every open session of a process. Sessions are independent;
// the manager only indexes them and relays case book changes.
type Manager struct {
	cases *kb.CaseBook
	opts  []Option
	log   logging.Logger

	// onCount is told the number of open sessions after every change.
	onCount func(int)

	mu       sync.RWMutex
	sessions map[string]*Session

	unsubscribe func()
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithSessionOptions sets options applied to every session the manager
// starts, before any per-call options.
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.opts = append(m.opts, opts...) }
}

// WithManagerLogger sets the manager logger. Sessions inherit it unless a
// session option overrides it.
func WithManagerLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSessionCountHook registers a callback receiving the open-session count.
func WithSessionCountHook(fn func(int)) ManagerOption {
	return func(m *Manager) { m.onCount = fn }
}

// NewManager builds a manager that starts sessions from cases.
func NewManager(cases *kb.CaseBook, opts ...ManagerOption) *Manager {
	m := &Manager{
		cases:    cases,
		log:      logging.Noop(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.unsubscribe = cases.Subscribe(m.onCaseEvent)
	return m
}

// Cases returns the case book backing the manager.
func (m *Manager) Cases() *kb.CaseBook { return m.cases }

// Start looks up caseID and starts a new session for it. An unknown case
// fails with kb.ErrCaseNotFound and creates nothing.
func (m *Manager) Start(ctx context.Context, caseID string, opts ...Option) (*Session, error) {
	ctx, log := logging.WithRequestLogger(ctx, m.log)

	c, err := m.cases.Get(caseID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	all := make([]Option, 0, len(m.opts)+len(opts)+1)
	all = append(all, WithLogger(m.log))
	all = append(all, m.opts...)
	all = append(all, opts...)
	s, err := New(c, all...)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.reportCount(n)

	log.Info(ctx, "session opened", logging.Session(s.ID(), caseID)...)
	return s, nil
}

// Get returns the open session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns open sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Close stops and forgets one session.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}

	s.Close()
	m.reportCount(n)
	logging.FromContextOr(ctx, m.log).Info(ctx, "session closed", logging.SessionID(id))
	return nil
}

// CloseAll stops every session and detaches from the case book.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, s := range sessions {
		s.Close()
	}
	m.reportCount(0)
	if len(sessions) > 0 {
		m.log.Info(ctx, "all sessions closed", logging.Int("count", len(sessions)))
	}
}

// onCaseEvent flags sessions whose case definition changed underneath
// them. Running sessions keep the definition they started with.
func (m *Manager) onCaseEvent(ev kb.Event) {
	var action string
	switch ev.Type {
	case kb.EventCaseReplaced:
		action = "case_replaced"
	case kb.EventCaseRemoved:
		action = "case_removed"
	default:
		return
	}

	m.mu.RLock()
	var affected []*Session
	for _, s := range m.sessions {
		if s.CaseID() == ev.CaseID {
			affected = append(affected, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range affected {
		s.alert(action, "", fmt.Sprintf("case %q changed; session keeps its original definition", ev.CaseID))
	}
}

func (m *Manager) reportCount(n int) {
	if m.onCount != nil {
		m.onCount(n)
	}
}
