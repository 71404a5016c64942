package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned when a session id is not live.
type ErrSessionNotFound struct{ ID string }

func (e *ErrSessionNotFound) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

// ErrMaxSessionsReached is returned when the registry is at capacity.
type ErrMaxSessionsReached struct{ Limit int }

func (e *ErrMaxSessionsReached) Error() string {
	return fmt.Sprintf("max sessions (%d) reached", e.Limit)
}

// SizeObserver receives the registry size after every change.
type SizeObserver interface {
	SetSessions(n int)
}

type entry struct {
	sess       Session
	createdAt  time.Time
	lastActive time.Time
}

// Manager is the process-wide registry of live sessions.
type Manager struct {
	sessions    map[string]*entry
	mu          sync.RWMutex
	factory     Factory
	newID       func() string
	maxSessions int
	idleTTL     time.Duration
	observer    SizeObserver
	logger      zerolog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxSessions caps the number of live sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(m *Manager) { m.maxSessions = n }
}

// WithIdleTTL evicts sessions that have not been used for d. Zero disables eviction.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) { m.idleTTL = d }
}

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// WithObserver reports registry size changes, typically to a metrics gauge.
func WithObserver(o SizeObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a registry that builds sessions with factory.
// When an idle TTL is configured a cleanup goroutine is started; call Stop to end it.
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*entry),
		factory:     factory,
		newID:       uuid.NewString,
		logger:      zerolog.Nop(),
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.idleTTL > 0 {
		go m.cleanupLoop()
	}
	return m
}

// Create builds a new session under a fresh, unique id and registers it.
// The collaborator is constructed outside the lock; if the id was taken in
// the meantime a new one is drawn.
func (m *Manager) Create(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id, err := m.reserveCandidate()
		if err != nil {
			return "", err
		}

		sess, err := m.factory(id)
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}

		inserted, err := m.insert(id, sess)
		if err != nil {
			return "", err
		}
		if inserted {
			m.logger.Debug().Str("session_id", id).Msg("session created")
			return id, nil
		}
	}
}

// reserveCandidate draws ids until one is absent from the registry and checks capacity.
func (m *Manager) reserveCandidate() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return "", &ErrMaxSessionsReached{Limit: m.maxSessions}
	}
	for {
		id := m.newID()
		if _, exists := m.sessions[id]; !exists {
			return id, nil
		}
	}
}

func (m *Manager) insert(id string, sess Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return false, nil
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return false, &ErrMaxSessionsReached{Limit: m.maxSessions}
	}

	now := time.Now()
	m.sessions[id] = &entry{sess: sess, createdAt: now, lastActive: now}
	m.reportLocked()
	return true, nil
}

// Get returns the live session for id.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, &ErrSessionNotFound{ID: id}
	}
	return e.sess, nil
}

// Touch marks the session as used now. Unknown ids are ignored.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.lastActive = time.Now()
	}
}

// End removes the session. Bridges already holding the Session keep running.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return &ErrSessionNotFound{ID: id}
	}
	delete(m.sessions, id)
	m.reportLocked()
	m.logger.Debug().Str("session_id", id).Msg("session ended")
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
}

func (m *Manager) cleanupLoop() {
	interval := m.idleTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = m.idleTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle(time.Now())
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Manager) reapIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	reaped := 0
	for id, e := range m.sessions {
		if now.Sub(e.lastActive) > m.idleTTL {
			delete(m.sessions, id)
			reaped++
			m.logger.Info().Str("session_id", id).Dur("idle", now.Sub(e.lastActive)).Msg("idle session evicted")
		}
	}
	if reaped > 0 {
		m.reportLocked()
	}
	return reaped
}

func (m *Manager) reportLocked() {
	if m.observer != nil {
		m.observer.SetSessions(len(m.sessions))
	}
}
