package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/54b3r/docchat-go/internal/logging"
)

// ErrNotFound is returned for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Factory builds the Session for a freshly allocated ID.
type Factory func(ctx context.Context, id string) (*Session, error)

// Manager keeps server-side sessions keyed by UUID. Sessions are never
// shared between IDs.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  Factory
}

// NewManager returns an empty Manager that creates sessions with factory.
func NewManager(factory Factory) *Manager {
	return &Manager{sessions: make(map[string]*Session), factory: factory}
}

// Create allocates a new session.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	s, err := m.factory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	logging.FromContext(ctx).Info("session: created", slog.String("session", id))
	return s, nil
}

// Get returns the session for id or ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// Delete clears the session and forgets it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err := s.Clear(ctx); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("session: deleted", slog.String("session", id))
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Each calls fn for every live session. fn must not call back into m.
func (m *Manager) Each(fn func(*Session)) {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()
	for _, s := range list {
		fn(s)
	}
}

// Close clears every session on shutdown. Session IDs are not reused across
// processes, so their indexes, persisted collections and histories could
// never be reopened and are discarded like a delete.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	list := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for id, s := range list {
		if err := s.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	if len(list) > 0 {
		logging.FromContext(ctx).Info("session: cleared on shutdown", slog.Int("sessions", len(list)))
	}
	return errors.Join(errs...)
}
