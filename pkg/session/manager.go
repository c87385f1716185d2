package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/james-see/audio2midi/pkg/logging"
)

// DefaultTTL is how long an untouched session lives
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned for unknown or expired session IDs
var ErrNotFound = errors.New("session not found")

type entry struct {
	session *Session
	timer   *time.Timer
}

// Manager keeps sessions by ID and closes the ones nobody has touched for TTL
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
	options  func() Options
	logger   *log.Logger
}

// NewManager creates a manager building sessions from options
func NewManager(ttl time.Duration, options func() Options, logger *log.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: map[string]*entry{},
		ttl:      ttl,
		options:  options,
		logger:   logging.OrDefault(logger),
	}
}

// Create starts a new session
func (m *Manager) Create() *Session {
	id := uuid.New().String()
	opts := m.options()
	if opts.Logger == nil {
		opts.Logger = m.logger
	}
	s := New(id, opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &entry{
		session: s,
		timer:   time.AfterFunc(m.ttl, func() { m.expire(id) }),
	}
	m.logger.Debug("session created", "id", id)
	return s
}

// Get returns a session and restarts its expiry timer
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.timer.Reset(m.ttl)
	return e.session, nil
}

// Delete closes and removes a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		e.timer.Stop()
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.session.Close()
	return nil
}

// List returns the sessions sorted by creation time
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close closes every session
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = map[string]*entry{}
	m.mu.Unlock()
	for _, e := range all {
		e.timer.Stop()
		e.session.Close()
	}
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		m.logger.Info("session expired", "id", id)
		e.session.Close()
	}
}
