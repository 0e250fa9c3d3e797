package session

import (
	"sort"
	"sync"
	"time"
)

// Store persists sessions and their messages.
type Store interface {
	CreateSession(s *Session) error
	// GetSession returns ErrNotFound for unknown ids.
	GetSession(id string) (*Session, error)
	// AddMessage returns ErrNotFound when the session does not exist.
	AddMessage(m *Message) error
	// ListMessages returns messages oldest first.
	ListMessages(sessionID string) ([]Message, error)
	// DeleteExpired removes every session with ExpiresAt before now,
	// together with its messages, and reports how many were removed.
	DeleteExpired(now time.Time) (int, error)
	Close() error
}

// MemoryStore keeps everything in maps. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
	}
}

func (m *MemoryStore) CreateSession(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) AddMessage(msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *MemoryStore) ListMessages(sessionID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Message, len(m.messages[sessionID]))
	copy(out, m.messages[sessionID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteExpired(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(m.sessions, id)
			delete(m.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
