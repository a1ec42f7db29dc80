// Package sessions stores per-conversation message history, durable through
// a pluggable Store (JSON files by default, Postgres when configured).
package sessions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Leavesfly/TinyClaw-sub001/internal/providers"
)

// Session is one persisted conversation. Mutated only through Manager
// methods; persisted after each agent turn.
type Session struct {
	Key      string              `json:"key"`
	Messages []providers.Message `json:"messages"`
	Summary  string              `json:"summary,omitempty"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`
}

// Manager handles session lifecycle, lookup, and persistence. It is the
// write-through cache in front of its Store: reads are served from memory,
// Save pushes a snapshot down. Safe for concurrent use; one mutex
// serialises all mutations.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	store    Store
}

// NewManager creates a manager persisting to one JSON file per session
// under the given directory. An empty storage path makes the manager
// memory-only (tests, demo runs).
func NewManager(storage string) *Manager {
	if storage == "" {
		return NewManagerWithStore(nil)
	}
	st, err := NewFileStore(storage)
	if err != nil {
		slog.Warn("sessions.storage_unavailable", "dir", storage, "error", err)
		return NewManagerWithStore(nil)
	}
	return NewManagerWithStore(st)
}

// NewManagerWithStore creates a manager over an arbitrary Store (nil for
// memory-only) and eagerly loads every persisted session.
func NewManagerWithStore(st Store) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		store:    st,
	}
	if st == nil {
		return m
	}
	loaded, err := st.LoadAll()
	if err != nil {
		slog.Warn("sessions.load_failed", "error", err)
		return m
	}
	for i := range loaded {
		s := loaded[i]
		m.sessions[s.Key] = &s
	}
	if len(loaded) > 0 {
		slog.Info("sessions.loaded", "count", len(loaded))
	}
	return m
}

// GetOrCreate returns an existing session or lazily creates one.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s
	}
	now := time.Now()
	s := &Session{
		Key:      key,
		Messages: []providers.Message{},
		Created:  now,
		Updated:  now,
	}
	m.sessions[key] = s
	return s
}

// Append adds a message to a session, creating the session if needed.
func (m *Manager) Append(key string, msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		s = &Session{Key: key, Messages: []providers.Message{}, Created: now}
		m.sessions[key] = s
	}
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now()
}

// History returns a copy of the message history.
func (m *Manager) History(key string) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// GetSummary returns the session summary, empty if none.
func (m *Manager) GetSummary(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.Summary
	}
	return ""
}

// SetSummary replaces the session summary.
func (m *Manager) SetSummary(key, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Summary = summary
		s.Updated = time.Now()
	}
}

// Truncate keeps only the last keepLast messages; keepLast <= 0 clears all.
func (m *Manager) Truncate(key string, keepLast int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return
	}
	if keepLast <= 0 {
		s.Messages = []providers.Message{}
	} else if len(s.Messages) > keepLast {
		s.Messages = s.Messages[len(s.Messages)-keepLast:]
	}
	s.Updated = time.Now()
}

// Reset clears history and summary but keeps the session.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Messages = []providers.Message{}
		s.Summary = ""
		s.Updated = time.Now()
	}
}

// Delete removes a session and its persisted copy.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	if m.store != nil {
		return m.store.Delete(key)
	}
	return nil
}

// Keys returns all session keys, order unspecified.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	return keys
}

// SessionInfo is a lightweight descriptor for listing.
type SessionInfo struct {
	Key          string    `json:"key"`
	MessageCount int       `json:"messageCount"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// List returns metadata for every session.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]SessionInfo, 0, len(m.sessions))
	for key, s := range m.sessions {
		result = append(result, SessionInfo{
			Key:          key,
			MessageCount: len(s.Messages),
			Created:      s.Created,
			Updated:      s.Updated,
		})
	}
	return result
}

// Save pushes a snapshot of the session through to the store. Memory-only
// managers treat it as a no-op.
func (m *Manager) Save(key string) error {
	if m.store == nil {
		return nil
	}

	m.mu.RLock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := Session{
		Key:     s.Key,
		Summary: s.Summary,
		Created: s.Created,
		Updated: s.Updated,
	}
	snapshot.Messages = make([]providers.Message, len(s.Messages))
	copy(snapshot.Messages, s.Messages)
	m.mu.RUnlock()

	return m.store.Save(snapshot)
}
