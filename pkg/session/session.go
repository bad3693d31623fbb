// Package session keeps per-conversation state in memory: the role-tagged
// turn history the generator sees and the project remembered for the
// conversation. The store is bounded by a conversation cap (LRU eviction)
// and a TTL sweep.
package session

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudnav-ai/cloudnav/pkg/ai/providers"
	"github.com/cloudnav-ai/cloudnav/pkg/log"
)

// validID guards IDs supplied by clients. Server-minted UUIDs match it too.
var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Conversation is a snapshot of one conversation's state. Mutation goes
// through the store; snapshots are safe to read concurrently.
type Conversation struct {
	ID        string           `json:"id"`
	Turns     []providers.Turn `json:"turns"`
	Project   string           `json:"project,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type entry struct {
	turns     []providers.Turn
	project   string
	createdAt time.Time
	updatedAt time.Time
}

// Store is the bounded in-memory conversation store.
type Store struct {
	mu       sync.RWMutex
	conns    map[string]*entry
	maxConns int
	ttl      time.Duration
	maxTurns int
}

// New builds a store. maxConversations caps the map with least-recently-used
// eviction, ttl expires idle conversations, maxTurns caps history length per
// conversation (oldest turns are dropped pairwise).
func New(maxConversations int, ttl time.Duration, maxTurns int) *Store {
	if maxConversations < 1 {
		maxConversations = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxTurns < 2 {
		maxTurns = 200
	}
	return &Store{
		conns:    make(map[string]*entry),
		maxConns: maxConversations,
		ttl:      ttl,
		maxTurns: maxTurns,
	}
}

// ValidateID reports whether a client-supplied conversation ID is acceptable.
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid conversation ID")
	}
	return nil
}

// Create mints a new conversation and returns its ID.
func (s *Store) Create() string {
	id := uuid.NewString()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(now)
	s.conns[id] = &entry{createdAt: now, updatedAt: now}
	return id
}

// Get returns a snapshot of the conversation, refreshing its recency. The
// second result is false when the ID is unknown or expired.
func (s *Store) Get(id string) (*Conversation, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conns[id]
	if !ok {
		return nil, false
	}
	if now.Sub(e.updatedAt) > s.ttl {
		delete(s.conns, id)
		return nil, false
	}
	e.updatedAt = now
	return snapshot(id, e), true
}

// GetOrCreate returns the conversation for id, creating it when the ID is
// unknown (a client may resend an ID the TTL already evicted). An empty id
// mints a fresh conversation.
func (s *Store) GetOrCreate(id string) (*Conversation, error) {
	if id == "" {
		newID := s.Create()
		conv, _ := s.Get(newID)
		return conv, nil
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if conv, ok := s.Get(id); ok {
		return conv, nil
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(now)
	s.conns[id] = &entry{createdAt: now, updatedAt: now}
	return snapshot(id, s.conns[id]), nil
}

// AppendTurn appends one turn to the conversation history.
func (s *Store) AppendTurn(id, role, text string) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conns[id]
	if !ok {
		return
	}
	e.turns = append(e.turns, providers.Turn{Role: role, Text: text})
	// Drop oldest turns in pairs so the history keeps starting with a user
	// turn.
	if over := len(e.turns) - s.maxTurns; over > 0 {
		if over%2 != 0 {
			over++
		}
		e.turns = append([]providers.Turn(nil), e.turns[over:]...)
	}
	e.updatedAt = now
}

// SetProject remembers the project for this conversation only.
func (s *Store) SetProject(id, project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.conns[id]; ok {
		e.project = project
		e.updatedAt = time.Now()
	}
}

// Project returns the remembered project for the conversation, if any.
func (s *Store) Project(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.conns[id]; ok {
		return e.project
	}
	return ""
}

// Delete removes a conversation.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// List returns snapshots of all live conversations, without refreshing
// recency.
func (s *Store) List() []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0, len(s.conns))
	for id, e := range s.conns {
		out = append(out, snapshot(id, e))
	}
	return out
}

// Sweep removes expired conversations and returns how many were dropped.
// Wired to a cron schedule so expiry does not rely on reads alone.
func (s *Store) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.conns {
		if now.Sub(e.updatedAt) > s.ttl {
			delete(s.conns, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("session sweep evicted %d expired conversations", removed)
	}
	return removed
}

// evictLocked makes room for one more conversation: expired entries first,
// then the least recently used.
func (s *Store) evictLocked(now time.Time) {
	if len(s.conns) < s.maxConns {
		return
	}
	for id, e := range s.conns {
		if now.Sub(e.updatedAt) > s.ttl {
			delete(s.conns, id)
		}
	}
	for len(s.conns) >= s.maxConns {
		oldestID := ""
		var oldest time.Time
		for id, e := range s.conns {
			if oldestID == "" || e.updatedAt.Before(oldest) {
				oldestID, oldest = id, e.updatedAt
			}
		}
		delete(s.conns, oldestID)
	}
}

func snapshot(id string, e *entry) *Conversation {
	return &Conversation{
		ID:        id,
		Turns:     append([]providers.Turn(nil), e.turns...),
		Project:   e.project,
		CreatedAt: e.createdAt,
		UpdatedAt: e.updatedAt,
	}
}
