package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Venkie07/kyla-api/pkg/llm"
)

const (
	// DefaultSessionID names the conversation used when a caller supplies none.
	DefaultSessionID = "default"

	// DefaultMaxSessions caps how many conversations a store keeps.
	DefaultMaxSessions = 1000
)

// Session is one conversation: its buffer plus a lock that serializes whole
// turns so concurrent requests never interleave their messages.
type Session struct {
	ID     string
	Buffer *Buffer

	turn     chan struct{}
	lastUsed uint64
}

func newSession(id, seed string, maxMessages int) *Session {
	return &Session{
		ID:     id,
		Buffer: NewBuffer(seed, maxMessages),
		turn:   make(chan struct{}, 1),
	}
}

// Lock waits for exclusive use of the session or for ctx to end.
func (s *Session) Lock(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases a lock taken by Lock.
func (s *Session) Unlock() {
	<-s.turn
}

func (s *Session) busy() bool {
	return len(s.turn) > 0
}

// Store maps session identifiers to sessions, creating them on first use.
// Once it holds maxSessions sessions, creating another evicts the least
// recently used one, preferring sessions with no turn in flight. The default
// session is never evicted.
type Store struct {
	mu          sync.Mutex
	seed        string
	maxMessages int
	maxSessions int
	clock       uint64
	sessions    map[string]*Session
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxSessions sets the session cap. Non-positive values keep
// DefaultMaxSessions.
func WithMaxSessions(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// NewStore creates an empty store whose sessions share seed and maxMessages.
func NewStore(seed string, maxMessages int, opts ...StoreOption) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	s := &Store{
		seed:        seed,
		maxMessages: maxMessages,
		maxSessions: DefaultMaxSessions,
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxSessions returns the session cap.
func (s *Store) MaxSessions() int {
	return s.maxSessions
}

// SeedMessages returns the conversation a session starts with.
func (s *Store) SeedMessages() []llm.Message {
	return []llm.Message{llm.SystemMessage(s.seed)}
}

// ResolveID maps the empty id to DefaultSessionID.
func ResolveID(id string) string {
	if id == "" {
		return DefaultSessionID
	}
	return id
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Get returns the session for id, creating it if needed. The empty id
// resolves to DefaultSessionID.
func (s *Store) Get(id string) *Session {
	id = ResolveID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		s.evictLocked()
		sess = newSession(id, s.seed, s.maxMessages)
		s.sessions[id] = sess
	}
	s.clock++
	sess.lastUsed = s.clock
	return sess
}

// Lookup returns the session for id without creating it.
func (s *Store) Lookup(id string) (*Session, bool) {
	id = ResolveID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

// Reset returns the session for id to its seeded state. Unknown sessions are
// already in that state and are not created; Reset reports whether the
// session existed.
func (s *Store) Reset(id string) bool {
	sess, ok := s.Lookup(id)
	if ok {
		sess.Buffer.Reset()
	}
	return ok
}

// evictLocked makes room for one more session. s.mu must be held.
func (s *Store) evictLocked() {
	for len(s.sessions) >= s.maxSessions {
		victim := s.oldestLocked(false)
		if victim == nil {
			victim = s.oldestLocked(true)
		}
		if victim == nil {
			return
		}
		delete(s.sessions, victim.ID)
	}
}

func (s *Store) oldestLocked(includeBusy bool) *Session {
	var oldest *Session
	for id, sess := range s.sessions {
		if id == DefaultSessionID || (!includeBusy && sess.busy()) {
			continue
		}
		if oldest == nil || sess.lastUsed < oldest.lastUsed {
			oldest = sess
		}
	}
	return oldest
}

// Delete forgets a session. It reports whether the session existed.
func (s *Store) Delete(id string) bool {
	id = ResolveID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// IDs lists known session identifiers in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
