package session

import (
	"sync"
)

// Session is the bounded conversation log for one identity. Turns live in a
// fixed-capacity ring: when the cap is reached the oldest turn is overwritten,
// so truncation is always oldest-first and never leaves gaps.
type Session struct {
	mu    sync.Mutex
	turns []Turn
	start int
	count int
}

func newSession(capacity int) *Session {
	return &Session{turns: make([]Turn, capacity)}
}

func (s *Session) append(turns ...Turn) {
	for _, t := range turns {
		if s.count < len(s.turns) {
			s.turns[(s.start+s.count)%len(s.turns)] = t
			s.count++
			continue
		}
		s.turns[s.start] = t
		s.start = (s.start + 1) % len(s.turns)
	}
}

// ordered returns the turns oldest-first. Caller must hold s.mu.
func (s *Session) ordered() []Turn {
	out := make([]Turn, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.turns[(s.start+i)%len(s.turns)]
	}
	return out
}

// Turns returns a copy of the session's turns in conversation order.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ordered()
}

// Len returns the number of recorded turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Store maps identities to sessions. Mutations are linearized per key; the
// store-wide lock only guards the map itself, so appends on different
// identities never block each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxTurns int
}

// NewStore creates an empty store whose sessions hold at most maxTurns turns.
func NewStore(maxTurns int) *Store {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Store{
		sessions: make(map[string]*Session),
		maxTurns: maxTurns,
	}
}

// MaxTurns returns the per-session turn cap.
func (st *Store) MaxTurns() int {
	return st.maxTurns
}

// GetOrCreate returns the session for id, creating an empty one on first
// access. Creation is idempotent: concurrent first access by the same
// identity yields the same session.
func (st *Store) GetOrCreate(id Identity) *Session {
	key := id.Key()
	st.mu.RLock()
	sess, ok := st.sessions[key]
	st.mu.RUnlock()
	if ok {
		return sess
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[key]; ok {
		return sess
	}
	sess = newSession(st.maxTurns)
	st.sessions[key] = sess
	return sess
}

// Append atomically appends turns to id's session and enforces the turn cap.
// The append is all-or-nothing relative to Snapshot and other appends on the
// same identity.
func (st *Store) Append(id Identity, turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	sess := st.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.append(turns...)
}

// AppendIfEmpty appends turns only when id's session has no recorded turns
// yet, reporting whether the append happened. Check and append run under the
// session lock, so concurrent first contact by the same identity records the
// turns exactly once.
func (st *Store) AppendIfEmpty(id Identity, turns ...Turn) bool {
	sess := st.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.count != 0 {
		return false
	}
	sess.append(turns...)
	return true
}

// TurnCount returns the number of turns recorded for id without creating a
// session.
func (st *Store) TurnCount(id Identity) int {
	st.mu.RLock()
	sess, ok := st.sessions[id.Key()]
	st.mu.RUnlock()
	if !ok {
		return 0
	}
	return sess.Len()
}

// Recent returns up to n most recent turns for id, oldest-first.
func (st *Store) Recent(id Identity, n int) []Turn {
	st.mu.RLock()
	sess, ok := st.sessions[id.Key()]
	st.mu.RUnlock()
	if !ok || n <= 0 {
		return nil
	}
	turns := sess.Turns()
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

// Snapshot returns a consistent point-in-time copy of every session, keyed by
// the canonical identity string. Each session is copied under its own lock,
// so a concurrent append is either fully visible or not at all.
func (st *Store) Snapshot() map[string][]Turn {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string][]Turn, len(st.sessions))
	for key, sess := range st.sessions {
		out[key] = sess.Turns()
	}
	return out
}

// Load bulk-replaces the store contents. It is intended for startup recovery,
// before concurrent traffic is accepted. Histories longer than the cap keep
// their newest turns.
func (st *Store) Load(data map[string][]Turn) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions = make(map[string]*Session, len(data))
	for key, turns := range data {
		sess := newSession(st.maxTurns)
		if len(turns) > st.maxTurns {
			turns = turns[len(turns)-st.maxTurns:]
		}
		sess.append(turns...)
		st.sessions[key] = sess
	}
}

// Size returns the number of tracked identities.
func (st *Store) Size() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
