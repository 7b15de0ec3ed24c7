package memory

import (
	"errors"
	"sort"
	"sync"

	"github.com/risa-org/cdp/session"
)

// ErrDuplicateKey is returned by Put when a live session already holds
// the key.
var ErrDuplicateKey = errors.New("memory: session key already registered")

// ErrClosed is returned by Put once the store has been closed.
var ErrClosed = errors.New("memory: store closed")

// Store is a thread-safe registry of the sessions one connection owns,
// keyed by remote session key. The root session is never stored.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	closed   bool
}

// New creates an empty store.
func New() *Store {
	return &Store{sessions: make(map[string]*session.Session)}
}

// Put registers sess under its key.
func (s *Store) Put(sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, exists := s.sessions[sess.Key()]; exists {
		return ErrDuplicateKey
	}
	s.sessions[sess.Key()] = sess
	return nil
}

// Get retrieves a session by key.
// Returns false if the session does not exist.
func (s *Store) Get(key string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	return sess, ok
}

// ByTarget returns the sessions attached to targetID.
func (s *Store) ByTarget(targetID string) []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.TargetID() == targetID {
			out = append(out, sess)
		}
	}
	sortByKey(out)
	return out
}

// Delete removes a session from the store. It only removes sess itself,
// never a later session that reused the key.
func (s *Store) Delete(sess *session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[sess.Key()]; !ok || cur != sess {
		return false
	}
	delete(s.sessions, sess.Key())
	return true
}

// All returns every stored session ordered by key.
func (s *Store) All() []*session.Session {
	s.mu.RLock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sortByKey(out)
	return out
}

// Close stops the store accepting sessions and returns the ones it held,
// ordered by key. Every session Put before Close is in the result. Later
// calls return nil.
func (s *Store) Close() []*session.Session {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sortByKey(out)
	return out
}

// Count returns the number of sessions currently in the store.
// Useful for observability and testing.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func sortByKey(list []*session.Session) {
	sort.Slice(list, func(i, j int) bool { return list[i].Key() < list[j].Key() })
}
