package wizard

import (
	"context"
	"sync"
	"time"

	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
)

// SessionStore persists in-progress wizard sessions. Idle sessions past the
// TTL are discarded with no side effects; committed tips are unaffected by
// session expiry.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Find(ctx context.Context, wid id.WizardID) (*Session, error)
	Delete(ctx context.Context, wid id.WizardID) error
}

// InMemorySessionStore keeps wizard sessions in process memory with lazy TTL
// eviction. It is the default for tests and single-node development.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	clock    func() time.Time
	sessions map[id.WizardID]memorySession
}

type memorySession struct {
	session  Session
	deadline time.Time
}

func NewInMemorySessionStore(ttl time.Duration) *InMemorySessionStore {
	return &InMemorySessionStore{
		ttl:      ttl,
		clock:    time.Now,
		sessions: make(map[id.WizardID]memorySession),
	}
}

// WithSessionClock overrides the clock, for expiry tests.
func (s *InMemorySessionStore) WithSessionClock(clock func() time.Time) *InMemorySessionStore {
	s.clock = clock
	return s
}

func (s *InMemorySessionStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	cp.Recorded = make(map[int]StepInput, len(sess.Recorded))
	for k, v := range sess.Recorded {
		cp.Recorded[k] = v
	}
	s.sessions[sess.ID] = memorySession{session: cp, deadline: s.clock().Add(s.ttl)}
	return nil
}

func (s *InMemorySessionStore) Find(_ context.Context, wid id.WizardID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.sessions[wid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if s.clock().After(ms.deadline) {
		delete(s.sessions, wid)
		return nil, sentinel.ErrExpired
	}
	cp := ms.session
	cp.Recorded = make(map[int]StepInput, len(ms.session.Recorded))
	for k, v := range ms.session.Recorded {
		cp.Recorded[k] = v
	}
	return &cp, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, wid id.WizardID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, wid)
	return nil
}
