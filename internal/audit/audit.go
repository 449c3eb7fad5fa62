package audit

import (
	"context"
	"sync"
	"time"

	id "tipline/pkg/domain"
)

// Action names the lifecycle events worth keeping a trail of. Tip content
// never appears here; the trail records who moved which tip when, nothing
// about what the tip says.
type Action string

const (
	ActionPostpone      Action = "tip_postponed"
	ActionPostponeBatch Action = "tip_postpone_batch"
	ActionDelete        Action = "tip_deleted"
	ActionExpire        Action = "tip_expired"
	ActionExport        Action = "tip_exported"
)

// Event is emitted from lifecycle logic. Keep it transport-agnostic so stores
// and sinks can fan out.
type Event struct {
	Action    Action
	TipID     id.TipID
	ActorID   id.RecipientID // zero for system actions (expiry sweep)
	Timestamp time.Time
	Detail    string
}

// Store is an append-only event sink.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByTip(ctx context.Context, tipID id.TipID) ([]Event, error)
}

// InMemoryStore keeps the trail in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.TipID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.TipID][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.TipID] = append(s.events[event.TipID], event)
	return nil
}

func (s *InMemoryStore) ListByTip(_ context.Context, tipID id.TipID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[tipID]...), nil
}
