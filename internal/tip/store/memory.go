package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"tipline/internal/tip/models"
	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
)

// entry bundles one tip with its thread and its own lock, so mutations on one
// tip never block reads or writes on another.
type entry struct {
	mu       sync.RWMutex
	tip      *models.Tip
	comments []models.Comment
	nextSeq  int
	receipt  string
}

// InMemory keeps tips in process memory. It is the default for tests and
// development; Postgres is the deployment store.
type InMemory struct {
	mu   sync.RWMutex // guards the maps below, not entry contents
	tips map[id.TipID]*entry
	// receipts is the receipt index. Deliberately a separate map from tips so
	// the memory layout mirrors the separate-table requirement of the SQL
	// store.
	receipts map[string]id.TipID
}

func NewInMemory() *InMemory {
	return &InMemory{
		tips:     make(map[id.TipID]*entry),
		receipts: make(map[string]id.TipID),
	}
}

func (s *InMemory) Create(_ context.Context, tip *models.Tip, receipt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.receipts[receipt]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.tips[tip.ID]; exists {
		return sentinel.ErrConflict
	}
	s.tips[tip.ID] = &entry{tip: tip.Clone(), receipt: receipt}
	s.receipts[receipt] = tip.ID
	return nil
}

func (s *InMemory) lookup(tipID id.TipID) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tips[tipID]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *InMemory) Get(_ context.Context, tipID id.TipID) (*models.Tip, error) {
	e, err := s.lookup(tipID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tip.Clone(), nil
}

func (s *InMemory) ResolveReceipt(_ context.Context, receipt string) (id.TipID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tipID, ok := s.receipts[receipt]
	if !ok {
		return id.TipID{}, ErrNotFound
	}
	return tipID, nil
}

func (s *InMemory) ReceiptExists(_ context.Context, receipt string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.receipts[receipt]
	return ok, nil
}

func (s *InMemory) ListFor(_ context.Context, recipient id.RecipientID) ([]*models.Tip, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.tips))
	for _, e := range s.tips {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*models.Tip
	for _, e := range entries {
		e.mu.RLock()
		if e.tip.State != models.StateDeleted && e.tip.IsAssigned(recipient) {
			out = append(out, e.tip.Clone())
		}
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) AppendAttachment(_ context.Context, tipID id.TipID, ref models.AttachmentRef) error {
	e, err := s.lookup(tipID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tip.State == models.StateDeleted {
		return sentinel.ErrInvalidState
	}
	e.tip.Attachments = append(e.tip.Attachments, ref)
	return nil
}

func (s *InMemory) AppendComment(_ context.Context, tipID id.TipID, comment *models.Comment) (*models.Comment, error) {
	e, err := s.lookup(tipID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tip.State == models.StateDeleted {
		return nil, sentinel.ErrInvalidState
	}
	stored := *comment
	stored.TipID = tipID
	stored.Seq = e.nextSeq
	e.nextSeq++
	e.comments = append(e.comments, stored)
	return &stored, nil
}

func (s *InMemory) ListComments(_ context.Context, tipID id.TipID) ([]models.Comment, error) {
	e, err := s.lookup(tipID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	out := append([]models.Comment(nil), e.comments...)
	e.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) UpdateState(_ context.Context, tipID id.TipID, state models.State, expiresAt time.Time) error {
	e, err := s.lookup(tipID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// Last committed transition wins; a concurrent loser re-reads the applied
	// state and re-authorizes against it.
	e.tip.State = state
	e.tip.ExpiresAt = expiresAt
	return nil
}

func (s *InMemory) ListExpired(_ context.Context, now time.Time) ([]id.TipID, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.tips))
	for _, e := range s.tips {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []id.TipID
	for _, e := range entries {
		e.mu.RLock()
		if e.tip.State != models.StateDeleted && !e.tip.ExpiresAt.IsZero() && e.tip.ExpiresAt.Before(now) {
			out = append(out, e.tip.ID)
		}
		e.mu.RUnlock()
	}
	return out, nil
}

func (s *InMemory) ListDeleted(_ context.Context) ([]id.TipID, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.tips))
	for _, e := range s.tips {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []id.TipID
	for _, e := range entries {
		e.mu.RLock()
		if e.tip.State == models.StateDeleted {
			out = append(out, e.tip.ID)
		}
		e.mu.RUnlock()
	}
	return out, nil
}

func (s *InMemory) Purge(_ context.Context, tipID id.TipID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tips[tipID]
	if !ok {
		return ErrNotFound
	}
	delete(s.receipts, e.receipt)
	delete(s.tips, tipID)
	return nil
}
