package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tipline/internal/identity"
	"tipline/internal/tip/models"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
	"tipline/pkg/sentinel"
)

// submitAttempts bounds retries of the commit transaction when the freshly
// issued receipt collides between the issuer's check and the store write.
const submitAttempts = 3

// Config carries the wizard's validation knobs.
type Config struct {
	// MaxAttachments bounds the file references accepted at the attachment
	// step; zero means attachments are not accepted.
	MaxAttachments int
	// RequiredFieldIDs are the content field ids that must be present and
	// non-empty at the content step.
	RequiredFieldIDs []string
	// RetentionWindow sets the initial ExpiresAt of a committed tip.
	RetentionWindow time.Duration
}

// TipCreator is the slice of the tip store the wizard commits through.
type TipCreator interface {
	Create(ctx context.Context, tip *models.Tip, receipt string) error
}

// Service drives the bounded submission state machine. Session state lives in
// the session store; nothing durable exists until Submit commits.
type Service struct {
	cfg      Config
	sessions SessionStore
	tips     TipCreator
	issuer   *identity.Issuer
	clock    func() time.Time

	// locks serializes operations per session id. Sessions are single-owner,
	// but client retries of Submit may race their original request.
	locksMu sync.Mutex
	locks   map[id.WizardID]*sync.Mutex
}

func NewService(cfg Config, sessions SessionStore, tips TipCreator, issuer *identity.Issuer) *Service {
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		tips:     tips,
		issuer:   issuer,
		clock:    time.Now,
		locks:    make(map[id.WizardID]*sync.Mutex),
	}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) lockSession(wid id.WizardID) func() {
	s.locksMu.Lock()
	m, ok := s.locks[wid]
	if !ok {
		m = &sync.Mutex{}
		s.locks[wid] = m
	}
	s.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// evictLock drops a session's lock entry once the session can no longer be
// mutated, keeping the map bounded by live sessions.
func (s *Service) evictLock(wid id.WizardID) {
	s.locksMu.Lock()
	delete(s.locks, wid)
	s.locksMu.Unlock()
}

// Begin opens a fresh wizard session at the recipient selection step.
func (s *Service) Begin(ctx context.Context) (*Session, error) {
	now := s.clock()
	sess := &Session{
		ID:        id.NewWizardID(),
		Step:      StepRecipients,
		Recorded:  make(map[int]StepInput),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not open submission session")
	}
	return sess, nil
}

// Advance validates the input for fromStep and moves the session forward.
// Retrying the same advance with identical input is a no-op returning the
// current session; no duplicate step is recorded.
func (s *Service) Advance(ctx context.Context, wid id.WizardID, fromStep int, input StepInput) (*Session, error) {
	unlock := s.lockSession(wid)
	defer unlock()

	sess, err := s.find(ctx, wid)
	if err != nil {
		return nil, err
	}
	if sess.Committed {
		return nil, dErrors.New(dErrors.CodeAlreadySubmitted, "submission already committed")
	}

	// Identical retry of the previous advance: already recorded, nothing to do.
	if fromStep == sess.Step-1 && inputEqual(fromStep, sess.Recorded[fromStep], input) {
		return sess, nil
	}
	if fromStep != sess.Step {
		return nil, dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("session is at step %d", sess.Step))
	}
	if sess.Step >= StepConfirm {
		return nil, dErrors.New(dErrors.CodeInvalidState, "confirmation step commits via submit")
	}

	recorded, err := s.validateStep(fromStep, input)
	if err != nil {
		return nil, err
	}

	sess.Recorded[fromStep] = recorded
	sess.Step = fromStep + 1
	sess.UpdatedAt = s.clock()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not save submission session")
	}
	return sess, nil
}

// Back moves one step towards the start. Always permitted; recorded inputs,
// including uploaded attachment references, are kept.
func (s *Service) Back(ctx context.Context, wid id.WizardID) (*Session, error) {
	unlock := s.lockSession(wid)
	defer unlock()

	sess, err := s.find(ctx, wid)
	if err != nil {
		return nil, err
	}
	if sess.Committed {
		return nil, dErrors.New(dErrors.CodeAlreadySubmitted, "submission already committed")
	}
	if sess.Step > StepRecipients {
		sess.Step--
		sess.UpdatedAt = s.clock()
		if err := s.sessions.Save(ctx, sess); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not save submission session")
		}
	}
	return sess, nil
}

// SubmitResult is what the whistleblower takes away: the receipt, shown once.
type SubmitResult struct {
	TipID            id.TipID
	Receipt          string
	FormattedReceipt string
}

// Submit commits the wizard in one atomic transaction: validate every recorded
// step server-side, persist the tip, bind the freshly minted receipt. A retry
// after commit returns the original receipt together with AlreadySubmitted
// instead of creating a duplicate.
func (s *Service) Submit(ctx context.Context, wid id.WizardID) (*SubmitResult, error) {
	unlock := s.lockSession(wid)
	defer unlock()

	sess, err := s.find(ctx, wid)
	if err != nil {
		return nil, err
	}
	if sess.Committed {
		s.evictLock(wid)
		return &SubmitResult{
			TipID:            sess.TipID,
			Receipt:          sess.Receipt,
			FormattedReceipt: identity.Format(sess.Receipt),
		}, dErrors.New(dErrors.CodeAlreadySubmitted, "submission already committed")
	}
	if sess.Step != StepConfirm {
		return nil, dErrors.New(dErrors.CodeInvalidState, "submission is not at the confirmation step")
	}

	// Client-asserted step completion is not trusted; every step is
	// re-validated from the recorded inputs.
	for step := StepRecipients; step < StepConfirm; step++ {
		if _, err := s.validateStep(step, sess.Recorded[step]); err != nil {
			return nil, err
		}
	}

	now := s.clock()
	tip := &models.Tip{
		ID:                 id.NewTipID(),
		State:              models.StateOpen,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.cfg.RetentionWindow),
		ContentFields:      sess.fields(),
		Attachments:        sess.attachments(),
		AssignedRecipients: make(map[id.RecipientID]struct{}),
	}
	for _, r := range sess.recipients() {
		tip.AssignedRecipients[r] = struct{}{}
	}

	var receipt string
	for attempt := 0; attempt < submitAttempts; attempt++ {
		receipt, err = s.issuer.Issue(ctx)
		if err != nil {
			return nil, err
		}
		err = s.tips.Create(ctx, tip, receipt)
		if err == nil {
			break
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not commit submission")
		}
		// Receipt raced another commit; mint a new one and try again.
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not commit submission")
	}

	sess.Committed = true
	sess.Receipt = receipt
	sess.TipID = tip.ID
	sess.UpdatedAt = now
	// The tip is durable from here on; a failed session save only costs retry
	// idempotence, and failing the request would prompt the retry that mints a
	// duplicate. The receipt exists nowhere else, so it is returned regardless.
	_ = s.sessions.Save(ctx, sess)
	s.evictLock(wid)

	return &SubmitResult{
		TipID:            tip.ID,
		Receipt:          receipt,
		FormattedReceipt: identity.Format(receipt),
	}, nil
}

// Abandon discards a session. Permitted at any step; no durable state exists
// before commit, so there is nothing else to undo.
func (s *Service) Abandon(ctx context.Context, wid id.WizardID) error {
	unlock := s.lockSession(wid)
	defer unlock()
	if err := s.sessions.Delete(ctx, wid); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "could not discard submission session")
	}
	s.evictLock(wid)
	return nil
}

func (s *Service) find(ctx context.Context, wid id.WizardID) (*Session, error) {
	sess, err := s.sessions.Find(ctx, wid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			s.evictLock(wid)
			return nil, dErrors.New(dErrors.CodeNotFound, "no such submission session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not load submission session")
	}
	return sess, nil
}

// validateStep enforces the per-step constraints and returns the canonical
// recorded form of the input.
func (s *Service) validateStep(step int, input StepInput) (StepInput, error) {
	switch step {
	case StepRecipients:
		if len(input.Recipients) == 0 {
			return StepInput{}, dErrors.New(dErrors.CodeInvalidInput, "select at least one recipient")
		}
		for _, r := range input.Recipients {
			if r.IsNil() {
				return StepInput{}, dErrors.New(dErrors.CodeInvalidInput, "invalid recipient")
			}
		}
		return StepInput{Recipients: dedupRecipients(input.Recipients)}, nil

	case StepContent:
		if len(input.Fields) == 0 {
			return StepInput{}, dErrors.New(dErrors.CodeInvalidInput, "submission content is empty")
		}
		present := make(map[string]bool, len(input.Fields))
		for _, f := range input.Fields {
			if f.Value != "" {
				present[f.FieldID] = true
			}
		}
		for _, required := range s.cfg.RequiredFieldIDs {
			if !present[required] {
				return StepInput{}, dErrors.New(dErrors.CodeInvalidInput, "required field missing: "+required)
			}
		}
		return StepInput{Fields: input.Fields}, nil

	case StepAttachments:
		if len(input.Attachments) > s.cfg.MaxAttachments {
			return StepInput{}, dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("at most %d attachments allowed", s.cfg.MaxAttachments))
		}
		refs := make([]models.AttachmentRef, 0, len(input.Attachments))
		for _, a := range input.Attachments {
			if a.StorageKey == "" {
				return StepInput{}, dErrors.New(dErrors.CodeInvalidInput, "attachment missing storage reference")
			}
			ref := a
			if ref.ID.IsNil() {
				ref.ID = id.NewAttachmentID()
			}
			if ref.UploadedAt.IsZero() {
				ref.UploadedAt = s.clock()
			}
			refs = append(refs, ref)
		}
		return StepInput{Attachments: refs}, nil
	}
	return StepInput{}, dErrors.New(dErrors.CodeInvalidState, "unknown wizard step")
}

// dedupRecipients keeps the first occurrence of each recipient, preserving
// order. Sessions record the selection in this canonical form.
func dedupRecipients(in []id.RecipientID) []id.RecipientID {
	seen := make(map[id.RecipientID]struct{}, len(in))
	var out []id.RecipientID
	for _, r := range in {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// inputEqual compares only the client-supplied parts of a step input, so a
// retried advance matches the recorded step even though the server assigned
// attachment ids on first receipt and deduplicated the recipient selection.
func inputEqual(step int, recorded, retry StepInput) bool {
	switch step {
	case StepRecipients:
		retried := dedupRecipients(retry.Recipients)
		if len(recorded.Recipients) != len(retried) {
			return false
		}
		for i := range recorded.Recipients {
			if recorded.Recipients[i] != retried[i] {
				return false
			}
		}
		return true
	case StepContent:
		if len(recorded.Fields) != len(retry.Fields) {
			return false
		}
		for i := range recorded.Fields {
			if recorded.Fields[i] != retry.Fields[i] {
				return false
			}
		}
		return true
	case StepAttachments:
		if len(recorded.Attachments) != len(retry.Attachments) {
			return false
		}
		for i := range recorded.Attachments {
			if recorded.Attachments[i].Name != retry.Attachments[i].Name ||
				recorded.Attachments[i].StorageKey != retry.Attachments[i].StorageKey {
				return false
			}
		}
		return true
	}
	return false
}
