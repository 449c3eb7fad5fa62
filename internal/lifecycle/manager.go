package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tipline/internal/access"
	"tipline/internal/audit"
	"tipline/internal/platform/metrics"
	"tipline/internal/tip/models"
	"tipline/internal/tip/store"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
	"tipline/pkg/sentinel"
)

// sweepConcurrency bounds how many expired tips one sweep transitions in
// parallel. Each transition is an independent per-tip transaction.
const sweepConcurrency = 8

// mutationAttempts bounds internal retries on transient store contention
// before surfacing Unavailable.
const mutationAttempts = 3

// Config carries retention policy knobs.
type Config struct {
	// PostponeWindow is how far a postpone pushes ExpiresAt from now.
	PostponeWindow time.Duration
}

// Manager applies retention transitions: postpone, delete, expiry. All
// transitions authorize against the policy table and run under the store's
// per-tip serialization.
type Manager struct {
	cfg     Config
	tips    store.Store
	auditp  *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewManager(cfg Config, tips store.Store, auditp *audit.Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		tips:   tips,
		auditp: auditp,
		logger: logger,
		clock:  time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithMetrics attaches the expiry counter; the sweep runs without metrics
// otherwise.
func (m *Manager) WithMetrics(metrics *metrics.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Postpone extends the tip's retention deadline by the configured window.
// The tip stays in (or returns to) the postponed state; it never becomes
// deleted through postponing.
func (m *Manager) Postpone(ctx context.Context, tipID id.TipID, actor id.RecipientID) error {
	tip, err := m.tips.Get(ctx, tipID)
	if err != nil {
		return translate(err)
	}
	if d := access.Authorize(access.Recipient(actor), tip, access.ActionPostpone); !d.Allowed {
		return dErrors.New(dErrors.CodeForbidden, d.Reason)
	}
	if tip.State == models.StateDeleted {
		return dErrors.New(dErrors.CodeInvalidState, "tip is deleted")
	}

	expiresAt := m.clock().Add(m.cfg.PostponeWindow)
	if err := m.updateState(ctx, tipID, models.StatePostponed, expiresAt); err != nil {
		return err
	}
	m.auditp.Emit(audit.Event{Action: audit.ActionPostpone, TipID: tipID, ActorID: actor})
	return nil
}

// BatchOutcome reports one id's result within a batch operation.
type BatchOutcome struct {
	TipID id.TipID
	Err   error
}

// PostponeBatch applies Postpone to each id as an independent transaction.
// One failing id never aborts the others; callers receive the per-id
// outcomes and, when any failed, a PartialBatchFailure error alongside.
func (m *Manager) PostponeBatch(ctx context.Context, tipIDs []id.TipID, actor id.RecipientID) ([]BatchOutcome, error) {
	outcomes := make([]BatchOutcome, 0, len(tipIDs))
	failed := 0
	for _, tipID := range tipIDs {
		err := m.Postpone(ctx, tipID, actor)
		if err != nil {
			failed++
		}
		outcomes = append(outcomes, BatchOutcome{TipID: tipID, Err: err})
	}
	if failed > 0 {
		m.auditp.Emit(audit.Event{Action: audit.ActionPostponeBatch, ActorID: actor,
			Detail: "partial failure"})
		return outcomes, dErrors.New(dErrors.CodePartialBatchFailure, "some tips could not be postponed")
	}
	m.auditp.Emit(audit.Event{Action: audit.ActionPostponeBatch, ActorID: actor})
	return outcomes, nil
}

// Delete irreversibly transitions the tip to deleted. The tip immediately
// vanishes from recipient queues and its receipt stops granting access; the
// hard purge of comments, attachment references and the receipt binding is
// scheduled for the next sweep pass.
func (m *Manager) Delete(ctx context.Context, tipID id.TipID, actor id.RecipientID) error {
	tip, err := m.tips.Get(ctx, tipID)
	if err != nil {
		return translate(err)
	}
	if d := access.Authorize(access.Recipient(actor), tip, access.ActionDelete); !d.Allowed {
		return dErrors.New(dErrors.CodeForbidden, d.Reason)
	}

	if err := m.updateState(ctx, tipID, models.StateDeleted, tip.ExpiresAt); err != nil {
		return err
	}
	m.auditp.Emit(audit.Event{Action: audit.ActionDelete, TipID: tipID, ActorID: actor})
	return nil
}

// ExpirySweep runs two passes: purge tips already marked deleted, then
// transition every tip past its ExpiresAt to deleted (purged on the next
// pass). Safe to run concurrently with live operations; each transition uses
// the same per-tip serialization as any other mutation.
func (m *Manager) ExpirySweep(ctx context.Context) (int, error) {
	now := m.clock()

	deleted, err := m.tips.ListDeleted(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not list deleted tips")
	}
	for _, tipID := range deleted {
		if err := m.tips.Purge(ctx, tipID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			m.logger.Error("purge failed", "tip_id", tipID.String(), "error", err)
		}
	}

	expired, err := m.tips.ListExpired(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not list expired tips")
	}
	if len(expired) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, tipID := range expired {
		g.Go(func() error {
			if err := m.updateState(ctx, tipID, models.StateDeleted, now); err != nil {
				// Raced with a recipient delete or postpone; the applied state
				// wins and this tip is picked up next sweep if still expired.
				m.logger.Warn("expiry transition skipped", "tip_id", tipID.String(), "error", err)
				return nil
			}
			if m.metrics != nil {
				m.metrics.TipsExpired.Inc()
			}
			m.auditp.Emit(audit.Event{Action: audit.ActionExpire, TipID: tipID})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(expired), nil
}

// Run executes the sweep on a ticker until the context is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := m.ExpirySweep(ctx)
			if err != nil {
				m.logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Info("expiry sweep transitioned tips", "count", n)
			}
		}
	}
}

// updateState retries transient store contention a bounded number of times.
func (m *Manager) updateState(ctx context.Context, tipID id.TipID, state models.State, expiresAt time.Time) error {
	var err error
	for attempt := 0; attempt < mutationAttempts; attempt++ {
		err = m.tips.UpdateState(ctx, tipID, state, expiresAt)
		if err == nil {
			return nil
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "tip not found")
		}
		if !errors.Is(err, sentinel.ErrUnavailable) {
			break
		}
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "could not update tip state")
}

func translate(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "tip not found")
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "tip lookup failed")
}
