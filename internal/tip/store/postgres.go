package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tipline/internal/tip/models"
	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
)

// Postgres persists tips in PostgreSQL. Per-tip serialization is achieved by
// taking a row lock on the tips row (SELECT ... FOR UPDATE) inside each mutating
// transaction.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tip store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the schema when missing. The receipts table is deliberately
// separate from tips; nothing about row order or layout links a receipt row to
// its tip other than the indexed tip_id.
func (p *Postgres) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tips (
			id UUID PRIMARY KEY,
			state VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS tip_fields (
			tip_id UUID NOT NULL REFERENCES tips(id) ON DELETE CASCADE,
			ord INTEGER NOT NULL,
			step_id INTEGER NOT NULL,
			field_id VARCHAR(64) NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (tip_id, ord)
		)`,

		`CREATE TABLE IF NOT EXISTS tip_attachments (
			id UUID PRIMARY KEY,
			tip_id UUID NOT NULL REFERENCES tips(id) ON DELETE CASCADE,
			ord INTEGER NOT NULL,
			name VARCHAR(255) NOT NULL,
			storage_key VARCHAR(255) NOT NULL,
			uploaded_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tip_recipients (
			tip_id UUID NOT NULL REFERENCES tips(id) ON DELETE CASCADE,
			recipient_id UUID NOT NULL,
			PRIMARY KEY (tip_id, recipient_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tip_recipients_recipient
			ON tip_recipients(recipient_id)`,

		`CREATE TABLE IF NOT EXISTS tip_comments (
			id UUID PRIMARY KEY,
			tip_id UUID NOT NULL REFERENCES tips(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			author_role VARCHAR(16) NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (tip_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS receipts (
			code VARCHAR(64) PRIMARY KEY,
			tip_id UUID NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := p.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate tip store: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, tip *models.Tip, receipt string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tip: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO receipts (code, tip_id) VALUES ($1, $2)`,
		receipt, uuid.UUID(tip.ID))
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("bind receipt: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tips (id, state, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		uuid.UUID(tip.ID), string(tip.State), tip.CreatedAt, nullableTime(tip.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert tip: %w", err)
	}

	for i, f := range tip.ContentFields {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tip_fields (tip_id, ord, step_id, field_id, value) VALUES ($1, $2, $3, $4, $5)`,
			uuid.UUID(tip.ID), i, f.StepID, f.FieldID, f.Value)
		if err != nil {
			return fmt.Errorf("insert tip field: %w", err)
		}
	}
	for i, a := range tip.Attachments {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tip_attachments (id, tip_id, ord, name, storage_key, uploaded_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.UUID(a.ID), uuid.UUID(tip.ID), i, a.Name, a.StorageKey, a.UploadedAt)
		if err != nil {
			return fmt.Errorf("insert tip attachment: %w", err)
		}
	}
	for r := range tip.AssignedRecipients {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tip_recipients (tip_id, recipient_id) VALUES ($1, $2)`,
			uuid.UUID(tip.ID), uuid.UUID(r))
		if err != nil {
			return fmt.Errorf("insert tip recipient: %w", err)
		}
	}

	// Readers only ever observe the whole tip or nothing.
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tip: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, tipID id.TipID) (*models.Tip, error) {
	return p.loadTip(ctx, p.db, tipID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *Postgres) loadTip(ctx context.Context, q querier, tipID id.TipID) (*models.Tip, error) {
	tip := &models.Tip{ID: tipID, AssignedRecipients: make(map[id.RecipientID]struct{})}
	var state string
	var expiresAt sql.NullTime
	err := q.QueryRowContext(ctx,
		`SELECT state, created_at, expires_at FROM tips WHERE id = $1`,
		uuid.UUID(tipID)).Scan(&state, &tip.CreatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load tip: %w", err)
	}
	tip.State = models.State(state)
	if expiresAt.Valid {
		tip.ExpiresAt = expiresAt.Time
	}

	rows, err := q.QueryContext(ctx,
		`SELECT step_id, field_id, value FROM tip_fields WHERE tip_id = $1 ORDER BY ord`,
		uuid.UUID(tipID))
	if err != nil {
		return nil, fmt.Errorf("load tip fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f models.ContentField
		if err := rows.Scan(&f.StepID, &f.FieldID, &f.Value); err != nil {
			return nil, fmt.Errorf("scan tip field: %w", err)
		}
		tip.ContentFields = append(tip.ContentFields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tip fields: %w", err)
	}

	arows, err := q.QueryContext(ctx,
		`SELECT id, name, storage_key, uploaded_at FROM tip_attachments WHERE tip_id = $1 ORDER BY ord`,
		uuid.UUID(tipID))
	if err != nil {
		return nil, fmt.Errorf("load tip attachments: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var ref models.AttachmentRef
		var aid uuid.UUID
		if err := arows.Scan(&aid, &ref.Name, &ref.StorageKey, &ref.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan tip attachment: %w", err)
		}
		ref.ID = id.AttachmentID(aid)
		tip.Attachments = append(tip.Attachments, ref)
	}
	if err := arows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tip attachments: %w", err)
	}

	rrows, err := q.QueryContext(ctx,
		`SELECT recipient_id FROM tip_recipients WHERE tip_id = $1`,
		uuid.UUID(tipID))
	if err != nil {
		return nil, fmt.Errorf("load tip recipients: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var rid uuid.UUID
		if err := rrows.Scan(&rid); err != nil {
			return nil, fmt.Errorf("scan tip recipient: %w", err)
		}
		tip.AssignedRecipients[id.RecipientID(rid)] = struct{}{}
	}
	if err := rrows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tip recipients: %w", err)
	}

	return tip, nil
}

func (p *Postgres) ResolveReceipt(ctx context.Context, receipt string) (id.TipID, error) {
	var tid uuid.UUID
	err := p.db.QueryRowContext(ctx,
		`SELECT tip_id FROM receipts WHERE code = $1`, receipt).Scan(&tid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return id.TipID{}, ErrNotFound
		}
		return id.TipID{}, fmt.Errorf("resolve receipt: %w", err)
	}
	return id.TipID(tid), nil
}

func (p *Postgres) ReceiptExists(ctx context.Context, receipt string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM receipts WHERE code = $1`, receipt).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check receipt: %w", err)
	}
	return true, nil
}

func (p *Postgres) ListFor(ctx context.Context, recipient id.RecipientID) ([]*models.Tip, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT t.id FROM tips t
		 JOIN tip_recipients tr ON tr.tip_id = t.id
		 WHERE tr.recipient_id = $1 AND t.state <> $2
		 ORDER BY t.created_at DESC`,
		uuid.UUID(recipient), string(models.StateDeleted))
	if err != nil {
		return nil, fmt.Errorf("list tips: %w", err)
	}
	defer rows.Close()

	var ids []id.TipID
	for rows.Next() {
		var tid uuid.UUID
		if err := rows.Scan(&tid); err != nil {
			return nil, fmt.Errorf("scan tip id: %w", err)
		}
		ids = append(ids, id.TipID(tid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tips: %w", err)
	}

	tips := make([]*models.Tip, 0, len(ids))
	for _, tid := range ids {
		tip, err := p.loadTip(ctx, p.db, tid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // purged between list and load
			}
			return nil, err
		}
		tips = append(tips, tip)
	}
	return tips, nil
}

// withTipLock runs fn inside a transaction holding the row lock for the tip,
// serializing mutations per tip id.
func (p *Postgres) withTipLock(ctx context.Context, tipID id.TipID, fn func(tx *sql.Tx, state models.State) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tip mutation: %w", err)
	}
	defer tx.Rollback()

	var state string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM tips WHERE id = $1 FOR UPDATE`, uuid.UUID(tipID)).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock tip: %w", err)
	}

	if err := fn(tx, models.State(state)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tip mutation: %w", err)
	}
	return nil
}

func (p *Postgres) AppendAttachment(ctx context.Context, tipID id.TipID, ref models.AttachmentRef) error {
	return p.withTipLock(ctx, tipID, func(tx *sql.Tx, state models.State) error {
		if state == models.StateDeleted {
			return sentinel.ErrInvalidState
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tip_attachments (id, tip_id, ord, name, storage_key, uploaded_at)
			 VALUES ($1, $2, (SELECT COALESCE(MAX(ord) + 1, 0) FROM tip_attachments WHERE tip_id = $2), $3, $4, $5)`,
			uuid.UUID(ref.ID), uuid.UUID(tipID), ref.Name, ref.StorageKey, ref.UploadedAt)
		if err != nil {
			return fmt.Errorf("append attachment: %w", err)
		}
		return nil
	})
}

func (p *Postgres) AppendComment(ctx context.Context, tipID id.TipID, comment *models.Comment) (*models.Comment, error) {
	stored := *comment
	stored.TipID = tipID
	err := p.withTipLock(ctx, tipID, func(tx *sql.Tx, state models.State) error {
		if state == models.StateDeleted {
			return sentinel.ErrInvalidState
		}
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM tip_comments WHERE tip_id = $1`,
			uuid.UUID(tipID)).Scan(&stored.Seq)
		if err != nil {
			return fmt.Errorf("next comment seq: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tip_comments (id, tip_id, seq, author_role, body, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.UUID(stored.ID), uuid.UUID(tipID), stored.Seq, string(stored.AuthorRole), stored.Body, stored.CreatedAt)
		if err != nil {
			return fmt.Errorf("append comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (p *Postgres) ListComments(ctx context.Context, tipID id.TipID) ([]models.Comment, error) {
	if _, err := p.loadTipState(ctx, tipID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, seq, author_role, body, created_at FROM tip_comments
		 WHERE tip_id = $1 ORDER BY created_at, seq`,
		uuid.UUID(tipID))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		var c models.Comment
		var cid uuid.UUID
		var role string
		if err := rows.Scan(&cid, &c.Seq, &role, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.ID = id.CommentID(cid)
		c.TipID = tipID
		c.AuthorRole = models.AuthorRole(role)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return out, nil
}

func (p *Postgres) loadTipState(ctx context.Context, tipID id.TipID) (models.State, error) {
	var state string
	err := p.db.QueryRowContext(ctx,
		`SELECT state FROM tips WHERE id = $1`, uuid.UUID(tipID)).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load tip state: %w", err)
	}
	return models.State(state), nil
}

func (p *Postgres) UpdateState(ctx context.Context, tipID id.TipID, state models.State, expiresAt time.Time) error {
	return p.withTipLock(ctx, tipID, func(tx *sql.Tx, _ models.State) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE tips SET state = $2, expires_at = $3 WHERE id = $1`,
			uuid.UUID(tipID), string(state), nullableTime(expiresAt))
		if err != nil {
			return fmt.Errorf("update tip state: %w", err)
		}
		return nil
	})
}

func (p *Postgres) ListExpired(ctx context.Context, now time.Time) ([]id.TipID, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM tips WHERE state <> $1 AND expires_at IS NOT NULL AND expires_at < $2`,
		string(models.StateDeleted), now)
	if err != nil {
		return nil, fmt.Errorf("list expired tips: %w", err)
	}
	defer rows.Close()

	var out []id.TipID
	for rows.Next() {
		var tid uuid.UUID
		if err := rows.Scan(&tid); err != nil {
			return nil, fmt.Errorf("scan expired tip: %w", err)
		}
		out = append(out, id.TipID(tid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired tips: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListDeleted(ctx context.Context) ([]id.TipID, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM tips WHERE state = $1`, string(models.StateDeleted))
	if err != nil {
		return nil, fmt.Errorf("list deleted tips: %w", err)
	}
	defer rows.Close()

	var out []id.TipID
	for rows.Next() {
		var tid uuid.UUID
		if err := rows.Scan(&tid); err != nil {
			return nil, fmt.Errorf("scan deleted tip: %w", err)
		}
		out = append(out, id.TipID(tid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted tips: %w", err)
	}
	return out, nil
}

func (p *Postgres) Purge(ctx context.Context, tipID id.TipID) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM receipts WHERE tip_id = $1`, uuid.UUID(tipID)); err != nil {
		return fmt.Errorf("purge receipt: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tips WHERE id = $1`, uuid.UUID(tipID))
	if err != nil {
		return fmt.Errorf("purge tip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("purge tip rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	// Fields, attachments, recipients and comments go via ON DELETE CASCADE.
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
