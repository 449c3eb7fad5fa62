package recipient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "tipline/pkg/domain"
	"tipline/pkg/sentinel"
)

// Store persists recipient accounts.
type Store interface {
	Save(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, rid id.RecipientID) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
}

// InMemoryStore keeps accounts in process memory. Usernames are unique
// case-insensitively.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[id.RecipientID]*Account
	byName   map[string]id.RecipientID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[id.RecipientID]*Account),
		byName:   make(map[string]id.RecipientID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(account.Username)
	if existing, ok := s.byName[key]; ok && existing != account.ID {
		return sentinel.ErrConflict
	}
	cp := *account
	cp.Contexts = append([]string(nil), account.Contexts...)
	s.accounts[account.ID] = &cp
	s.byName[key] = account.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, rid id.RecipientID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[rid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *account
	return &cp, nil
}

func (s *InMemoryStore) FindByUsername(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rid, ok := s.byName[strings.ToLower(username)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.accounts[rid]
	return &cp, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		cp := *account
		out = append(out, &cp)
	}
	return out, nil
}

// PostgresStore persists accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS recipients (
			id UUID PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			credential_hash VARCHAR(255) NOT NULL,
			contexts TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate recipients: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_recipients_username
		ON recipients (LOWER(username))`)
	if err != nil {
		return fmt.Errorf("migrate recipients index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, account *Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipients (id, username, credential_hash, contexts, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			credential_hash = EXCLUDED.credential_hash,
			contexts = EXCLUDED.contexts`,
		uuid.UUID(account.ID), account.Username, account.CredentialHash,
		pq.Array(account.Contexts), account.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save recipient: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, rid id.RecipientID) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, username, credential_hash, contexts, created_at
		FROM recipients WHERE id = $1`, uuid.UUID(rid)))
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, username, credential_hash, contexts, created_at
		FROM recipients WHERE LOWER(username) = LOWER($1)`, username))
}

func (s *PostgresStore) scanOne(row *sql.Row) (*Account, error) {
	var account Account
	var rid uuid.UUID
	var contexts pq.StringArray
	err := row.Scan(&rid, &account.Username, &account.CredentialHash, &contexts, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	account.ID = id.RecipientID(rid)
	account.Contexts = contexts
	return &account, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, credential_hash, contexts, created_at
		FROM recipients ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		var account Account
		var rid uuid.UUID
		var contexts pq.StringArray
		if err := rows.Scan(&rid, &account.Username, &account.CredentialHash, &contexts, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		account.ID = id.RecipientID(rid)
		account.Contexts = contexts
		out = append(out, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return out, nil
}
