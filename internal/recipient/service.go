package recipient

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tipline/internal/token"
	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
	"tipline/pkg/sentinel"
)

// Service handles recipient authentication and account lookups. Login
// failures are uniform: a missing account and a wrong password produce the
// same error, and the bcrypt comparison runs in both cases.
type Service struct {
	store    Store
	tokens   *token.Service
	tokenTTL time.Duration
}

func NewService(store Store, tokens *token.Service, tokenTTL time.Duration) *Service {
	return &Service{store: store, tokens: tokens, tokenTTL: tokenTTL}
}

// dummyHash is compared when the username is unknown so the two failure paths
// cost the same.
var dummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("tipline-dummy-credential"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

// LoginResult carries the session token handed to the recipient client.
type LoginResult struct {
	RecipientID id.RecipientID
	AccessToken string
	ExpiresIn   int
}

// Login verifies the credential and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	account, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "login unavailable")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.CredentialHash), []byte(password)); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	accessToken, err := s.tokens.Generate(account.ID, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not issue session token")
	}
	return &LoginResult{
		RecipientID: account.ID,
		AccessToken: accessToken,
		ExpiresIn:   int(s.tokenTTL.Seconds()),
	}, nil
}

// Register creates an account with a bcrypt-hashed credential. Used by
// seeding and any future admin surface.
func (s *Service) Register(ctx context.Context, username, password string, contexts []string) (*Account, error) {
	if username == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "username cannot be empty")
	}
	if len(password) < 12 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "password too long")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not hash credential")
	}
	account := &Account{
		ID:             id.NewRecipientID(),
		Username:       username,
		CredentialHash: string(hash),
		Contexts:       contexts,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Save(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "username already taken")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not save account")
	}
	return account, nil
}

// ListPublic returns the selectable recipients for the wizard's first step,
// stripped of credential material.
func (s *Service) ListPublic(ctx context.Context) ([]Public, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not list recipients")
	}
	out := make([]Public, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Public())
	}
	return out, nil
}
