package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "tipline/pkg/domain"
	dErrors "tipline/pkg/domainerrors"
)

// Claims are the JWT claims for recipient session tokens. Whistleblowers
// never get tokens; their receipt is their only credential.
type Claims struct {
	RecipientID string `json:"recipient_id"`
	jwt.RegisteredClaims
}

// Service creates and validates recipient session tokens.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewService(signingKey, issuer, audience string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

func (s *Service) Generate(recipientID id.RecipientID, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RecipientID: recipientID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Validate parses the token and returns the recipient it identifies.
func (s *Service) Validate(tokenString string) (id.RecipientID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.RecipientID{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return id.RecipientID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return id.RecipientID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return id.RecipientID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	rid, err := id.ParseRecipientID(claims.RecipientID)
	if err != nil {
		return id.RecipientID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return rid, nil
}
