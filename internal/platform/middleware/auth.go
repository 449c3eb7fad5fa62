package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "tipline/pkg/domain"
)

// TokenValidator validates a recipient session token and returns the
// recipient it identifies.
type TokenValidator interface {
	Validate(tokenString string) (id.RecipientID, error)
}

type contextKeyRecipientID struct{}

// GetRecipientID retrieves the authenticated recipient from the context. The
// zero value means the request did not pass RequireAuth.
func GetRecipientID(ctx context.Context) id.RecipientID {
	rid, ok := ctx.Value(contextKeyRecipientID{}).(id.RecipientID)
	if !ok {
		return id.RecipientID{}
	}
	return rid
}

// RequireAuth gates recipient endpoints on a valid bearer token. The
// whistleblower surface never goes through this; receipts are resolved in the
// handlers themselves.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			rid, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, contextKeyRecipientID{}, rid)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
