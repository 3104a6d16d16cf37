package auth

import (
	"context"
	"net/http"
	"strings"

	"eic-pathway/internal/response"
	"eic-pathway/internal/tokens"
)

type contextKey struct{}

// RequireAccess admits requests carrying a valid access token and stores the
// token's subject in the request context.
func RequireAccess(tokenService *tokens.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				response.Error(w, http.StatusUnauthorized, response.StatusUnauthorized, "access token required")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				response.Error(w, http.StatusUnauthorized, response.StatusUnauthorized, "invalid authorization format")
				return
			}

			userID, err := tokenService.VerifyAccess(strings.TrimSpace(parts[1]))
			if err != nil {
				response.Error(w, http.StatusForbidden, response.StatusInvalidToken, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}
