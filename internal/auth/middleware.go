package auth

import (
	"net/http"

	"fsw-food-be/internal/logger"

	"go.uber.org/zap"
)

// Middleware resolves the caller from the access token. Requests without a
// valid token pass through anonymous; handlers that need a user reject them.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := ExtractAccessToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ParseToken(tokenStr, secret)
			if err != nil {
				logger.FromCtx(r.Context()).Debug("rejected access token", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithUser(r.Context(), User{ID: claims.UserID, Email: claims.Email, Role: claims.Role})
			ctx = logger.WithFields(ctx, zap.String("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
