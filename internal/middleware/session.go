package middleware

import (
	"context"
	"net/http"

	"github.com/pliu/chatterbox/internal/auth"
	"github.com/pliu/chatterbox/internal/models"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// Session resolves the sid query parameter and stores the user in the
// request context. Requests without a valid sid get 401.
func Session(resolver auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.Resolve(r.URL.Query().Get("sid"))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFrom(ctx context.Context) (models.UserID, bool) {
	user, ok := ctx.Value(UserIDKey).(models.UserID)
	return user, ok && user != ""
}
