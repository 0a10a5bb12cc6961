package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/permission"
	"github.com/mercocamp/agenda-bfa-go/internal/session"
)

type contextKey string

const userKey contextKey = "user"

// GuardMiddleware runs the session guard before every protected route and
// injects the verified profile into the context. A rejected session answers
// 401 with the login path to navigate to.
func GuardMiddleware(sess *session.Session, loginPath string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := sess.Guard()
			if st := g.Check(r.Context(), r.URL.RequestURI()); st != session.StateAuthenticated {
				logger.Info("guard: session not authenticated",
					zap.String("path", r.URL.Path),
					zap.String("state", string(st)),
				)
				writeSessionEnded(w, "Sessão expirada. Faça login novamente.", loginPath)
				return
			}

			profile, ok := g.Profile()
			if _, stored := sess.CurrentUser(r.Context()); !ok || !stored {
				sess.Expire(r.URL.RequestURI())
				writeSessionEnded(w, "Sessão expirada. Faça login novamente.", loginPath)
				return
			}
			ctx := context.WithValue(r.Context(), userKey, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability answers 403 unless the guarded user may perform c.
func RequireCapability(c permission.Capability, loginPath string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := permission.Require(UserFromContext(r.Context()), c); err != nil {
				handleServiceError(w, err, loginPath, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext returns the profile injected by GuardMiddleware.
func UserFromContext(ctx context.Context) *domain.UserProfile {
	u, _ := ctx.Value(userKey).(*domain.UserProfile)
	return u
}
