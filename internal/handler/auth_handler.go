package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/permission"
	"github.com/mercocamp/agenda-bfa-go/internal/session"
)

// ============================================================
// 1. Login & session
// ============================================================

type loginBody struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type loginResult struct {
	Redirect string              `json:"redirect"`
	User     *domain.UserProfile `json:"user,omitempty"`
	Role     string              `json:"role,omitempty"`
}

func loginHandler(sess *session.Session, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		var body loginBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		redirect, err := sess.Login(ctx, body.User, body.Password, body.Remember)
		if err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}

		res := loginResult{Redirect: redirect}
		if u, ok := sess.CurrentUser(ctx); ok {
			res.User = u
			res.Role = u.LevelAccess.Name()
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func rememberedUserHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"user": sess.RememberedUser(r.Context())})
	}
}

func logoutHandler(sess *session.Session, loginPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/logout")
		defer span.End()

		sess.Logout(ctx)
		writeJSON(w, http.StatusOK, map[string]string{"redirect": loginPath})
	}
}

func sessionInfoHandler(sess *session.Session, loginPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := sess.Info(r.Context())
		if info.State == string(session.StateRejected) {
			info.Redirect = loginPath
		}
		writeJSON(w, http.StatusOK, info)
	}
}

type permissionsResult struct {
	User         string                  `json:"user"`
	Name         string                  `json:"name"`
	Role         string                  `json:"role"`
	Level        domain.Level            `json:"level"`
	Capabilities []permission.Capability `json:"capabilities"`
}

func permissionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := UserFromContext(r.Context())
		writeJSON(w, http.StatusOK, permissionsResult{
			User:         u.User,
			Name:         u.DisplayName(),
			Role:         u.LevelAccess.Name(),
			Level:        u.LevelAccess,
			Capabilities: permission.Capabilities(u.LevelAccess),
		})
	}
}
