package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercocamp/agenda-bfa-go/internal/service"
)

// ============================================================
// 2. Dashboard & notifications
// ============================================================

func dashboardHandler(svc *service.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		writeJSON(w, http.StatusOK, svc.Load(ctx))
	}
}

func listNotificationsHandler(n *service.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, n.List())
	}
}

func dismissNotificationHandler(n *service.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n.Remove(chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	}
}
