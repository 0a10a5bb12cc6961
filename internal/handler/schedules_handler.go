package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/service"
)

// ============================================================
// 3. Schedules
// ============================================================

func filtersFromQuery(r *http.Request) domain.ScheduleFilters {
	q := r.URL.Query()
	return domain.ScheduleFilters{
		Status:    domain.Status(q.Get("status")),
		Client:    q.Get("client"),
		DateFrom:  q.Get("date_from"),
		DateTo:    q.Get("date_to"),
		NfeNumber: q.Get("nfe_number"),
	}
}

// GET /v1/schedules?status=&client=&date_from=&date_to=&nfe_number=&page=
func listSchedulesHandler(svc *service.Schedules, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/schedules")
		defer span.End()

		page, err := svc.List(ctx, filtersFromQuery(r), parsePage(r))
		if err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

type statusChangeBody struct {
	Status        domain.Status `json:"status"`
	CurrentStatus domain.Status `json:"current_status"`
	Comment       string        `json:"comment"`
}

func updateStatusHandler(svc *service.Schedules, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/schedules/{id}/status")
		defer span.End()

		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid schedule id")
			return
		}

		var body statusChangeBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		updated, err := svc.UpdateStatus(ctx, id, body.CurrentStatus, body.Status, body.Comment)
		if err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// --- list view state ---

func viewLoadHandler(view *service.ScheduleView, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := view.Load(r.Context())
		writeViewPage(w, page, err, loginPath, logger)
	}
}

func viewFiltersHandler(view *service.ScheduleView, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f domain.ScheduleFilters
		if err := decodeJSON(r, &f); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		page, err := view.ApplyFilters(r.Context(), f)
		writeViewPage(w, page, err, loginPath, logger)
	}
}

func viewResetHandler(view *service.ScheduleView, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := view.ResetFilters(r.Context())
		writeViewPage(w, page, err, loginPath, logger)
	}
}

func viewPageHandler(view *service.ScheduleView, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Page int `json:"page"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		page, err := view.ChangePage(r.Context(), body.Page)
		writeViewPage(w, page, err, loginPath, logger)
	}
}

func writeViewPage(w http.ResponseWriter, page *domain.SchedulePage, err error, loginPath string, logger *zap.Logger) {
	if err != nil {
		handleServiceError(w, err, loginPath, logger)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
