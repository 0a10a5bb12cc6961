package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/service"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error    string   `json:"error"`
	Field    string   `json:"field,omitempty"`
	Details  []string `json:"details,omitempty"`
	Redirect string   `json:"redirect,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSessionEnded tells the frontend to move to the login view.
func writeSessionEnded(w http.ResponseWriter, msg, loginPath string) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msg, Redirect: loginPath})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func parsePage(r *http.Request) int {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	return page
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, loginPath string, logger *zap.Logger) {
	var (
		unauth      *domain.ErrUnauthenticated
		forbidden   *domain.ErrForbidden
		validation  *domain.ErrValidation
		notFound    *domain.ErrNotFound
		circuitOpen *domain.ErrCircuitOpen
		server      *domain.ErrServer
		transient   *domain.ErrTransient
		request     *domain.ErrRequest
	)

	switch {
	case errors.Is(err, domain.ErrSessionEnded):
		logger.Info("session ended during request")
		writeSessionEnded(w, err.Error(), loginPath)
	case errors.As(err, &unauth):
		logger.Debug("unauthenticated", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, unauth.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, forbidden.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   validation.Message,
			Field:   validation.Field,
			Details: validation.Details,
		})
	case errors.Is(err, service.ErrSubmissionInProgress), errors.Is(err, service.ErrWizardBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &transient):
		logger.Error("schedule API unreachable", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &server):
		logger.Error("schedule API failure", zap.Int("status", server.Status), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &request):
		status := request.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
