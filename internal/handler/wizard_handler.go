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
// 4. NF-e ingestion wizard
// ============================================================

// maxUploadBytes leaves room for the multipart envelope around a 10MB file.
const maxUploadBytes = 11 << 20

type submitResult struct {
	Schedule *domain.Schedule       `json:"schedule"`
	Wizard   service.WizardSnapshot `json:"wizard"`
}

func wizardSnapshotHandler(svc *service.Ingestion) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Current().Snapshot())
	}
}

func wizardOpenHandler(svc *service.Ingestion) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, svc.Open().Snapshot())
	}
}

func wizardDiscardHandler(svc *service.Ingestion) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Discard()
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /v1/wizard/upload (multipart, field "file")
func wizardUploadHandler(svc *service.Ingestion, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/wizard/upload")
		defer span.End()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Por favor, selecione um arquivo XML válido")
			return
		}
		defer file.Close()

		wz := svc.Current()
		if err := wz.Load(ctx, header.Filename, file); err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func wizardNextHandler(svc *service.Ingestion, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz := svc.Current()
		if err := wz.Next(); err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func wizardPreviousHandler(svc *service.Ingestion) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz := svc.Current()
		wz.Previous()
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func wizardEditItemHandler(svc *service.Ingestion, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid item index")
			return
		}

		var edit domain.ItemEdit
		if err := decodeJSON(r, &edit); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		wz := svc.Current()
		if err := wz.EditItem(index, edit); err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func wizardClientHandler(svc *service.Ingestion, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CNPJ string `json:"cnpj"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		wz := svc.Current()
		if err := wz.SelectClient(body.CNPJ); err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func wizardDeliveryDateHandler(svc *service.Ingestion, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Date string `json:"date"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		wz := svc.Current()
		if err := wz.SetDeliveryDate(body.Date); err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}

func wizardSubmitHandler(svc *service.Ingestion, loginPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/wizard/submit")
		defer span.End()

		wz := svc.Current()
		created, err := wz.Submit(ctx)
		if err != nil {
			handleServiceError(w, err, loginPath, logger)
			return
		}
		writeJSON(w, http.StatusCreated, submitResult{Schedule: created, Wizard: wz.Snapshot()})
	}
}

func wizardResetHandler(svc *service.Ingestion) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz := svc.Current()
		wz.Reset()
		writeJSON(w, http.StatusOK, wz.Snapshot())
	}
}
