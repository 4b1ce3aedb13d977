// Package handlers binds the ingestion pipeline and read API to HTTP.
package handlers

import (
	"encoding/json"
	"net/http"

	"telemetry-gateway/internal/auth"
	"telemetry-gateway/internal/common/errors"
	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/pipeline"
	"telemetry-gateway/internal/storage"
)

type Handlers struct {
	pipeline *pipeline.Pipeline
	reader   *pipeline.Reader
	storage  storage.Storage
	auth     *auth.Auth
	logger   logging.Logger
}

func New(p *pipeline.Pipeline, reader *pipeline.Reader, store storage.Storage, authService *auth.Auth, logger logging.Logger) *Handlers {
	return &Handlers{
		pipeline: p,
		reader:   reader,
		storage:  store,
		auth:     authService,
		logger:   logger,
	}
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondAppError maps the error taxonomy onto HTTP statuses. Unknown
// errors are a generic 500 so internals never leak to devices.
func (h *Handlers) respondAppError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		h.logger.Error("unclassified handler error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch appErr.Type {
	case errors.ErrTypeIntegrity:
		respondError(w, http.StatusForbidden, appErr.Message)
	case errors.ErrTypeValidation, errors.ErrTypeMalformed:
		respondError(w, http.StatusBadRequest, appErr.Message)
	case errors.ErrTypeNotFound:
		respondError(w, http.StatusNotFound, appErr.Message)
	case errors.ErrTypeAuth:
		respondError(w, http.StatusUnauthorized, appErr.Message)
	case errors.ErrTypeRateLimit:
		respondError(w, http.StatusTooManyRequests, appErr.Message)
	case errors.ErrTypeStorage:
		h.logger.Error("storage failure", err)
		respondError(w, http.StatusInternalServerError, "storage failure")
	default:
		h.logger.Error("handler error", err, logging.String("type", string(appErr.Type)))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
