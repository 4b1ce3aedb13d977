package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"telemetry-gateway/internal/common/logging"
)

// maxBodySize bounds ingest bodies. The largest legitimate envelope is a
// few hundred bytes of hex; a megabyte is already generous.
const maxBodySize = 1 << 20

// HandleIngest accepts a telemetry submission, encrypted or plaintext.
// The response contract is fixed by the device firmware: 201 with a
// message on accept, 403 on integrity failure, 400 on malformed bodies.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), body)
	if err != nil {
		h.respondAppError(w, err)
		return
	}

	h.logger.Info("telemetry accepted",
		logging.String("reading_id", result.Reading.ID),
		logging.String("version", result.Reading.Version),
		logging.Bool("interpreted", result.Interpreted),
	)

	respondJSON(w, http.StatusCreated, map[string]string{"message": "Status created successfully"})
}

// HandleListTelemetry returns every visible record, newest first.
func (h *Handlers) HandleListTelemetry(w http.ResponseWriter, r *http.Request) {
	views, err := h.reader.List()
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

// HandleDeviceTelemetry returns the visible records for one device.
func (h *Handlers) HandleDeviceTelemetry(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if uid == "" {
		respondError(w, http.StatusBadRequest, "device uid is required")
		return
	}

	views, err := h.reader.ListByDevice(uid)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

type patchRequest struct {
	ID             string  `json:"id"`
	Recommendation *string `json:"recommendation"`
}

// HandlePatchRecommendation manually sets the recommendation on a
// record, the same partial update the reconciler performs.
func (h *Handlers) HandlePatchRecommendation(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "record id is required")
		return
	}
	if req.Recommendation == nil {
		respondError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	if err := h.storage.UpdateRecommendation(req.ID, *req.Recommendation); err != nil {
		h.respondAppError(w, err)
		return
	}

	record, err := h.storage.GetReading(req.ID)
	if err != nil {
		h.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}
