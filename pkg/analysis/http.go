package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/meetings"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// Register mounts the analysis routes on a router rooted at /meeting.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/{id:[0-9]+}/trigger-analysis", h.handleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}/scorecard", h.handleScorecard).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}/report", h.handleReport).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	_, err := h.service.Trigger(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: fmt.Sprintf("Analysis triggered for meeting %d", id)})
	case errors.Is(err, meetings.ErrNotFound):
		writeError(w, http.StatusNotFound, "Meeting not found")
	case errors.Is(err, ErrNotCompleted):
		writeError(w, http.StatusBadRequest, "Cannot analyze meeting that is not completed. Meeting must be completed.")
	case errors.Is(err, ErrNoTranscript):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("No transcript data available for meeting %d", id))
	default:
		logger.WithField("meeting_id", id).WithError(err).Error("Error triggering analysis")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *HTTPHandler) handleScorecard(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Scorecard(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.service.Report(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *HTTPHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, meetings.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Meeting not found")
		return
	}
	logger.Log.WithError(err).Error("Analysis request failed")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, models.ErrorResponse{Detail: detail})
}
