package polling

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/meetings"
)

type HTTPHandler struct {
	job *Job
}

func NewHTTPHandler(job *Job) *HTTPHandler {
	return &HTTPHandler{job: job}
}

// Register mounts the routes on a router rooted at /polling.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/check/{id:[0-9]+}", h.handleCheck).Methods(http.MethodPost)
	router.HandleFunc("/check-all", h.handleCheckAll).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.job.Status())
}

func (h *HTTPHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Detail: "invalid bot id"})
		return
	}

	resp, err := h.job.CheckOne(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, meetings.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Detail: "Bot not found"})
	case errors.Is(err, meetings.ErrNoBotID):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Detail: err.Error()})
	case errors.Is(err, meetings.ErrProviderFailed):
		writeJSON(w, http.StatusBadGateway, models.ErrorResponse{Detail: "Failed to reach meeting bot provider"})
	default:
		logger.WithField("meeting_id", id).WithError(err).Error("Polling check failed")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Detail: "Internal server error"})
	}
}

func (h *HTTPHandler) handleCheckAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.job.CheckAll(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("Polling check-all failed")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Detail: "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
