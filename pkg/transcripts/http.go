package transcripts

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
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// Register mounts the transcript routes on a router rooted at /meeting.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/{id:[0-9]+}/transcripts", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}/fetch-transcript", h.handleFetch).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ForMeeting(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	out, err := h.service.FetchFull(r.Context(), id)
	if err != nil {
		logger.WithField("meeting_id", id).WithError(err).Error("Transcript fetch failed")
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, meetings.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Detail: "Meeting not found"})
	case errors.Is(err, meetings.ErrNoBotID):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Detail: "Meeting has no bot_id associated"})
	default:
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Detail: "Internal server error"})
	}
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
