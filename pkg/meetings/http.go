package meetings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

// Register mounts the bot routes on router, which is expected to be rooted at
// /api/v1/bots.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", h.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/{id:[0-9]+}/poll-status", h.handlePollStatus).Methods(http.MethodPost)
	router.HandleFunc("/{id:[0-9]+}/add-webhook", h.handleAddWebhook).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var req models.CreateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid create bot payload")
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, err, "failed to create bot")
		return
	}
	respondJSON(w, http.StatusCreated, m.Record())
}

// handleList answers {items, total}; ?shape=array returns the bare list.
func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ms, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, err, "failed to list bots")
		return
	}

	records := Records(ms)
	if r.URL.Query().Get("shape") == "array" {
		respondJSON(w, http.StatusOK, records)
		return
	}
	respondJSON(w, http.StatusOK, models.BotList{Items: records, Total: len(records)})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, err, "failed to get bot")
		return
	}
	respondJSON(w, http.StatusOK, m.Record())
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, err, "failed to delete bot")
		return
	}
	respondJSON(w, http.StatusOK, models.MessageResponse{Message: fmt.Sprintf("Bot %d deleted successfully", id)})
}

func (h *HTTPHandler) handlePollStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.PollStatus(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, err, "failed to poll bot status")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleAddWebhook(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	data, err := h.service.AddWebhook(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to add webhook")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bot_id":       id,
		"message":      "Webhook added successfully",
		"webhook_data": data,
	})
}

func (h *HTTPHandler) fail(w http.ResponseWriter, err error, msg string) {
	switch {
	case IsValidationError(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, "Bot not found")
	case errors.Is(err, ErrNoBotID):
		respondError(w, http.StatusBadRequest, "Bot has no bot_id")
	case errors.Is(err, ErrNoWebhookURL):
		respondError(w, http.StatusBadRequest, "No webhook URL configured")
	case errors.Is(err, ErrProviderFailed):
		logger.Log.WithError(err).Error(msg)
		respondError(w, http.StatusBadGateway, "Meeting bot provider request failed")
	default:
		logger.Log.WithError(err).Error(msg)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, models.ErrorResponse{Detail: detail})
}
