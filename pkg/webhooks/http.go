package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/observability/metrics"
)

type HTTPHandler struct {
	service    *Service
	verifier   *Verifier
	webhookURL string
	maxBody    int64
}

func NewHTTPHandler(service *Service, verifier *Verifier, webhookURL string, maxBody int64) *HTTPHandler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &HTTPHandler{service: service, verifier: verifier, webhookURL: webhookURL, maxBody: maxBody}
}

// Register mounts the webhook routes on a router rooted at /webhook.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/", h.handleDelivery).Methods(http.MethodPost)
	router.HandleFunc("/attendee", h.handleDelivery).Methods(http.MethodPost)
	router.HandleFunc("/url", h.handleURL).Methods(http.MethodGet)
	router.HandleFunc("/events", h.handleEvents).Methods(http.MethodGet)
	router.HandleFunc("/retry-failed", h.handleRetry).Methods(http.MethodPost)
	router.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
		logger.Log.WithField("remote_addr", r.RemoteAddr).Warn("Rejected webhook with bad signature")
		metrics.WebhookReceived("unverified", "rejected")
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	res, err := h.service.Process(r.Context(), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *HTTPHandler) handleURL(w http.ResponseWriter, _ *http.Request) {
	if h.webhookURL == "" {
		writeError(w, http.StatusNotFound, "No webhook URL configured")
		return
	}
	writeJSON(w, http.StatusOK, models.WebhookURLResponse{
		WebhookURL: h.webhookURL,
		Message:    "This is the global webhook URL (for project-level webhooks)",
	})
}

func (h *HTTPHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.service.List(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list webhook events")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *HTTPHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RetryFailed(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("Failed to retry webhooks")
		writeError(w, http.StatusInternalServerError, "Failed to retry webhooks")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("Failed to load webhook stats")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, models.ErrorResponse{Detail: detail})
}
