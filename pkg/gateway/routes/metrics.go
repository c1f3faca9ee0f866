package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/observability/metrics"
	"gorm.io/gorm"
)

type MetricsHandler struct {
	db *gorm.DB
}

type OverviewMetrics struct {
	BotsByStatus        map[string]int64 `json:"bots_by_status"`
	ActiveBots          int64            `json:"active_bots"`
	WebhooksLastHour    int64            `json:"webhooks_last_hour"`
	WebhookBacklog      int64            `json:"webhook_backlog"`
	TranscriptChunks    int64            `json:"transcript_chunks"`
	ScorecardsGenerated int64            `json:"scorecards_generated"`
	AwaitingScorecard   int64            `json:"awaiting_scorecard"`
}

type PipelineStatus struct {
	ID        string    `json:"id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Details   string    `json:"details"`
}

func NewMetricsHandler(db *gorm.DB) *MetricsHandler {
	return &MetricsHandler{db: db}
}

func (h *MetricsHandler) Register(r *mux.Router) {
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/metrics/overview", h.handleOverview).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/pipelines/status", h.handlePipelineStatus).Methods(http.MethodGet)
}

func (h *MetricsHandler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.collect(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to collect metrics")
		http.Error(w, "failed to collect metrics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, overview)
}

func (h *MetricsHandler) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	overview, err := h.collect(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to collect pipeline status")
		http.Error(w, "failed to collect pipeline status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, pipelineStatuses(overview, time.Now().UTC()))
}

func pipelineStatuses(m OverviewMetrics, now time.Time) []PipelineStatus {
	return []PipelineStatus{
		{
			ID:        "bots",
			Stage:     "Dashboard ➝ Attendee",
			Status:    deriveStatus(m.BotsByStatus["FAILED"] <= m.BotsByStatus["COMPLETED"], true),
			UpdatedAt: now,
			Details:   formatDetails("%d active • %d failed", m.ActiveBots, m.BotsByStatus["FAILED"]),
		},
		{
			ID:        "webhooks",
			Stage:     "Attendee ➝ Webhooks",
			Status:    deriveStatus(m.WebhookBacklog < 10, m.WebhooksLastHour > 0 || m.ActiveBots == 0),
			UpdatedAt: now,
			Details:   formatDetails("%d deliveries/hour • backlog %d", m.WebhooksLastHour, m.WebhookBacklog),
		},
		{
			ID:        "analysis",
			Stage:     "Transcripts ➝ Scorecards",
			Status:    deriveStatus(m.AwaitingScorecard < 5, m.ScorecardsGenerated > 0 || m.AwaitingScorecard == 0),
			UpdatedAt: now,
			Details:   formatDetails("%d scorecards • %d awaiting", m.ScorecardsGenerated, m.AwaitingScorecard),
		},
	}
}

func (h *MetricsHandler) collect(ctx context.Context) (OverviewMetrics, error) {
	out := OverviewMetrics{BotsByStatus: map[string]int64{}}
	db := h.db.WithContext(ctx)

	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.Raw(`SELECT status, COUNT(*) AS count FROM meetings GROUP BY status`).Scan(&rows).Error; err != nil {
		return out, err
	}
	for _, row := range rows {
		out.BotsByStatus[row.Status] = row.Count
		if row.Status == "PENDING" || row.Status == "STARTED" {
			out.ActiveBots += row.Count
		}
	}

	counts := []struct {
		dst   *int64
		query string
	}{
		{&out.WebhooksLastHour, `SELECT COUNT(*) FROM webhook_events WHERE created_at > NOW() - INTERVAL '1 hour'`},
		{&out.WebhookBacklog, `SELECT COUNT(*) FROM webhook_events WHERE processed = false`},
		{&out.TranscriptChunks, `SELECT COUNT(*) FROM transcript_chunks`},
		{&out.ScorecardsGenerated, `SELECT COUNT(*) FROM reports`},
		{&out.AwaitingScorecard, `
			SELECT COUNT(*)
			FROM meetings m
			WHERE m.status = 'COMPLETED'
			  AND NOT EXISTS (SELECT 1 FROM reports r WHERE r.meeting_id = m.id)
		`},
	}
	for _, c := range counts {
		var n sql.NullInt64
		if err := db.Raw(c.query).Scan(&n).Error; err != nil {
			return out, err
		}
		if n.Valid {
			*c.dst = n.Int64
		}
	}
	return out, nil
}

func deriveStatus(conditionA, conditionB bool) string {
	switch {
	case conditionA && conditionB:
		return "healthy"
	case conditionA || conditionB:
		return "degraded"
	default:
		return "failing"
	}
}

func formatDetails(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}
