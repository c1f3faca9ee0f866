package models

import (
	"fmt"
	"strings"
	"time"
)

// BotStatus is the lifecycle state of a meeting bot as tracked by the backend.
type BotStatus string

const (
	BotPending   BotStatus = "PENDING"
	BotStarted   BotStatus = "STARTED"
	BotCompleted BotStatus = "COMPLETED"
	BotFailed    BotStatus = "FAILED"
)

// ParseBotStatus accepts any casing of the four known states.
func ParseBotStatus(s string) (BotStatus, error) {
	switch BotStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case BotPending:
		return BotPending, nil
	case BotStarted:
		return BotStarted, nil
	case BotCompleted:
		return BotCompleted, nil
	case BotFailed:
		return BotFailed, nil
	}
	return "", fmt.Errorf("unknown bot status %q", s)
}

// IsTerminal reports whether no further transitions are expected.
func (s BotStatus) IsTerminal() bool {
	return s == BotCompleted || s == BotFailed
}

func (s BotStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *BotStatus) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = ""
		return nil
	}
	parsed, err := ParseBotStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ScorecardStatus describes the availability of the AI analysis for a meeting.
// The wire form is lowercase.
type ScorecardStatus string

const (
	ScorecardAvailable    ScorecardStatus = "AVAILABLE"
	ScorecardProcessing   ScorecardStatus = "PROCESSING"
	ScorecardUnavailable  ScorecardStatus = "UNAVAILABLE"
	ScorecardError        ScorecardStatus = "ERROR"
	ScorecardNeedsTrigger ScorecardStatus = "NEEDS_TRIGGER"
	ScorecardNoData       ScorecardStatus = "NO_DATA"
)

func ParseScorecardStatus(s string) (ScorecardStatus, error) {
	switch ScorecardStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case ScorecardAvailable:
		return ScorecardAvailable, nil
	case ScorecardProcessing:
		return ScorecardProcessing, nil
	case ScorecardUnavailable:
		return ScorecardUnavailable, nil
	case ScorecardError:
		return ScorecardError, nil
	case ScorecardNeedsTrigger:
		return ScorecardNeedsTrigger, nil
	case ScorecardNoData:
		return ScorecardNoData, nil
	}
	return "", fmt.Errorf("unknown scorecard status %q", s)
}

// IsTerminal is false only for PROCESSING; every other status ends a fetch loop.
func (s ScorecardStatus) IsTerminal() bool {
	return s != ScorecardProcessing
}

func (s ScorecardStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(string(s))), nil
}

func (s *ScorecardStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseScorecardStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// BotRecord is one bot/meeting session as returned by the bots API.
type BotRecord struct {
	ID              int64                  `json:"id"`
	MeetingURL      string                 `json:"meeting_url"`
	BotID           string                 `json:"bot_id,omitempty"`
	Status          BotStatus              `json:"status"`
	MeetingMetadata map[string]interface{} `json:"meeting_metadata"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func (b BotRecord) BotName() string {
	if name, ok := b.MeetingMetadata["bot_name"].(string); ok {
		return name
	}
	return ""
}

func (b BotRecord) JoinAt() *time.Time {
	raw, ok := b.MeetingMetadata["join_at"].(string)
	if !ok || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// WebhookConfig registers a callback with the bot provider.
type WebhookConfig struct {
	URL      string   `json:"url"`
	Triggers []string `json:"triggers"`
}

type CreateBotRequest struct {
	MeetingURL string          `json:"meeting_url"`
	BotName    string          `json:"bot_name"`
	JoinAt     *time.Time      `json:"join_at,omitempty"`
	Webhooks   []WebhookConfig `json:"webhooks,omitempty"`
}

type BotList struct {
	Items []BotRecord `json:"items"`
	Total int         `json:"total"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type PollStatusResponse struct {
	BotID         int64                  `json:"bot_id"`
	OldStatus     BotStatus              `json:"old_status,omitempty"`
	NewStatus     BotStatus              `json:"new_status,omitempty"`
	StatusUpdated bool                   `json:"status_updated"`
	ProviderData  map[string]interface{} `json:"attendee_api_data,omitempty"`
}

// Scorecard is the AI-generated analysis of one meeting transcript.
type Scorecard struct {
	OverallScore         float64  `json:"overall_score"`
	Sentiment            string   `json:"sentiment"`
	KeyTopics            []string `json:"key_topics"`
	ActionItems          []string `json:"action_items"`
	Participants         []string `json:"participants"`
	EngagementScore      float64  `json:"engagement_score"`
	MeetingEffectiveness float64  `json:"meeting_effectiveness"`
	Summary              string   `json:"summary"`
	Insights             []string `json:"insights"`
	Recommendations      []string `json:"recommendations"`
}

type ScorecardRecord struct {
	MeetingID int64           `json:"meeting_id"`
	Status    ScorecardStatus `json:"status"`
	Message   string          `json:"message"`
	Scorecard *Scorecard      `json:"scorecard"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

type ReportEntry struct {
	ID        int64     `json:"id"`
	MeetingID int64     `json:"meeting_id"`
	Score     Scorecard `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportResponse is the legacy report shape served next to the scorecard.
type ReportResponse struct {
	MeetingID  int64         `json:"meeting_id"`
	MeetingURL string        `json:"meeting_url"`
	BotID      string        `json:"bot_id,omitempty"`
	Status     BotStatus     `json:"status"`
	Reports    []ReportEntry `json:"reports"`
	Message    string        `json:"message,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type WebhookURLResponse struct {
	WebhookURL string `json:"webhook_url"`
	Message    string `json:"message"`
}

type WebhookEventView struct {
	ID             int64                  `json:"id"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	MeetingID      *int64                 `json:"meeting_id,omitempty"`
	BotID          string                 `json:"bot_id,omitempty"`
	EventType      string                 `json:"event_type"`
	Processed      bool                   `json:"processed"`
	DeliveryError  string                 `json:"delivery_error,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

type TranscriptChunkView struct {
	ID         int64     `json:"id"`
	MeetingID  int64     `json:"meeting_id"`
	Speaker    string    `json:"speaker,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence string    `json:"confidence,omitempty"`
}

type TranscriptSummary struct {
	TotalChunks   int      `json:"total_chunks"`
	TotalDuration int      `json:"total_duration"`
	Speakers      []string `json:"speakers"`
	WordCount     int      `json:"word_count"`
}

// Event Bus models
const EventMeetingCompleted = "meeting.completed"

type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
