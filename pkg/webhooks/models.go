package webhooks

import (
	"encoding/json"
	"time"

	"github.com/meetscore/platform/pkg/common/models"
	"gorm.io/datatypes"
)

const (
	EventBotStateChange          = "bot.state_change"
	EventBotRecording            = "bot.recording"
	EventBotStartedRecording     = "bot.started_recording"
	EventBotLeft                 = "bot.left"
	EventBotCompleted            = "bot.completed"
	EventBotFailed               = "bot.failed"
	EventTranscriptUpdate        = "transcript.update"
	EventTranscriptChunk         = "transcript.chunk"
	EventTranscriptCompleted     = "transcript.completed"
	EventChatMessages            = "chat_messages.update"
	EventParticipantJoinLeave    = "participant_events.join_leave"
	EventPostProcessingCompleted = "post_processing_completed"
	EventUnknown                 = "unknown"
)

// Payload accepts both the provider's delivery format
// ({idempotency_key, bot_id, trigger, data, bot_metadata}) and the legacy
// {event, data} format.
type Payload struct {
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	RawBotID       string                 `json:"bot_id,omitempty"`
	Trigger        string                 `json:"trigger,omitempty"`
	Event          string                 `json:"event,omitempty"`
	Data           map[string]interface{} `json:"data"`
	BotMetadata    map[string]interface{} `json:"bot_metadata,omitempty"`
}

func (p Payload) EventType() string {
	if p.Trigger != "" {
		return p.Trigger
	}
	if p.Event != "" {
		return p.Event
	}
	return EventUnknown
}

func (p Payload) BotID() string {
	if p.RawBotID != "" {
		return p.RawBotID
	}
	if id, ok := p.Data["bot_id"].(string); ok {
		return id
	}
	return ""
}

func (p Payload) dataString(key string) string {
	s, _ := p.Data[key].(string)
	return s
}

// hasTranscript reports whether data carries utterance text.
func (p Payload) hasTranscript() bool {
	if tr, ok := p.Data["transcription"].(map[string]interface{}); ok {
		if s, _ := tr["transcript"].(string); s != "" {
			return true
		}
	}
	return p.dataString("text") != ""
}

// Event is one stored webhook delivery.
type Event struct {
	ID             int64          `gorm:"primaryKey;autoIncrement;column:id"`
	IdempotencyKey *string        `gorm:"column:idempotency_key;uniqueIndex"`
	MeetingID      *int64         `gorm:"column:meeting_id;index"`
	BotID          string         `gorm:"column:bot_id;index"`
	EventType      string         `gorm:"column:event_type;type:varchar(64);index"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	Processed      bool           `gorm:"column:processed;index"`
	DeliveryError  string         `gorm:"column:delivery_error"`
	CreatedAt      time.Time      `gorm:"column:created_at;index"`
	ProcessedAt    *time.Time     `gorm:"column:processed_at"`
}

func (Event) TableName() string {
	return "webhook_events"
}

func (e Event) Decode() (Payload, error) {
	var p Payload
	err := json.Unmarshal(e.Payload, &p)
	if p.Data == nil {
		p.Data = map[string]interface{}{}
	}
	return p, err
}

func (e Event) View() models.WebhookEventView {
	v := models.WebhookEventView{
		ID:            e.ID,
		MeetingID:     e.MeetingID,
		BotID:         e.BotID,
		EventType:     e.EventType,
		Processed:     e.Processed,
		DeliveryError: e.DeliveryError,
		CreatedAt:     e.CreatedAt,
	}
	if e.IdempotencyKey != nil {
		v.IdempotencyKey = *e.IdempotencyKey
	}
	_ = json.Unmarshal(e.Payload, &v.Payload)
	return v
}

// Result is the response body for a delivery.
type Result struct {
	Status    string `json:"status"`
	EventType string `json:"event_type"`
	EventID   int64  `json:"event_id,omitempty"`
}

const (
	ResultProcessed = "processed"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
)

type Stats struct {
	Total     int64            `json:"total"`
	Processed int64            `json:"processed"`
	Failed    int64            `json:"failed"`
	Pending   int64            `json:"pending"`
	ByType    map[string]int64 `json:"by_type"`
}

type RetryResult struct {
	Message   string `json:"message"`
	Count     int    `json:"count"`
	Succeeded int    `json:"succeeded"`
}
