package transcripts

import (
	"time"

	"github.com/meetscore/platform/pkg/common/models"
)

// Chunk is one utterance captured for a meeting.
type Chunk struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	MeetingID  int64     `gorm:"column:meeting_id;not null;index:idx_chunk_dedup,priority:1"`
	Speaker    string    `gorm:"column:speaker;index:idx_chunk_dedup,priority:3"`
	Text       string    `gorm:"column:text;type:text;not null"`
	Timestamp  time.Time `gorm:"column:timestamp;not null;index:idx_chunk_dedup,priority:2"`
	Confidence string    `gorm:"column:confidence"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (Chunk) TableName() string {
	return "transcript_chunks"
}

func (c Chunk) View() models.TranscriptChunkView {
	return models.TranscriptChunkView{
		ID:         c.ID,
		MeetingID:  c.MeetingID,
		Speaker:    c.Speaker,
		Text:       c.Text,
		Timestamp:  c.Timestamp,
		Confidence: c.Confidence,
	}
}

// MeetingTranscripts is the body of GET /meeting/{id}/transcripts.
type MeetingTranscripts struct {
	MeetingID        int64                        `json:"id"`
	MeetingURL       string                       `json:"meeting_url"`
	BotID            string                       `json:"bot_id,omitempty"`
	Status           models.BotStatus             `json:"status"`
	TranscriptChunks []models.TranscriptChunkView `json:"transcript_chunks"`
	Summary          models.TranscriptSummary     `json:"summary"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

type FetchResult struct {
	Message     string `json:"message"`
	ChunkCount  int    `json:"transcript_chunks_count"`
	StoredCount int    `json:"stored_count"`
	BotID       string `json:"bot_id"`
}
