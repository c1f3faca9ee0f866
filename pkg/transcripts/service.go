package transcripts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/meetscore/platform/pkg/attendee"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/meetings"
)

// secondsPerChunk approximates how long one utterance lasts.
const secondsPerChunk = 10

var ErrIncompleteChunk = errors.New("transcript chunk has no text or timestamp")

type Store interface {
	Exists(ctx context.Context, meetingID int64, at time.Time, speaker string) (bool, error)
	Create(ctx context.Context, c *Chunk) error
	ListByMeeting(ctx context.Context, meetingID int64) ([]Chunk, error)
	CountByMeeting(ctx context.Context, meetingID int64) (int64, error)
	DeleteByMeeting(ctx context.Context, meetingID int64) error
}

type MeetingSource interface {
	Get(ctx context.Context, id int64) (*meetings.Meeting, error)
}

type TranscriptProvider interface {
	GetTranscript(ctx context.Context, botID string) ([]attendee.TranscriptEntry, error)
}

// Input is a chunk before it is bound to storage.
type Input struct {
	Speaker    string
	Text       string
	Timestamp  time.Time
	Confidence string
}

type Service struct {
	store    Store
	meetings MeetingSource
	provider TranscriptProvider
}

func NewService(store Store, meetings MeetingSource, provider TranscriptProvider) *Service {
	return &Service{store: store, meetings: meetings, provider: provider}
}

// ParseWebhookData extracts a chunk from a transcript webhook's data object.
// Speaker and text each have two accepted spellings; the time comes from
// timestamp_ms, an ISO timestamp or epoch seconds, else received when set.
func ParseWebhookData(data map[string]interface{}, received time.Time) (Input, error) {
	in := Input{
		Speaker:    firstString(data, "speaker_name", "speaker"),
		Confidence: firstString(data, "confidence"),
	}
	if tr, ok := data["transcription"].(map[string]interface{}); ok {
		in.Text = firstString(tr, "transcript")
	}
	if in.Text == "" {
		in.Text = firstString(data, "text", "transcript")
	}
	in.Text = strings.TrimSpace(in.Text)

	at, ok := parseTimestamp(data)
	if !ok && !received.IsZero() {
		at, ok = received.UTC(), true
	}
	if in.Text == "" || !ok {
		return Input{}, ErrIncompleteChunk
	}
	in.Timestamp = at
	return in, nil
}

func fromEntry(e attendee.TranscriptEntry) (Input, error) {
	text := strings.TrimSpace(e.Content())
	at, ok := e.At()
	if text == "" || !ok {
		return Input{}, ErrIncompleteChunk
	}
	return Input{Speaker: e.SpeakerLabel(), Text: text, Timestamp: at}, nil
}

// StoreChunk saves in for a meeting. The bool is false when an identical
// chunk was already stored.
func (s *Service) StoreChunk(ctx context.Context, meetingID int64, in Input) (*Chunk, bool, error) {
	at := in.Timestamp.UTC()
	exists, err := s.store.Exists(ctx, meetingID, at, in.Speaker)
	if err != nil {
		return nil, false, fmt.Errorf("checking transcript chunk: %w", err)
	}
	if exists {
		return nil, false, nil
	}

	c := &Chunk{
		MeetingID:  meetingID,
		Speaker:    in.Speaker,
		Text:       in.Text,
		Timestamp:  at,
		Confidence: in.Confidence,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, false, fmt.Errorf("storing transcript chunk: %w", err)
	}
	return c, true, nil
}

// FetchFull pulls the complete transcript from the provider and stores any
// chunks not seen before.
func (s *Service) FetchFull(ctx context.Context, meetingID int64) (*FetchResult, error) {
	m, err := s.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.BotID == "" {
		return nil, meetings.ErrNoBotID
	}

	entries, err := s.provider.GetTranscript(ctx, m.BotID)
	if err != nil {
		return nil, fmt.Errorf("fetching transcript for bot %s: %w", m.BotID, err)
	}

	stored := 0
	for _, e := range entries {
		in, err := fromEntry(e)
		if err != nil {
			logger.WithField("meeting_id", meetingID).Debug("Skipping incomplete transcript entry")
			continue
		}
		_, created, err := s.StoreChunk(ctx, meetingID, in)
		if err != nil {
			return nil, err
		}
		if created {
			stored++
		}
	}

	logger.WithFields(map[string]interface{}{
		"meeting_id": meetingID,
		"bot_id":     m.BotID,
		"entries":    len(entries),
		"stored":     stored,
	}).Info("Transcript fetched")

	return &FetchResult{
		Message:     fmt.Sprintf("Transcript fetched successfully for meeting %d", meetingID),
		ChunkCount:  len(entries),
		StoredCount: stored,
		BotID:       m.BotID,
	}, nil
}

func (s *Service) List(ctx context.Context, meetingID int64) ([]Chunk, error) {
	return s.store.ListByMeeting(ctx, meetingID)
}

func (s *Service) Count(ctx context.Context, meetingID int64) (int64, error) {
	return s.store.CountByMeeting(ctx, meetingID)
}

// ForMeeting returns the meeting with its chunks and their summary.
func (s *Service) ForMeeting(ctx context.Context, meetingID int64) (*MeetingTranscripts, error) {
	m, err := s.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.store.ListByMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	views := make([]models.TranscriptChunkView, 0, len(chunks))
	for _, c := range chunks {
		views = append(views, c.View())
	}
	return &MeetingTranscripts{
		MeetingID:        m.ID,
		MeetingURL:       m.MeetingURL,
		BotID:            m.BotID,
		Status:           m.Status,
		TranscriptChunks: views,
		Summary:          Summarize(chunks),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

func Summarize(chunks []Chunk) models.TranscriptSummary {
	seen := map[string]struct{}{}
	speakers := []string{}
	words := 0
	for _, c := range chunks {
		words += len(strings.Fields(c.Text))
		if c.Speaker == "" {
			continue
		}
		if _, ok := seen[c.Speaker]; !ok {
			seen[c.Speaker] = struct{}{}
			speakers = append(speakers, c.Speaker)
		}
	}
	sort.Strings(speakers)
	return models.TranscriptSummary{
		TotalChunks:   len(chunks),
		TotalDuration: len(chunks) * secondsPerChunk,
		Speakers:      speakers,
		WordCount:     words,
	}
}

// Text renders chunks as "Speaker: text" lines for analysis.
func Text(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		speaker := c.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(c.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func (s *Service) DeleteMeetingData(ctx context.Context, meetingID int64) error {
	return s.store.DeleteByMeeting(ctx, meetingID)
}

func firstString(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func parseTimestamp(data map[string]interface{}) (time.Time, bool) {
	if ms, ok := data["timestamp_ms"].(float64); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	switch v := data["timestamp"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC(), true
		}
	case float64:
		if v > 0 {
			return time.Unix(0, int64(v*float64(time.Second))).UTC(), true
		}
	}
	return time.Time{}, false
}
