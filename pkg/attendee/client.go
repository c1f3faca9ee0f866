// Package attendee is a client for the Attendee meeting bot API.
package attendee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/gateway/httpclient"
	"github.com/meetscore/platform/pkg/observability/metrics"
)

// DefaultTriggers are the webhook triggers registered for every bot.
var DefaultTriggers = []string{
	"bot.state_change",
	"transcript.update",
	"chat_messages.update",
	"participant_events.join_leave",
}

var ErrMissingBotID = errors.New("bot id not found in provider response")

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("attendee API returned %d: %s", e.StatusCode, body)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	backoff httpclient.Backoff
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpclient.New(30 * time.Second)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		backoff: httpclient.Backoff{Attempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 8 * time.Second},
	}
}

// WithBackoff overrides the create-bot retry schedule.
func (c *Client) WithBackoff(b httpclient.Backoff) *Client {
	c.backoff = b
	return c
}

type CreateBotInput struct {
	MeetingURL string
	BotName    string
	JoinAt     *time.Time
	Webhooks   []models.WebhookConfig
}

type recordingSettings struct {
	Transcript bool `json:"transcript"`
	Video      bool `json:"video"`
	Audio      bool `json:"audio"`
}

type createBotPayload struct {
	MeetingURL        string                 `json:"meeting_url"`
	BotName           string                 `json:"bot_name"`
	JoinAt            string                 `json:"join_at,omitempty"`
	RecordingSettings recordingSettings      `json:"recording_settings"`
	Webhooks          []models.WebhookConfig `json:"webhooks,omitempty"`
}

// BotState is the provider's view of a bot.
type BotState struct {
	ID                 string                 `json:"id"`
	BotID              string                 `json:"bot_id,omitempty"`
	MeetingURL         string                 `json:"meeting_url"`
	State              string                 `json:"state"`
	TranscriptionState string                 `json:"transcription_state"`
	RecordingState     string                 `json:"recording_state"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	Raw                map[string]interface{} `json:"-"`
}

// Identifier returns whichever id field the provider populated.
func (b BotState) Identifier() string {
	if b.BotID != "" {
		return b.BotID
	}
	return b.ID
}

type TranscriptEntry struct {
	SpeakerName   string `json:"speaker_name"`
	Speaker       string `json:"speaker"`
	TimestampMs   int64  `json:"timestamp_ms"`
	Timestamp     string `json:"timestamp"`
	Text          string `json:"text"`
	Transcription *struct {
		Transcript string `json:"transcript"`
	} `json:"transcription"`
}

func (e TranscriptEntry) SpeakerLabel() string {
	if e.SpeakerName != "" {
		return e.SpeakerName
	}
	return e.Speaker
}

func (e TranscriptEntry) Content() string {
	if e.Transcription != nil && e.Transcription.Transcript != "" {
		return e.Transcription.Transcript
	}
	return e.Text
}

// At resolves the entry time from timestamp_ms or an ISO timestamp.
func (e TranscriptEntry) At() (time.Time, bool) {
	if e.TimestampMs > 0 {
		return time.UnixMilli(e.TimestampMs).UTC(), true
	}
	if e.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (c *Client) CreateBot(ctx context.Context, in CreateBotInput) (*BotState, error) {
	payload := createBotPayload{
		MeetingURL:        in.MeetingURL,
		BotName:           in.BotName,
		RecordingSettings: recordingSettings{Transcript: true, Video: true, Audio: true},
		Webhooks:          in.Webhooks,
	}
	if in.JoinAt != nil {
		payload.JoinAt = in.JoinAt.UTC().Format(time.RFC3339)
	}

	var state BotState
	retriable := func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode >= 500
		}
		return httpclient.IsRetriable(err)
	}
	err := httpclient.Retry(ctx, c.backoff, retriable, func() error {
		return c.do(ctx, "create_bot", http.MethodPost, "/api/v1/bots", payload, &state)
	})
	if err != nil {
		return nil, err
	}
	if state.Identifier() == "" {
		return nil, ErrMissingBotID
	}

	logger.Log.WithFields(map[string]interface{}{
		"bot_id":   state.Identifier(),
		"webhooks": len(in.Webhooks),
	}).Info("Created provider bot")
	return &state, nil
}

func (c *Client) GetBot(ctx context.Context, botID string) (*BotState, error) {
	var state BotState
	if err := c.do(ctx, "get_bot", http.MethodGet, "/api/v1/bots/"+url.PathEscape(botID), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetTranscript accepts both a bare list and {"transcript": [...]}.
func (c *Client) GetTranscript(ctx context.Context, botID string) ([]TranscriptEntry, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "get_transcript", http.MethodGet, "/api/v1/bots/"+url.PathEscape(botID)+"/transcript", nil, &raw); err != nil {
		return nil, err
	}

	var entries []TranscriptEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, nil
	}
	var wrapped struct {
		Transcript []TranscriptEntry `json:"transcript"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	return wrapped.Transcript, nil
}

func (c *Client) AddWebhook(ctx context.Context, botID string, hook models.WebhookConfig) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := c.do(ctx, "add_webhook", http.MethodPost, "/api/v1/bots/"+url.PathEscape(botID)+"/webhooks", hook, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveProviderRequest(op, err, time.Since(start)) }()

	var reqBody io.Reader
	if body != nil {
		b, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return marshalErr
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling attendee %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading attendee response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Log.WithFields(map[string]interface{}{
			"operation": op,
			"status":    resp.StatusCode,
		}).Warn("Attendee API returned error")
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding attendee %s response: %w", op, err)
	}
	if state, ok := out.(*BotState); ok {
		_ = json.Unmarshal(data, &state.Raw)
	}
	return nil
}
