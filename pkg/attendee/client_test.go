package attendee

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/gateway/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBotSendsTokenAndWebhooks(t *testing.T) {
	var got createBotPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bots", r.URL.Path)
		assert.Equal(t, "Token key-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"bot_abc","state":"ready"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "key-123", srv.Client())
	state, err := c.CreateBot(context.Background(), CreateBotInput{
		MeetingURL: "https://meet.example.com/xyz",
		BotName:    "Test",
		Webhooks:   []models.WebhookConfig{{URL: "https://hooks.example.com/webhook/", Triggers: DefaultTriggers}},
	})
	require.NoError(t, err)
	assert.Equal(t, "bot_abc", state.Identifier())
	assert.Equal(t, "Test", got.BotName)
	assert.True(t, got.RecordingSettings.Transcript)
	require.Len(t, got.Webhooks, 1)
	assert.Equal(t, DefaultTriggers, got.Webhooks[0].Triggers)
}

func TestCreateBotRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"bot_id":"bot_retry"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", srv.Client()).
		WithBackoff(httpclient.Backoff{Attempts: 3, BaseDelay: time.Millisecond})
	state, err := c.CreateBot(context.Background(), CreateBotInput{MeetingURL: "https://m", BotName: "b"})
	require.NoError(t, err)
	assert.Equal(t, "bot_retry", state.Identifier())
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestCreateBotDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"meeting_url":["invalid"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", srv.Client()).
		WithBackoff(httpclient.Backoff{Attempts: 3, BaseDelay: time.Millisecond})
	_, err := c.CreateBot(context.Background(), CreateBotInput{MeetingURL: "bad", BotName: "b"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCreateBotRequiresID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"ready"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", srv.Client()).CreateBot(context.Background(), CreateBotInput{})
	assert.ErrorIs(t, err, ErrMissingBotID)
}

func TestGetTranscriptAcceptsBothShapes(t *testing.T) {
	bodies := []string{
		`[{"speaker_name":"Ann","timestamp_ms":1700000000000,"transcription":{"transcript":"hello"}}]`,
		`{"transcript":[{"speaker":"Ann","timestamp":"2023-11-14T22:13:20Z","text":"hello"}]}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/bots/bot_1/transcript", r.URL.Path)
			w.Write([]byte(body))
		}))

		entries, err := NewClient(srv.URL, "k", srv.Client()).GetTranscript(context.Background(), "bot_1")
		srv.Close()
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "Ann", entries[0].SpeakerLabel())
		assert.Equal(t, "hello", entries[0].Content())
		at, ok := entries[0].At()
		require.True(t, ok)
		assert.Equal(t, int64(1700000000), at.Unix())
	}
}

func TestGetBotKeepsRawPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"bot_1","state":"ended","transcription_state":"complete","recording_state":"complete","extra":1}`))
	}))
	defer srv.Close()

	state, err := NewClient(srv.URL, "k", srv.Client()).GetBot(context.Background(), "bot_1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), state.Raw["extra"])

	status, ok := MapBotState(state)
	require.True(t, ok)
	assert.Equal(t, models.BotCompleted, status)
}

func TestMapState(t *testing.T) {
	cases := []struct {
		state, transcription, recording string
		want                            models.BotStatus
		known                           bool
	}{
		{"ended", "complete", "complete", models.BotCompleted, true},
		{"ended", "failed", "complete", models.BotFailed, true},
		{"ENDED", "", "", models.BotCompleted, true},
		{"fatal_error", "", "", models.BotFailed, true},
		{"ready", "", "", models.BotPending, true},
		{"joined_recording", "", "", models.BotStarted, true},
		{"post_processing", "", "", models.BotStarted, true},
		{"teleported", "", "", "", false},
	}
	for _, tc := range cases {
		got, ok := MapState(tc.state, tc.transcription, tc.recording)
		assert.Equal(t, tc.known, ok, tc.state)
		assert.Equal(t, tc.want, got, tc.state)
	}
}
