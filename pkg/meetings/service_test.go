package meetings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meetscore/platform/pkg/attendee"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(webhookURL string) (*Service, *memStore, *fakeProvider) {
	store := newMemStore()
	provider := &fakeProvider{}
	return NewService(NewValidator(), store, provider, webhookURL), store, provider
}

func TestCreateAttachesBotAndDefaultWebhook(t *testing.T) {
	svc, _, provider := newTestService("https://hooks.example.com/webhook/")

	m, err := svc.Create(context.Background(), models.CreateBotRequest{
		MeetingURL: "https://meet.google.com/abc-defg-hij",
		BotName:    "Note Taker",
	})
	require.NoError(t, err)

	assert.Equal(t, models.BotStarted, m.Status)
	assert.Equal(t, "bot_abc", m.BotID)
	assert.Equal(t, "Note Taker", m.Record().BotName())

	require.Len(t, provider.created, 1)
	require.Len(t, provider.created[0].Webhooks, 1)
	assert.Equal(t, "https://hooks.example.com/webhook/", provider.created[0].Webhooks[0].URL)
	assert.Equal(t, attendee.DefaultTriggers, provider.created[0].Webhooks[0].Triggers)
}

func TestCreateKeepsRequestWebhooks(t *testing.T) {
	svc, _, provider := newTestService("https://hooks.example.com/webhook/")

	_, err := svc.Create(context.Background(), models.CreateBotRequest{
		MeetingURL: "https://meet.google.com/abc",
		BotName:    "Recorder",
		Webhooks:   []models.WebhookConfig{{URL: "https://dash.example.com/webhook/attendee", Triggers: []string{"bot.state_change"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://dash.example.com/webhook/attendee", provider.created[0].Webhooks[0].URL)
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	svc, store, provider := newTestService("")
	past := time.Now().Add(-time.Hour)

	cases := []models.CreateBotRequest{
		{MeetingURL: "", BotName: "x"},
		{MeetingURL: "meet.google.com/abc", BotName: "x"},
		{MeetingURL: "https://meet.google.com/abc", BotName: "  "},
		{MeetingURL: "https://meet.google.com/abc", BotName: "x", JoinAt: &past},
		{MeetingURL: "https://meet.google.com/abc", BotName: "x", Webhooks: []models.WebhookConfig{{URL: "/relative"}}},
	}
	for _, req := range cases {
		_, err := svc.Create(context.Background(), req)
		assert.True(t, IsValidationError(err), "request %+v", req)
	}
	assert.Empty(t, provider.created)
	ms, _ := store.List(context.Background())
	assert.Empty(t, ms)
}

func TestCreateProviderFailureMarksMeetingFailed(t *testing.T) {
	svc, store, provider := newTestService("")
	provider.createErr = errors.New("boom")

	_, err := svc.Create(context.Background(), models.CreateBotRequest{MeetingURL: "https://zoom.us/j/1", BotName: "Bot"})
	require.ErrorIs(t, err, ErrProviderFailed)

	ms, _ := store.List(context.Background())
	require.Len(t, ms, 1)
	assert.Equal(t, models.BotFailed, ms[0].Status)
}

func TestPollStatusMapsProviderState(t *testing.T) {
	svc, _, provider := newTestService("")
	completion := &recordingCompletion{}
	svc.SetCompletionHandler(completion)
	ctx := context.Background()

	m, err := svc.Create(ctx, models.CreateBotRequest{MeetingURL: "https://zoom.us/j/1", BotName: "Bot"})
	require.NoError(t, err)

	provider.state = attendee.BotState{State: "ended", TranscriptionState: "complete"}
	resp, err := svc.PollStatus(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, resp.StatusUpdated)
	assert.Equal(t, models.BotStarted, resp.OldStatus)
	assert.Equal(t, models.BotCompleted, resp.NewStatus)
	assert.Equal(t, "ended", resp.ProviderData["state"])
	assert.Equal(t, []int64{m.ID}, completion.calls)

	resp, err = svc.PollStatus(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, resp.StatusUpdated)
	assert.Len(t, completion.calls, 1)
}

func TestPollStatusUnknownStateKeepsStatus(t *testing.T) {
	svc, store, provider := newTestService("")
	ctx := context.Background()

	m, err := svc.Create(ctx, models.CreateBotRequest{MeetingURL: "https://zoom.us/j/1", BotName: "Bot"})
	require.NoError(t, err)

	provider.state = attendee.BotState{State: "teleporting"}
	resp, err := svc.PollStatus(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, resp.StatusUpdated)
	assert.Empty(t, resp.NewStatus)

	got, _ := store.Get(ctx, m.ID)
	assert.Equal(t, models.BotStarted, got.Status)
}

func TestPollStatusNeverMovesBackToPending(t *testing.T) {
	svc, store, provider := newTestService("")
	ctx := context.Background()

	m, err := svc.Create(ctx, models.CreateBotRequest{MeetingURL: "https://zoom.us/j/1", BotName: "Bot"})
	require.NoError(t, err)
	require.Equal(t, models.BotStarted, m.Status)

	for _, state := range []string{"ready", "staged", "scheduled"} {
		provider.state = attendee.BotState{State: state}
		resp, err := svc.PollStatus(ctx, m.ID)
		require.NoError(t, err, state)
		assert.False(t, resp.StatusUpdated, state)
		assert.Empty(t, resp.NewStatus, state)
	}

	got, _ := store.Get(ctx, m.ID)
	assert.Equal(t, models.BotStarted, got.Status)
}

func TestPollStatusWithoutBotID(t *testing.T) {
	svc, store, _ := newTestService("")
	m := &Meeting{MeetingURL: "https://zoom.us/j/1", Status: models.BotPending}
	require.NoError(t, store.Create(context.Background(), m))

	_, err := svc.PollStatus(context.Background(), m.ID)
	assert.ErrorIs(t, err, ErrNoBotID)

	_, err = svc.PollStatus(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRunsCleanersFirst(t *testing.T) {
	svc, store, _ := newTestService("")
	ctx := context.Background()
	m, err := svc.Create(ctx, models.CreateBotRequest{MeetingURL: "https://zoom.us/j/1", BotName: "Bot"})
	require.NoError(t, err)

	failing := &recordingCleaner{err: errors.New("db down")}
	svc.AddCleaner(failing)
	require.Error(t, svc.Delete(ctx, m.ID))
	_, err = store.Get(ctx, m.ID)
	require.NoError(t, err, "meeting must survive a failed cleanup")

	svc.cleaners = nil
	cleaner := &recordingCleaner{}
	svc.AddCleaner(cleaner)
	require.NoError(t, svc.Delete(ctx, m.ID))
	assert.Equal(t, []int64{m.ID}, cleaner.cleaned)
	_, err = store.Get(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, m.ID), ErrNotFound)
}

func TestAddWebhookNeedsConfiguredURL(t *testing.T) {
	svc, _, provider := newTestService("")
	ctx := context.Background()
	m, err := svc.Create(ctx, models.CreateBotRequest{MeetingURL: "https://zoom.us/j/1", BotName: "Bot"})
	require.NoError(t, err)

	_, err = svc.AddWebhook(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNoWebhookURL)

	svc.webhookURL = "https://hooks.example.com/webhook/"
	out, err := svc.AddWebhook(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/webhook/", out["url"])
	require.Len(t, provider.hooks, 1)
}

func TestStaleSelectsUnfinishedMeetings(t *testing.T) {
	svc, store, _ := newTestService("")
	ctx := context.Background()

	fresh, err := svc.Create(ctx, models.CreateBotRequest{MeetingURL: "https://zoom.us/j/1", BotName: "Bot"})
	require.NoError(t, err)
	old, err := svc.Create(ctx, models.CreateBotRequest{MeetingURL: "https://zoom.us/j/2", BotName: "Bot"})
	require.NoError(t, err)
	done, err := svc.Create(ctx, models.CreateBotRequest{MeetingURL: "https://zoom.us/j/3", BotName: "Bot"})
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, done.ID, models.BotCompleted))

	store.backdate(old.ID, time.Hour)
	store.backdate(done.ID, time.Hour)

	stale, err := svc.Stale(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.NotEqual(t, fresh.ID, stale[0].ID)
}
