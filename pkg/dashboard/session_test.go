package dashboard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/meetscore/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*fakeAPI, *Session) {
	t.Helper()
	api, srv := newFakeAPI(t)
	opts := testOptions()
	opts.StateFile = filepath.Join(t.TempDir(), "state.yaml")
	s := NewSession(NewClient(srv.URL, "", srv.Client()), opts)
	t.Cleanup(s.Close)
	return api, s
}

func TestCreateThenListContainsNewBot(t *testing.T) {
	_, s := newTestSession(t)
	ctx := context.Background()

	bot, err := s.Create(ctx, models.CreateBotRequest{MeetingURL: "https://meet.example.com/a", BotName: "Recorder"})
	require.NoError(t, err)

	require.NoError(t, s.Refresh(ctx))
	view, ok := s.Detail(bot.ID)
	require.True(t, ok)
	assert.Contains(t, []models.BotStatus{models.BotPending, models.BotStarted}, view.Status)
	assert.True(t, s.Polling(bot.ID))
}

func TestDeleteRemovesBotAndStopsPolling(t *testing.T) {
	api, s := newTestSession(t)
	ctx := context.Background()

	bot, err := s.Create(ctx, models.CreateBotRequest{MeetingURL: "https://meet.example.com/a", BotName: "Recorder"})
	require.NoError(t, err)
	require.NoError(t, s.Select(ctx, bot.ID))
	require.True(t, s.Polling(bot.ID))

	require.NoError(t, s.Delete(ctx, bot.ID))
	assert.False(t, s.Polling(bot.ID))
	assert.False(t, s.Registry().Has(bot.ID))
	_, selected := s.Selected()
	assert.False(t, selected)

	polls := api.pollCount(bot.ID)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, polls, api.pollCount(bot.ID))

	require.NoError(t, s.Refresh(ctx))
	for _, v := range s.List() {
		assert.NotEqual(t, bot.ID, v.ID)
	}
}

func TestRefreshInFlightDuringDeleteKeepsBotDeleted(t *testing.T) {
	api, s := newTestSession(t)
	ctx := context.Background()
	api.addBot(7, models.BotStarted)
	require.NoError(t, s.Refresh(ctx))
	require.True(t, s.Polling(7))

	started, release := api.holdList()
	refreshed := make(chan error, 1)
	go func() { refreshed <- s.Refresh(ctx) }()
	<-started

	require.NoError(t, s.Delete(ctx, 7))
	release()
	require.NoError(t, <-refreshed)

	assert.False(t, s.Registry().Has(7))
	assert.False(t, s.Polling(7))
	polls := api.pollCount(7)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, polls, api.pollCount(7))
}

func TestRefreshFetchesScorecardForCompletedBot(t *testing.T) {
	api, s := newTestSession(t)
	ctx := context.Background()
	api.addBot(9, models.BotCompleted)
	api.queueScorecard(9, models.ScorecardRecord{Status: models.ScorecardAvailable, Scorecard: sampleScorecard()})

	require.NoError(t, s.Refresh(ctx))
	rec, err := s.AwaitScorecard(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.ScorecardAvailable, rec.Status)
	assert.Equal(t, 1, api.scorecardCount(9))

	require.NoError(t, s.Refresh(ctx))
	v, _ := s.Detail(9)
	assert.False(t, v.Fetching)
	assert.Equal(t, 1, api.scorecardCount(9), "a stored scorecard is not fetched again")
}

func TestTriggerThenAwaitScorecard(t *testing.T) {
	api, s := newTestSession(t)
	ctx := context.Background()
	api.addBot(10, models.BotCompleted)
	require.NoError(t, s.Refresh(ctx))
	rec, err := s.AwaitScorecard(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.ScorecardNeedsTrigger, rec.Status)

	api.queueScorecard(10,
		models.ScorecardRecord{Status: models.ScorecardProcessing},
		models.ScorecardRecord{Status: models.ScorecardAvailable, Scorecard: sampleScorecard()},
	)
	_, err = s.TriggerAnalysis(ctx, 10)
	require.NoError(t, err)

	rec, err = s.AwaitScorecard(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.ScorecardAvailable, rec.Status)
	assert.Equal(t, sampleScorecard(), rec.Scorecard)
}

func TestDeleteFailureLeavesRegistryUnchanged(t *testing.T) {
	api, s := newTestSession(t)
	ctx := context.Background()
	api.addBot(3, models.BotCompleted)
	require.NoError(t, s.Refresh(ctx))

	api.failDelete = true
	err := s.Delete(ctx, 3)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "provider unavailable", apiErr.Message)
	assert.True(t, s.Registry().Has(3))
	assert.Equal(t, err, s.LastError())
}

func TestCompletionScenarioFetchesScorecard(t *testing.T) {
	api, s := newTestSession(t)
	ctx := context.Background()
	api.nextID = 42
	api.queueStatus(42, models.BotPending, models.BotCompleted)
	api.queueScorecard(42,
		models.ScorecardRecord{Status: models.ScorecardProcessing, Message: "Analysis in progress"},
		models.ScorecardRecord{Status: models.ScorecardAvailable, Scorecard: sampleScorecard()},
	)

	bot, err := s.Create(ctx, models.CreateBotRequest{MeetingURL: "https://meet.example.com/42", BotName: "Recorder"})
	require.NoError(t, err)
	require.Equal(t, int64(42), bot.ID)
	assert.Equal(t, models.BotPending, bot.Status)

	require.Eventually(t, func() bool {
		v, ok := s.Detail(42)
		return ok && v.Scorecard != nil && v.Scorecard.Status == models.ScorecardAvailable
	}, 3*time.Second, 5*time.Millisecond)

	v, _ := s.Detail(42)
	assert.Equal(t, models.BotCompleted, v.Status)
	assert.False(t, v.Polling)
	assert.Equal(t, sampleScorecard(), v.Scorecard.Scorecard)

	calls := api.scorecardCount(42)
	assert.Equal(t, 2, calls)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, api.scorecardCount(42))
}

func TestTriggerAnalysisRequiresCompletedMeeting(t *testing.T) {
	api, s := newTestSession(t)
	ctx := context.Background()
	api.addBot(5, models.BotStarted)
	require.NoError(t, s.Refresh(ctx))

	_, err := s.TriggerAnalysis(ctx, 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)

	_, err = s.TriggerAnalysis(ctx, 999)
	assert.ErrorIs(t, err, ErrUnknownBot)
}

func TestSelectFetchesScorecardForCompletedMeeting(t *testing.T) {
	api, s := newTestSession(t)
	ctx := context.Background()
	api.addBot(8, models.BotCompleted)
	api.queueScorecard(8, models.ScorecardRecord{Status: models.ScorecardNoData, Message: "No transcript available"})
	require.NoError(t, s.Refresh(ctx))

	require.NoError(t, s.Select(ctx, 8))
	require.Eventually(t, func() bool {
		v, _ := s.Selected()
		return v.Scorecard != nil
	}, time.Second, 5*time.Millisecond)

	v, ok := s.Selected()
	require.True(t, ok)
	assert.True(t, v.Selected)
	assert.Equal(t, models.ScorecardNoData, v.Scorecard.Status)
}

func TestStuckFlag(t *testing.T) {
	_, s := newTestSession(t)
	old := time.Now().Add(-time.Hour)
	s.opts.StuckThreshold = 30 * time.Minute
	s.Registry().UpsertBot(bot(1, models.BotStarted, old))
	s.Registry().UpsertBot(bot(2, models.BotCompleted, old))
	s.Registry().UpsertBot(bot(3, models.BotStarted, time.Now()))

	v1, _ := s.Detail(1)
	v2, _ := s.Detail(2)
	v3, _ := s.Detail(3)
	assert.True(t, v1.Stuck)
	assert.False(t, v2.Stuck)
	assert.False(t, v3.Stuck)
}

func TestSelectionSurvivesRestart(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.addBot(12, models.BotCompleted)
	opts := testOptions()
	opts.StateFile = filepath.Join(t.TempDir(), "nested", "state.yaml")
	ctx := context.Background()

	first := NewSession(NewClient(srv.URL, "", srv.Client()), opts)
	require.NoError(t, first.Refresh(ctx))
	require.NoError(t, first.Select(ctx, 12))
	first.Close()

	second := NewSession(NewClient(srv.URL, "", srv.Client()), opts)
	defer second.Close()
	require.NoError(t, second.Refresh(ctx))
	v, ok := second.Selected()
	require.True(t, ok)
	assert.Equal(t, int64(12), v.ID)
}
