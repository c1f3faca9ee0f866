package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBotStatusIsCaseInsensitive(t *testing.T) {
	for _, in := range []string{"completed", "Completed", " COMPLETED "} {
		s, err := ParseBotStatus(in)
		require.NoError(t, err)
		assert.Equal(t, BotCompleted, s)
	}

	_, err := ParseBotStatus("joining")
	assert.Error(t, err)
}

func TestBotStatusTerminal(t *testing.T) {
	assert.True(t, BotCompleted.IsTerminal())
	assert.True(t, BotFailed.IsTerminal())
	assert.False(t, BotPending.IsTerminal())
	assert.False(t, BotStarted.IsTerminal())
}

func TestScorecardRecordWireForm(t *testing.T) {
	var rec ScorecardRecord
	raw := `{"meeting_id":42,"status":"available","message":"ok","scorecard":{"overall_score":8.5,"sentiment":"positive"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))

	assert.Equal(t, ScorecardAvailable, rec.Status)
	require.NotNil(t, rec.Scorecard)
	assert.Equal(t, 8.5, rec.Scorecard.OverallScore)

	out, err := json.Marshal(ScorecardRecord{MeetingID: 1, Status: ScorecardNoData})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"status":"no_data"`)
}

func TestScorecardStatusRejectsUnknown(t *testing.T) {
	var rec ScorecardRecord
	err := json.Unmarshal([]byte(`{"meeting_id":1,"status":"weird"}`), &rec)
	assert.Error(t, err)
	assert.False(t, ScorecardProcessing.IsTerminal())
	assert.True(t, ScorecardNeedsTrigger.IsTerminal())
}

func TestPollStatusResponseOptionalStatus(t *testing.T) {
	var resp PollStatusResponse
	require.NoError(t, json.Unmarshal([]byte(`{"status_updated":false,"new_status":""}`), &resp))
	assert.Empty(t, resp.NewStatus)
}

func TestBotRecordMetadataAccessors(t *testing.T) {
	rec := BotRecord{MeetingMetadata: map[string]interface{}{
		"bot_name": "Note Taker",
		"join_at":  "2026-01-02T15:04:05Z",
	}}
	assert.Equal(t, "Note Taker", rec.BotName())
	require.NotNil(t, rec.JoinAt())
	assert.Equal(t, 2026, rec.JoinAt().Year())

	assert.Nil(t, BotRecord{}.JoinAt())
}
