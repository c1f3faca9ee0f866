package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/meetscore/platform/pkg/attendee"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinURL(t *testing.T) {
	cases := []struct {
		base, endpoint, want string
	}{
		{"https://host/api", "/api/v1/bots/", "https://host/api/v1/bots/"},
		{"https://host/api/", "/api/v1/bots/", "https://host/api/v1/bots/"},
		{"https://host", "/api/v1/bots/", "https://host/api/v1/bots/"},
		{"https://host/", "api/v1/bots/7", "https://host/api/v1/bots/7"},
		{"https://host/prefix", "/api/v1/bots/", "https://host/prefix/api/v1/bots/"},
		{"https://host/api/v1", "/api/v1/bots/", "https://host/api/v1/bots/"},
		{"https://host/api", "/webhook/events?limit=5", "https://host/api/webhook/events?limit=5"},
		{"http://localhost:8000", "/meeting/3/scorecard", "http://localhost:8000/meeting/3/scorecard"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, JoinURL(tc.base, tc.endpoint), "%s + %s", tc.base, tc.endpoint)
	}
}

func TestJoinURLNeverDuplicatesSharedSegment(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("shared leading segment is written once", prop.ForAll(
		func(seg, rest string, trailing bool) bool {
			base := "https://host/" + seg
			if trailing {
				base += "/"
			}
			return JoinURL(base, "/"+seg+"/"+rest+"/") == "https://host/"+seg+"/"+rest+"/"
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Bool(),
	))

	properties.Property("query string is preserved", prop.ForAll(
		func(seg string, limit int) bool {
			got := JoinURL("https://host/"+seg, "/x?limit="+strconv.Itoa(limit))
			return strings.HasSuffix(got, "/x?limit="+strconv.Itoa(limit))
		},
		gen.Identifier(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestAPIErrorMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/bots/1":
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Meeting not found"})
		case "/api/v1/bots/2":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad id"})
		case "/api/v1/bots/3":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"detail": []map[string]string{{"msg": "field required"}},
			})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	cases := map[int64]struct {
		code int
		msg  string
	}{
		1: {http.StatusNotFound, "Meeting not found"},
		2: {http.StatusBadRequest, "bad id"},
		3: {http.StatusUnprocessableEntity, "field required"},
		4: {http.StatusBadGateway, "HTTP error, status 502"},
	}
	for id, want := range cases {
		_, err := c.GetBot(context.Background(), id)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, want.code, apiErr.StatusCode)
		assert.Equal(t, want.msg, apiErr.Message)
	}
}

func TestTransportFailureIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", nil).ListBots(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode)
	assert.NotNil(t, errors.Unwrap(apiErr))
}

func TestListBotsAcceptsBothShapes(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.addBot(1, models.BotPending)
	api.addBot(2, models.BotCompleted)
	c := NewClient(srv.URL, "", srv.Client())

	bots, err := c.ListBots(context.Background())
	require.NoError(t, err)
	assert.Len(t, bots, 2)

	api.wrapList = true
	bots, err = c.ListBots(context.Background())
	require.NoError(t, err)
	assert.Len(t, bots, 2)
}

func TestListBotsMalformedIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"not a list"`))
	}))
	defer srv.Close()

	bots, err := NewClient(srv.URL, "", srv.Client()).ListBots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bots)
}

func TestListBotsSkipsUnreadableRecords(t *testing.T) {
	for name, body := range map[string]string{
		"array":   `[{"id":1,"meeting_url":"https://meet.example.com/1","status":"COMPLETED"},{"id":2,"meeting_url":"https://meet.example.com/2","status":"in_progress"},{"id":3,"meeting_url":"https://meet.example.com/3","status":"started"}]`,
		"wrapped": `{"items":[{"id":1,"meeting_url":"https://meet.example.com/1","status":"COMPLETED"},{"id":2,"status":"in_progress"},{"id":3,"status":"started"}],"total":3}`,
	} {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		bots, err := NewClient(srv.URL, "", srv.Client()).ListBots(context.Background())
		srv.Close()
		require.NoError(t, err, name)
		require.Len(t, bots, 2, name)
		assert.Equal(t, int64(1), bots[0].ID, name)
		assert.Equal(t, models.BotCompleted, bots[0].Status, name)
		assert.Equal(t, int64(3), bots[1].ID, name)
		assert.Equal(t, models.BotStarted, bots[1].Status, name)
	}
}

func TestGetScorecardMalformedIsNoData(t *testing.T) {
	bodies := []string{
		`<html>oops</html>`,
		`{"meeting_id":5,"status":"somewhere"}`,
		`{"meeting_id":5,"status":"available","scorecard":null}`,
		`{}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		rec, err := NewClient(srv.URL, "", srv.Client()).GetScorecard(context.Background(), 5)
		srv.Close()

		require.NoError(t, err, body)
		assert.Equal(t, models.ScorecardNoData, rec.Status, body)
		assert.Equal(t, int64(5), rec.MeetingID)
		assert.Nil(t, rec.Scorecard)
	}
}

func TestGetScorecardIsStableWithoutProviderChange(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.addBot(9, models.BotCompleted)
	api.queueScorecard(9, models.ScorecardRecord{MeetingID: 9, Status: models.ScorecardAvailable, Scorecard: sampleScorecard()})
	c := NewClient(srv.URL, "", srv.Client())

	first, err := c.GetScorecard(context.Background(), 9)
	require.NoError(t, err)
	second, err := c.GetScorecard(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, models.ScorecardAvailable, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Scorecard, second.Scorecard)
}

func TestCreateBotValidatesBeforeSending(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := NewClient(srv.URL, "", srv.Client())

	bad := []models.CreateBotRequest{
		{MeetingURL: "", BotName: "x"},
		{MeetingURL: "meet.example.com/abc", BotName: "x"},
		{MeetingURL: "https://meet.example.com/abc", BotName: "  "},
	}
	for _, req := range bad {
		_, err := c.CreateBot(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	assert.Equal(t, int64(1), api.nextID)

	_, err := c.WithCallbackBase("not-a-url").CreateBot(context.Background(), models.CreateBotRequest{
		MeetingURL: "https://meet.example.com/abc", BotName: "x",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateBotAttachesCallbackAndToken(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := NewClient(srv.URL, "tok-1", srv.Client()).WithCallbackBase("https://hooks.example.com/")

	bot, err := c.CreateBot(context.Background(), models.CreateBotRequest{
		MeetingURL: "https://meet.example.com/abc",
		BotName:    "Recorder",
	})
	require.NoError(t, err)
	assert.Equal(t, models.BotPending, bot.Status)
	assert.Equal(t, "Recorder", bot.BotName())

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "Bearer tok-1", api.lastAuth)
	require.Len(t, api.lastCreate.Webhooks, 1)
	assert.Equal(t, "https://hooks.example.com/webhook/attendee", api.lastCreate.Webhooks[0].URL)
	assert.Equal(t, attendee.DefaultTriggers, api.lastCreate.Webhooks[0].Triggers)
}
