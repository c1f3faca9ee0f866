package polling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/meetings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMeetings struct {
	mu       sync.Mutex
	rows     map[int64]*meetings.Meeting
	next     map[string]models.BotStatus
	failBots map[string]bool
	ages     []time.Duration
	sources  []string
}

func newFakeMeetings() *fakeMeetings {
	return &fakeMeetings{
		rows:     map[int64]*meetings.Meeting{},
		next:     map[string]models.BotStatus{},
		failBots: map[string]bool{},
	}
}

func (f *fakeMeetings) Get(_ context.Context, id int64) (*meetings.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, meetings.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMeetings) Stale(_ context.Context, age time.Duration) ([]meetings.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ages = append(f.ages, age)
	var out []meetings.Meeting
	for id := int64(1); id <= int64(len(f.rows)); id++ {
		if m, ok := f.rows[id]; ok && !m.Status.IsTerminal() {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMeetings) PollMeeting(_ context.Context, m *meetings.Meeting, source string) (*models.PollStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	if m.BotID == "" {
		return nil, meetings.ErrNoBotID
	}
	if f.failBots[m.BotID] {
		return nil, fmt.Errorf("%w: timeout", meetings.ErrProviderFailed)
	}
	resp := &models.PollStatusResponse{BotID: m.ID, OldStatus: m.Status}
	status, ok := f.next[m.BotID]
	if !ok {
		return resp, nil
	}
	resp.NewStatus = status
	resp.StatusUpdated = status != m.Status
	f.rows[m.ID].Status = status
	return resp, nil
}

type observed struct {
	meetingID int64
	status    models.BotStatus
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []observed
}

func (r *fakeRecorder) RecordObserved(_ context.Context, m *meetings.Meeting, status models.BotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, observed{m.ID, status})
	return nil
}

func fixture() (*fakeMeetings, *fakeRecorder, *Job) {
	ms := newFakeMeetings()
	ms.rows[1] = &meetings.Meeting{ID: 1, BotID: "bot_1", Status: models.BotStarted}
	ms.rows[2] = &meetings.Meeting{ID: 2, BotID: "bot_2", Status: models.BotPending}
	ms.rows[3] = &meetings.Meeting{ID: 3, Status: models.BotPending}
	ms.rows[4] = &meetings.Meeting{ID: 4, BotID: "bot_4", Status: models.BotStarted}
	ms.next["bot_1"] = models.BotCompleted
	ms.next["bot_2"] = models.BotStarted
	ms.failBots["bot_4"] = true
	rec := &fakeRecorder{}
	return ms, rec, NewJob(ms, rec, time.Minute, 10*time.Minute)
}

func TestRunOncePollsStaleMeetings(t *testing.T) {
	ms, rec, job := fixture()

	summary, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Checked, "meetings without a bot are skipped")
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.Errors)
	assert.Len(t, summary.Results, 2)
	assert.Equal(t, []time.Duration{10 * time.Minute}, ms.ages)
	for _, s := range ms.sources {
		assert.Equal(t, "polling", s)
	}

	assert.Equal(t, []observed{{1, models.BotCompleted}}, rec.calls)

	st := job.Status()
	assert.EqualValues(t, 1, st.Runs)
	assert.Equal(t, 3, st.LastChecked)
	assert.Equal(t, 1, st.LastErrors)
	require.NotNil(t, st.LastRunAt)
}

func TestCheckAllIgnoresAge(t *testing.T) {
	ms, _, job := fixture()
	_, err := job.CheckAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0}, ms.ages)
}

func TestCheckOne(t *testing.T) {
	_, rec, job := fixture()

	resp, err := job.CheckOne(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.BotCompleted, resp.NewStatus)
	assert.Len(t, rec.calls, 1)

	_, err = job.CheckOne(context.Background(), 99)
	assert.ErrorIs(t, err, meetings.ErrNotFound)
	_, err = job.CheckOne(context.Background(), 3)
	assert.ErrorIs(t, err, meetings.ErrNoBotID)
}

func TestStartStopsWithContext(t *testing.T) {
	ms, _, _ := fixture()
	job := NewJob(ms, nil, 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return job.Status().Runs > 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, job.Status().Running)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop")
	}
	assert.False(t, job.Status().Running)
}

func TestPollingRoutes(t *testing.T) {
	_, _, job := fixture()
	router := mux.NewRouter()
	NewHTTPHandler(job).Register(router.PathPrefix("/polling").Subrouter())

	cases := []struct {
		method, path string
		code         int
	}{
		{http.MethodGet, "/polling/status", http.StatusOK},
		{http.MethodPost, "/polling/check/1", http.StatusOK},
		{http.MethodPost, "/polling/check/3", http.StatusBadRequest},
		{http.MethodPost, "/polling/check/4", http.StatusBadGateway},
		{http.MethodPost, "/polling/check/99", http.StatusNotFound},
		{http.MethodPost, "/polling/check-all", http.StatusOK},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(c.method, c.path, nil))
		assert.Equal(t, c.code, rec.Code, c.path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/polling/status", nil))
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.EqualValues(t, 1, st.Runs)
	assert.Equal(t, "1m0s", st.Interval)
}

func TestProviderErrorsAreWrapped(t *testing.T) {
	_, _, job := fixture()
	_, err := job.CheckOne(context.Background(), 4)
	assert.True(t, errors.Is(err, meetings.ErrProviderFailed))
}
