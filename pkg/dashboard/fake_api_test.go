package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/meetscore/platform/pkg/common/models"
)

// fakeAPI is an in-memory meetscore API. Poll results and scorecards are
// served from per-bot queues; the last queued value repeats once drained.
type fakeAPI struct {
	mu             sync.Mutex
	nextID         int64
	bots           map[int64]models.BotRecord
	statuses       map[int64][]models.BotStatus
	scorecards     map[int64][]models.ScorecardRecord
	scorecardCalls map[int64]int
	pollCalls      map[int64]int
	triggerCalls   map[int64]int
	lastCreate     models.CreateBotRequest
	lastAuth       string
	failDelete     bool
	wrapList       bool
	listGate       chan struct{}
	listStarted    chan struct{}
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		nextID:         1,
		bots:           make(map[int64]models.BotRecord),
		statuses:       make(map[int64][]models.BotStatus),
		scorecards:     make(map[int64][]models.ScorecardRecord),
		scorecardCalls: make(map[int64]int),
		pollCalls:      make(map[int64]int),
		triggerCalls:   make(map[int64]int),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/bots/", f.create).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/bots/", f.list).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/bots/{id}", f.get).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/bots/{id}", f.delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/bots/{id}/poll-status", f.poll).Methods(http.MethodPost)
	r.HandleFunc("/meeting/{id}/scorecard", f.scorecard).Methods(http.MethodGet)
	r.HandleFunc("/meeting/{id}/trigger-analysis", f.trigger).Methods(http.MethodPost)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) addBot(id int64, status models.BotStatus) models.BotRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	rec := models.BotRecord{
		ID:              id,
		MeetingURL:      "https://meet.example.com/" + strconv.FormatInt(id, 10),
		BotID:           "bot_" + strconv.FormatInt(id, 10),
		Status:          status,
		MeetingMetadata: map[string]interface{}{"bot_name": "Recorder"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	f.bots[id] = rec
	return rec
}

// holdList makes the next list request answer with the bots present now,
// but only once release is called.
func (f *fakeAPI) holdList() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.listGate = gate
	f.listStarted = make(chan struct{}, 1)
	return f.listStarted, func() {
		f.mu.Lock()
		f.listGate, f.listStarted = nil, nil
		f.mu.Unlock()
		close(gate)
	}
}

func (f *fakeAPI) queueStatus(id int64, statuses ...models.BotStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = append(f.statuses[id], statuses...)
}

func (f *fakeAPI) queueScorecard(id int64, recs ...models.ScorecardRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scorecards[id] = append(f.scorecards[id], recs...)
}

func (f *fakeAPI) scorecardCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scorecardCalls[id]
}

func (f *fakeAPI) pollCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls[id]
}

func (f *fakeAPI) create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	f.mu.Lock()
	f.lastCreate = req
	f.lastAuth = r.Header.Get("Authorization")
	id := f.nextID
	f.nextID++
	f.mu.Unlock()

	rec := f.addBot(id, models.BotPending)
	rec.MeetingURL = req.MeetingURL
	rec.MeetingMetadata["bot_name"] = req.BotName
	f.mu.Lock()
	f.bots[id] = rec
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, rec)
}

func (f *fakeAPI) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	items := make([]models.BotRecord, 0, len(f.bots))
	for _, b := range f.bots {
		items = append(items, b)
	}
	wrap := f.wrapList
	gate, started := f.listGate, f.listStarted
	f.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	if wrap {
		writeJSON(w, http.StatusOK, models.BotList{Items: items, Total: len(items)})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (f *fakeAPI) get(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	f.mu.Lock()
	rec, ok := f.bots[id]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Meeting not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (f *fakeAPI) delete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "provider unavailable"})
		return
	}
	delete(f.bots, id)
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Meeting deleted successfully"})
}

func (f *fakeAPI) poll(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls[id]++
	rec, ok := f.bots[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Meeting not found"})
		return
	}

	resp := models.PollStatusResponse{BotID: id, OldStatus: rec.Status}
	if queue := f.statuses[id]; len(queue) > 0 {
		next := queue[0]
		if len(queue) > 1 {
			f.statuses[id] = queue[1:]
		}
		if next != rec.Status {
			rec.Status = next
			rec.UpdatedAt = time.Now().UTC()
			f.bots[id] = rec
			resp.NewStatus = next
			resp.StatusUpdated = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeAPI) scorecard(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scorecardCalls[id]++

	queue := f.scorecards[id]
	if len(queue) == 0 {
		writeJSON(w, http.StatusOK, models.ScorecardRecord{MeetingID: id, Status: models.ScorecardNeedsTrigger, Message: "Analysis not started"})
		return
	}
	next := queue[0]
	if len(queue) > 1 {
		f.scorecards[id] = queue[1:]
	}
	writeJSON(w, http.StatusOK, next)
}

func (f *fakeAPI) trigger(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerCalls[id]++
	if rec, ok := f.bots[id]; !ok || rec.Status != models.BotCompleted {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Meeting must be completed before analysis"})
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Analysis triggered"})
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sampleScorecard() *models.Scorecard {
	return &models.Scorecard{
		OverallScore:         7.5,
		Sentiment:            "positive",
		KeyTopics:            []string{"roadmap"},
		ActionItems:          []string{"send notes"},
		Participants:         []string{"Ann", "Bo"},
		EngagementScore:      8,
		MeetingEffectiveness: 7,
		Summary:              "Productive planning session.",
	}
}

func testOptions() Options {
	return Options{
		Poller:  PollerConfig{Interval: 10 * time.Millisecond, MaxDuration: 5 * time.Second, MaxAttempts: 200},
		Fetcher: FetcherConfig{RetryDelay: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, MaxAttempts: 10, TriggerDelay: 5 * time.Millisecond},
	}
}
