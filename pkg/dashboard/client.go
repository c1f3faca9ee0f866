// Package dashboard keeps a local view of meeting bots in sync with the
// meetscore API. It holds the registry of known bots, a status poller per
// in-flight bot and the scorecard fetcher that runs once a meeting completes.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/meetscore/platform/pkg/attendee"
	"github.com/meetscore/platform/pkg/common/config"
	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/meetscore/platform/pkg/gateway/httpclient"
	"golang.org/x/oauth2"
)

var ErrInvalidRequest = errors.New("invalid request")

// APIError is the single error type returned for failed API calls.
// StatusCode is 0 when the request never produced a response.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Client talks to the meetscore API. It never retries; callers decide.
type Client struct {
	baseURL      string
	callbackBase string
	http         *http.Client
}

// NewClient builds a client for baseURL. A non-empty token is sent as a
// bearer token on every request.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpclient.New(15 * time.Second)
	}
	if token != "" {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		wrapped := *httpClient
		wrapped.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		}
		httpClient = &wrapped
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func NewClientFromConfig(cfg *config.Config) *Client {
	c := NewClient(cfg.DashboardAPIBaseURL, cfg.DashboardAPIToken, httpclient.New(cfg.DashboardRequestTimeout))
	return c.WithCallbackBase(cfg.DashboardCallbackBaseURL)
}

// WithCallbackBase makes CreateBot register <base>/webhook/attendee with the
// provider for every new bot.
func (c *Client) WithCallbackBase(base string) *Client {
	c.callbackBase = strings.TrimSpace(base)
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// JoinURL appends endpoint to base. When the tail of the base path repeats
// the head of the endpoint path the overlap is written once, so
// "https://host/api" + "/api/v1/bots/" is "https://host/api/v1/bots/".
func JoinURL(base, endpoint string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	path, query, hasQuery := strings.Cut(endpoint, "?")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	prefix, basePath := "", base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		basePath = u.Path
		u.Path, u.RawPath = "", ""
		prefix = u.String()
	}

	baseSegs := splitPath(basePath)
	pathSegs := splitPath(path)
	overlap := 0
	for k := min(len(baseSegs), len(pathSegs)); k > 0; k-- {
		if equalSegments(baseSegs[len(baseSegs)-k:], pathSegs[:k]) {
			overlap = k
			break
		}
	}

	joined := strings.Join(append(baseSegs, pathSegs[overlap:]...), "/")
	out := prefix + "/" + joined
	if joined == "" {
		out = prefix + "/"
	} else if strings.HasSuffix(path, "/") {
		out += "/"
	}
	if hasQuery {
		out += "?" + query
	}
	return out
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func equalSegments(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CreateBot validates the request locally before sending it.
func (c *Client) CreateBot(ctx context.Context, req models.CreateBotRequest) (*models.BotRecord, error) {
	req.MeetingURL = strings.TrimSpace(req.MeetingURL)
	req.BotName = strings.TrimSpace(req.BotName)
	if req.MeetingURL == "" {
		return nil, fmt.Errorf("%w: meeting url is required", ErrInvalidRequest)
	}
	if !isAbsoluteHTTP(req.MeetingURL) {
		return nil, fmt.Errorf("%w: meeting url must be an absolute http(s) url", ErrInvalidRequest)
	}
	if req.BotName == "" {
		return nil, fmt.Errorf("%w: bot name is required", ErrInvalidRequest)
	}
	if c.callbackBase != "" {
		if !isAbsoluteHTTP(c.callbackBase) {
			return nil, fmt.Errorf("%w: callback base url %q must be an absolute http(s) url", ErrInvalidRequest, c.callbackBase)
		}
		req.Webhooks = append(req.Webhooks, models.WebhookConfig{
			URL:      JoinURL(c.callbackBase, "/webhook/attendee"),
			Triggers: attendee.DefaultTriggers,
		})
	}

	var bot models.BotRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/bots/", req, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// ListBots accepts both a bare array and {"items": [...], "total": n}.
// An unreadable body yields an empty list; an unreadable record is skipped.
func (c *Client) ListBots(ctx context.Context) ([]models.BotRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/bots/", nil, &raw); err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var list struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			logger.Log.WithError(err).Warn("Unreadable bot list response")
			return []models.BotRecord{}, nil
		}
		items = list.Items
	}

	bots := make([]models.BotRecord, 0, len(items))
	for i, item := range items {
		var bot models.BotRecord
		if err := json.Unmarshal(item, &bot); err != nil {
			logger.Log.WithError(err).WithField("index", i).Warn("Skipping unreadable bot record")
			continue
		}
		bots = append(bots, bot)
	}
	return bots, nil
}

func (c *Client) GetBot(ctx context.Context, id int64) (*models.BotRecord, error) {
	var bot models.BotRecord
	if err := c.do(ctx, http.MethodGet, botPath(id), nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (c *Client) DeleteBot(ctx context.Context, id int64) (*models.MessageResponse, error) {
	var resp models.MessageResponse
	if err := c.do(ctx, http.MethodDelete, botPath(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PollStatus(ctx context.Context, id int64) (*models.PollStatusResponse, error) {
	var resp models.PollStatusResponse
	if err := c.do(ctx, http.MethodPost, botPath(id)+"/poll-status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) TriggerAnalysis(ctx context.Context, id int64) (*models.MessageResponse, error) {
	var resp models.MessageResponse
	if err := c.do(ctx, http.MethodPost, meetingPath(id)+"/trigger-analysis", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetScorecard never fails on a malformed body; it reports NO_DATA instead.
func (c *Client) GetScorecard(ctx context.Context, id int64) (*models.ScorecardRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, meetingPath(id)+"/scorecard", nil, &raw); err != nil {
		return nil, err
	}

	var rec models.ScorecardRecord
	err := json.Unmarshal(raw, &rec)
	if err == nil && rec.Status == models.ScorecardAvailable && rec.Scorecard == nil {
		err = errors.New("available scorecard without payload")
	}
	if err != nil || rec.Status == "" {
		logger.Log.WithField("meeting_id", id).WithError(err).Warn("Unreadable scorecard response")
		return &models.ScorecardRecord{
			MeetingID: id,
			Status:    models.ScorecardNoData,
			Message:   "No scorecard data available",
		}, nil
	}
	if rec.MeetingID == 0 {
		rec.MeetingID = id
	}
	if rec.Status != models.ScorecardAvailable {
		rec.Scorecard = nil
	}
	return &rec, nil
}

func (c *Client) GetReport(ctx context.Context, id int64) (*models.ReportResponse, error) {
	var resp models.ReportResponse
	if err := c.do(ctx, http.MethodGet, meetingPath(id)+"/report", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetWebhookURL(ctx context.Context) (*models.WebhookURLResponse, error) {
	var resp models.WebhookURLResponse
	if err := c.do(ctx, http.MethodGet, "/webhook/url", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListWebhookEvents(ctx context.Context, limit int) ([]models.WebhookEventView, error) {
	endpoint := "/webhook/events"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var events []models.WebhookEventView
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, JoinURL(c.baseURL, endpoint), reqBody)
	if err != nil {
		return &APIError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("reading response: %v", err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = data
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, endpoint, err)
	}
	return nil
}

// errorMessage prefers the server's detail, message or error field.
func errorMessage(status int, body []byte) string {
	var payload map[string]interface{}
	if json.Unmarshal(body, &payload) == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if msg := messageFrom(payload[key]); msg != "" {
				return msg
			}
		}
	}
	return fmt.Sprintf("HTTP error, status %d", status)
}

func messageFrom(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				if msg, ok := m["msg"].(string); ok {
					parts = append(parts, msg)
				}
			} else if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func botPath(id int64) string {
	return "/api/v1/bots/" + strconv.FormatInt(id, 10)
}

func meetingPath(id int64) string {
	return "/meeting/" + strconv.FormatInt(id, 10)
}
