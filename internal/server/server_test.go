package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/config"
	"github.com/arfve/launchsite/internal/livecount"
	"github.com/arfve/launchsite/internal/mailerlite"
	"github.com/arfve/launchsite/internal/survey"
)

type mockCounter struct {
	mu        sync.Mutex
	count     int
	err       error
	gets      int
	refreshes int
}

func (m *mockCounter) GetCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	return m.count, m.err
}

func (m *mockCounter) RefreshCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return m.count, m.err
}

func (m *mockCounter) set(count int, err error) {
	m.mu.Lock()
	m.count, m.err = count, err
	m.mu.Unlock()
}

func (m *mockCounter) refreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

type mockNewsletter struct {
	configured bool
	err        error
	last       mailerlite.SubscribeParams
}

func (m *mockNewsletter) ListSubscribers(context.Context, mailerlite.ListParams) (*mailerlite.SubscriberPage, error) {
	return nil, errors.New("not implemented")
}

func (m *mockNewsletter) Subscribe(_ context.Context, p mailerlite.SubscribeParams) (*mailerlite.Subscriber, error) {
	m.last = p
	if !m.configured {
		return nil, mailerlite.ErrNotConfigured
	}
	if m.err != nil {
		return nil, m.err
	}
	return &mailerlite.Subscriber{ID: "sub-42", Email: p.Email}, nil
}

func (m *mockNewsletter) Configured() bool { return m.configured }

func testConfig() *config.Config {
	return &config.Config{
		MailerLite: config.MailerLiteConfig{APIKey: "key", GroupID: "group-1234", SurveyGroupID: ""},
		LiveCount: config.LiveCountConfig{
			Total:            1000,
			Fallback:         490,
			Heartbeat:        time.Hour,
			WebhookTimeout:   time.Second,
			WebSocketEnabled: true,
		},
	}
}

type testEnv struct {
	counter    *mockCounter
	newsletter *mockNewsletter
	live       *livecount.Service
	handler    http.Handler
}

func newTestEnv(t *testing.T, surveySvc *survey.Service) *testEnv {
	t.Helper()
	cfg := testConfig()
	counter := &mockCounter{count: 500}
	newsletter := &mockNewsletter{configured: true}
	live := livecount.NewService(counter, cfg.LiveCount, zap.NewNop())

	handler, err := NewRouter(NewServer(live, newsletter, surveySvc, cfg, zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &testEnv{counter: counter, newsletter: newsletter, live: live, handler: handler}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestWebhook_MalformedInput(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "Request body is required"},
		{"whitespace body", "  \n ", "Request body is required"},
		{"not json", "{nope", "Invalid JSON payload"},
		{"missing type", `{"data":{}}`, "Invalid webhook payload structure"},
		{"non-string type", `{"type":7}`, "Invalid webhook payload structure"},
		{"array payload", `["subscriber.created"]`, "Invalid webhook payload structure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/webhooks/mailerlite", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if got := decode(t, rec)["error"]; got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	if env.counter.refreshCalls() != 0 {
		t.Errorf("malformed webhooks must not trigger a recount")
	}
}

func TestWebhook_IgnoredEventType(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/webhooks/mailerlite", `{"type":"campaign.sent"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["processed"] != false || body["eventType"] != "campaign.sent" || body["success"] != true {
		t.Errorf("unexpected ack %v", body)
	}
	if env.counter.refreshCalls() != 0 {
		t.Errorf("expected no recount, got %d", env.counter.refreshCalls())
	}
}

func TestWebhook_RecountFailureStillAcknowledged(t *testing.T) {
	env := newTestEnv(t, nil)
	env.counter.set(0, mailerlite.ErrUnreachable)

	rec := env.do(http.MethodPost, "/api/webhooks/mailerlite", `{"type":"subscriber.deleted"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if decode(t, rec)["processed"] != true {
		t.Error("expected processed=true")
	}
	if env.counter.refreshCalls() != 1 {
		t.Errorf("expected one recount, got %d", env.counter.refreshCalls())
	}
	if env.live.Store().Get() != 490 {
		t.Errorf("expected store untouched, got %d", env.live.Store().Get())
	}
}

func TestSubscriberCount(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/subscriber-count", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Cache-Control"), "no-store") {
		t.Errorf("expected no-store, got %q", rec.Header().Get("Cache-Control"))
	}
	body := decode(t, rec)
	if body["count"] != float64(500) || body["total"] != float64(1000) {
		t.Errorf("unexpected body %v", body)
	}
	if ts, ok := body["timestamp"].(float64); !ok || ts <= 0 {
		t.Errorf("expected epoch-ms timestamp, got %v", body["timestamp"])
	}
}

func TestSubscriberCount_FallbackOnFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.counter.set(0, mailerlite.ErrNotConfigured)
	env.live.Store().Set(812)

	rec := env.do(http.MethodGet, "/api/subscriber-count", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode(t, rec)["count"]; got != float64(490) {
		t.Errorf("expected fallback 490, got %v", got)
	}
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/subscribe", `{"email":" fan@example.com ","name":"Ada"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["id"] != "sub-42" {
		t.Errorf("unexpected body %v", body)
	}
	if env.newsletter.last.Email != "fan@example.com" || env.newsletter.last.Name != "Ada" {
		t.Errorf("unexpected subscribe params %+v", env.newsletter.last)
	}
}

func TestSubscribe_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		configured bool
		err        error
		wantStatus int
		wantError  string
	}{
		{"invalid email", `{"email":"not-an-email"}`, true, nil, http.StatusBadRequest, "Invalid email address"},
		{"display name form", `{"email":"Ada <ada@example.com>"}`, true, nil, http.StatusBadRequest, "Invalid email address"},
		{"rejected upstream", `{"email":"ada@example.com"}`, true, mailerlite.ErrInvalidSubscriber, http.StatusBadRequest, "Invalid email address"},
		{"not configured", `{"email":"ada@example.com"}`, false, nil, http.StatusServiceUnavailable, "Newsletter service not configured"},
		{"upstream down", `{"email":"ada@example.com"}`, true, mailerlite.ErrUnreachable, http.StatusBadGateway, "Failed to subscribe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.newsletter.configured = tt.configured
			env.newsletter.err = tt.err

			rec := env.do(http.MethodPost, "/api/subscribe", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := decode(t, rec)["error"]; got != tt.wantError {
				t.Errorf("expected %q, got %q", tt.wantError, got)
			}
		})
	}
}

func TestSurveyRoutes_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/questions", "/api/export-survey"} {
		rec := env.do(http.MethodGet, path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, rec.Code)
		}
	}
}

func TestSurveyRoutes(t *testing.T) {
	store := survey.NewMemoryStore()
	store.AddSurvey("Launch", []survey.Question{
		{ID: "q1", Text: "Pick one", Type: "single-choice", OrderNo: 1, QuestionCode: "Q1",
			Options: []survey.Option{{ID: "o1", Value: "Yes", OrderNo: 1}}},
	})
	svc := survey.NewService(store, nil, "Launch", "", zap.NewNop())
	env := newTestEnv(t, svc)

	rec := env.do(http.MethodGet, "/api/questions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("questions: expected 200, got %d", rec.Code)
	}
	var qs []survey.Question
	if err := json.Unmarshal(rec.Body.Bytes(), &qs); err != nil || len(qs) != 1 {
		t.Fatalf("unexpected questions %s", rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/api/submit-survey", `{"answers":{"q1":"Yes"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["answers_count"] != float64(1) {
		t.Errorf("unexpected submit result %s", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/api/export-survey", "")
	if decode(t, rec)["total_responses"] != float64(1) {
		t.Errorf("unexpected export %s", rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/api/export-survey?format=csv", "")
	if rec.Header().Get("Content-Type") != "text/csv" {
		t.Errorf("expected text/csv, got %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Q1,Yes") {
		t.Errorf("unexpected csv %q", rec.Body.String())
	}
}

func TestDebugMailerLite(t *testing.T) {
	env := newTestEnv(t, nil)

	body := decode(t, env.do(http.MethodGet, "/api/debug/mailerlite", ""))
	if body["hasApiKey"] != true || body["defaultGroupIdSuffix"] != "1234" || body["surveyGroupIdSuffix"] != "NOT SET" {
		t.Errorf("unexpected debug body %v", body)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

// brokenChannel fails every write, like a browser that went away.
type brokenChannel struct {
	mu     sync.Mutex
	closed bool
}

func (b *brokenChannel) ID() string { return "broken" }

func (b *brokenChannel) Send(_ []byte) error { return errors.New("write: broken pipe") }

func (b *brokenChannel) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *brokenChannel) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func TestLiveCountEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/live-count", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	// 1. snapshot on connect
	if ev := readEvent(t, reader); ev != `data: {"count":500,"total":1000}` {
		t.Fatalf("unexpected snapshot %q", ev)
	}

	// 2. webhook triggers a broadcast with the upstream count
	env.counter.set(501, nil)
	post := func() {
		res, err := http.Post(server.URL+"/api/webhooks/mailerlite", "application/json",
			strings.NewReader(`{"type":"subscriber.created","data":{"email":"x@example.com"}}`))
		if err != nil {
			t.Fatalf("webhook: %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("webhook: expected 200, got %d", res.StatusCode)
		}
	}
	post()
	if ev := readEvent(t, reader); ev != `data: {"count":501,"total":1000}` {
		t.Fatalf("unexpected update %q", ev)
	}

	// 3. a channel whose transport fails is pruned on the next broadcast
	broken := &brokenChannel{}
	env.live.Registry().Add(broken)
	env.counter.set(502, nil)
	post()
	if ev := readEvent(t, reader); ev != `data: {"count":502,"total":1000}` {
		t.Fatalf("unexpected update %q", ev)
	}
	if env.live.Registry().Len() != 1 {
		t.Errorf("expected broken channel pruned, registry has %d", env.live.Registry().Len())
	}
	if !broken.isClosed() {
		t.Error("expected broken channel closed")
	}
}
