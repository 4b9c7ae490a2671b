package livecount

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/config"
)

// fakeCounter returns a fixed count or error and optionally blocks.
type fakeCounter struct {
	mu    sync.Mutex
	count int
	err   error
	delay time.Duration
}

func (f *fakeCounter) get(ctx context.Context) (int, error) {
	f.mu.Lock()
	count, err, delay := f.count, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return count, err
}

func (f *fakeCounter) GetCount(ctx context.Context) (int, error)     { return f.get(ctx) }
func (f *fakeCounter) RefreshCount(ctx context.Context) (int, error) { return f.get(ctx) }

func (f *fakeCounter) set(count int, err error) {
	f.mu.Lock()
	f.count, f.err = count, err
	f.mu.Unlock()
}

// fakeChannel records payloads, or fails every send.
type fakeChannel struct {
	id   string
	fail bool

	mu       sync.Mutex
	payloads []string
	closed   bool
}

func (f *fakeChannel) ID() string { return f.id }

func (f *fakeChannel) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.payloads = append(f.payloads, string(payload))
	return nil
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeChannel) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...)
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testConfig() config.LiveCountConfig {
	return config.LiveCountConfig{
		Total:          1000,
		Fallback:       490,
		Heartbeat:      time.Hour,
		WebhookTimeout: time.Second,
	}
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{id: "a"}

	r.Add(ch)
	r.Add(ch)
	if r.Len() != 1 {
		t.Fatalf("expected 1 channel, got %d", r.Len())
	}

	if !r.Remove(ch) {
		t.Error("expected first remove to report true")
	}
	if r.Remove(ch) {
		t.Error("expected second remove to report false")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestBroadcast_FanOutIsolatesFailures(t *testing.T) {
	store := NewStore(490)
	registry := NewRegistry()
	b := NewBroadcaster(store, registry, zap.NewNop())

	good1 := &fakeChannel{id: "good1"}
	bad := &fakeChannel{id: "bad", fail: true}
	good2 := &fakeChannel{id: "good2"}
	registry.Add(good1)
	registry.Add(bad)
	registry.Add(good2)

	delivered := b.Broadcast(512, 1000)

	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}
	if store.Get() != 512 {
		t.Errorf("expected store to hold 512, got %d", store.Get())
	}
	for _, ch := range []*fakeChannel{good1, good2} {
		got := ch.received()
		if len(got) != 1 || got[0] != `{"count":512,"total":1000}` {
			t.Errorf("%s: unexpected payloads %v", ch.id, got)
		}
	}
	if registry.Len() != 2 {
		t.Errorf("expected failing channel pruned, registry has %d", registry.Len())
	}
	if !bad.isClosed() {
		t.Error("expected pruned channel to be closed")
	}
}

func TestBroadcast_NoChannels(t *testing.T) {
	store := NewStore(490)
	b := NewBroadcaster(store, NewRegistry(), zap.NewNop())

	if n := b.Broadcast(3, 1000); n != 0 {
		t.Errorf("expected 0 deliveries, got %d", n)
	}
	if store.Get() != 3 {
		t.Errorf("expected store updated to 3, got %d", store.Get())
	}
}

func TestQueueChannel_FullAndClosed(t *testing.T) {
	ch := newQueueChannel()

	for i := 0; i < sendBufferSize; i++ {
		if err := ch.Send([]byte("x")); err != nil {
			t.Fatalf("send %d: unexpected error %v", i, err)
		}
	}
	if err := ch.Send([]byte("x")); !errors.Is(err, ErrChannelFull) {
		t.Errorf("expected ErrChannelFull, got %v", err)
	}

	ch.Close()
	ch.Close()
	if err := ch.Send([]byte("x")); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("expected ErrChannelClosed, got %v", err)
	}
	select {
	case <-ch.Done():
	default:
		t.Error("expected done to be closed")
	}
}

func TestCurrentCount_FallsBackToStore(t *testing.T) {
	counter := &fakeCounter{err: errors.New("upstream down")}
	svc := NewService(counter, testConfig(), zap.NewNop())

	count, err := svc.CurrentCount(context.Background())
	if err == nil {
		t.Error("expected error to be reported")
	}
	if count != 490 {
		t.Errorf("expected fallback 490, got %d", count)
	}

	counter.set(601, nil)
	if count, err := svc.CurrentCount(context.Background()); err != nil || count != 601 {
		t.Errorf("expected 601, got %d (%v)", count, err)
	}
	if svc.Store().Get() != 601 {
		t.Errorf("expected store updated to 601, got %d", svc.Store().Get())
	}
}

func TestRecount_BroadcastsResult(t *testing.T) {
	counter := &fakeCounter{count: 777}
	svc := NewService(counter, testConfig(), zap.NewNop())
	ch := &fakeChannel{id: "c"}
	svc.Registry().Add(ch)

	count, err := svc.Recount(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 777 {
		t.Errorf("expected 777, got %d", count)
	}
	if got := ch.received(); len(got) != 1 || got[0] != `{"count":777,"total":1000}` {
		t.Errorf("unexpected payloads %v", got)
	}
}

func TestRecount_TimeoutSkipsBroadcast(t *testing.T) {
	counter := &fakeCounter{count: 5, delay: time.Second}
	svc := NewService(counter, testConfig(), zap.NewNop())
	ch := &fakeChannel{id: "c"}
	svc.Registry().Add(ch)

	_, err := svc.Recount(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(ch.received()) != 0 {
		t.Error("expected no broadcast after timeout")
	}
	if svc.Store().Get() != 490 {
		t.Errorf("expected store untouched, got %d", svc.Store().Get())
	}
}

// readFrame reads one SSE frame: lines up to the blank separator.
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandleSSE_SnapshotUpdatesAndPruning(t *testing.T) {
	counter := &fakeCounter{count: 500}
	svc := NewService(counter, testConfig(), zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(svc.HandleSSE))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	if resp.Header.Get("X-Accel-Buffering") != "no" {
		t.Error("expected X-Accel-Buffering: no")
	}

	reader := bufio.NewReader(resp.Body)
	if frame := readFrame(t, reader); frame != `data: {"count":500,"total":1000}` {
		t.Fatalf("unexpected snapshot %q", frame)
	}

	broken := &fakeChannel{id: "broken", fail: true}
	svc.Registry().Add(broken)

	svc.Broadcaster().Broadcast(501, 1000)

	if frame := readFrame(t, reader); frame != `data: {"count":501,"total":1000}` {
		t.Fatalf("unexpected update %q", frame)
	}
	if svc.Registry().Len() != 1 {
		t.Errorf("expected broken channel pruned, registry has %d", svc.Registry().Len())
	}

	cancel()
	waitFor(t, func() bool { return svc.Registry().Len() == 0 })
}

func TestHandleSSE_SnapshotUsesFallbackOnError(t *testing.T) {
	counter := &fakeCounter{err: errors.New("no key")}
	svc := NewService(counter, testConfig(), zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(svc.HandleSSE))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if frame := readFrame(t, bufio.NewReader(resp.Body)); frame != `data: {"count":490,"total":1000}` {
		t.Errorf("unexpected snapshot %q", frame)
	}
}

func TestHandleSSE_Heartbeat(t *testing.T) {
	cfg := testConfig()
	cfg.Heartbeat = 20 * time.Millisecond
	svc := NewService(&fakeCounter{count: 1}, cfg, zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(svc.HandleSSE))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readFrame(t, reader)
	if frame := readFrame(t, reader); frame != ": heartbeat" {
		t.Errorf("expected heartbeat comment, got %q", frame)
	}
}

func TestHandleWebSocket(t *testing.T) {
	svc := NewService(&fakeCounter{count: 42}, testConfig(), zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(svc.HandleWebSocket))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var update Update
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if update != (Update{Count: 42, Total: 1000}) {
		t.Errorf("unexpected snapshot %+v", update)
	}

	waitFor(t, func() bool { return svc.Registry().Len() == 1 })
	svc.Broadcaster().Broadcast(43, 1000)

	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Count != 43 {
		t.Errorf("expected 43, got %d", update.Count)
	}

	conn.Close()
	waitFor(t, func() bool { return svc.Registry().Len() == 0 })
}
