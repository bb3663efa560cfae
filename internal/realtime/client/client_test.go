package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/workspace-core/internal/pkg/httpx"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// hubServer serves the hub's SSE stream, accepting only token "good".
func hubServer(t *testing.T, hub *realtime.Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != streamPath {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("token") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sub := hub.NewClient(uuid.New())
		defer hub.CloseClient(sub)
		for _, ch := range r.URL.Query()["channel"] {
			hub.AddChannel(sub, ch)
		}
		hub.ServeHTTP(w, r, sub)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientReissuesTokenAndDeliversEvents(t *testing.T) {
	log := testLogger(t)
	hub := realtime.NewHub(log, nil)
	srv := hubServer(t, hub)

	var issued atomic.Int32
	tokens := TokenFunc(func(context.Context) (string, error) {
		if issued.Add(1) == 1 {
			return "stale", nil
		}
		return "good", nil
	})

	got := make(chan realtime.ChangeEvent, 4)
	c, err := New(log, Config{
		BaseURL:    srv.URL,
		Channels:   []string{realtime.ChannelNewMessage},
		Tokens:     tokens,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	}, func(ev realtime.ChangeEvent) { got <- ev })
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "subscription", func() bool {
		return hub.Subscribers(realtime.ChannelNewMessage) == 1 && c.Connected()
	})
	if n := issued.Load(); n != 2 {
		t.Fatalf("token issues: want=2 got=%d", n)
	}

	id := uuid.New()
	ev, _ := realtime.NewEvent(realtime.ChannelNewMessage, map[string]any{"id": id, "op": "UPDATE"})
	hub.Broadcast(ev)

	select {
	case recv := <-got:
		if recv.Channel != realtime.ChannelNewMessage || !strings.Contains(string(recv.Payload), id.String()) {
			t.Fatalf("event: %+v", recv)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run: want context.Canceled got=%v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop")
	}
	waitFor(t, "unsubscribe", func() bool { return hub.Subscribers(realtime.ChannelNewMessage) == 0 })
}

func TestClientReconnectsSilentStream(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, ": connected\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	var connects atomic.Int32
	c, err := New(testLogger(t), Config{
		BaseURL:    srv.URL,
		Tokens:     TokenFunc(func(context.Context) (string, error) { return "t", nil }),
		Heartbeat:  20 * time.Millisecond,
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
		OnConnect:  func() { connects.Add(1) },
	}, func(realtime.ChangeEvent) {})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	waitFor(t, "reconnect", func() bool { return conns.Load() >= 3 })
	if connects.Load() < 2 {
		t.Fatalf("OnConnect should run per connection: %d", connects.Load())
	}
	cancel()
}

func TestClientBacksOffOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(testLogger(t), Config{
		BaseURL:    srv.URL,
		Tokens:     TokenFunc(func(context.Context) (string, error) { return "t", nil }),
		MinBackoff: 40 * time.Millisecond,
		MaxBackoff: 40 * time.Millisecond,
	}, func(realtime.ChangeEvent) {})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	if n := hits.Load(); n < 2 || n > 6 {
		t.Fatalf("attempts within window: got=%d", n)
	}
}

func TestReadFrames(t *testing.T) {
	body := ": connected\n\n" +
		"event: message\ndata: {\"channel\":\"a\"}\n\n" +
		": ping\n\n" +
		"data: line1\ndata: line2\n\n" +
		"event: other\ndata: x\n\n"

	var lines int
	type frame struct{ event, data string }
	var frames []frame
	err := readFrames(strings.NewReader(body), func() { lines++ }, func(event, data string) {
		frames = append(frames, frame{event, data})
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []frame{{"message", `{"channel":"a"}`}, {"", "line1\nline2"}, {"other", "x"}}
	if len(frames) != len(want) {
		t.Fatalf("frames: want=%d got=%d (%v)", len(want), len(frames), frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Fatalf("frame %d: want=%+v got=%+v", i, want[i], frames[i])
		}
	}
	if lines != 13 {
		t.Fatalf("activity callbacks: want=13 got=%d", lines)
	}
}

func TestCacheInvalidateOnEvent(t *testing.T) {
	nodes := NewCache[string]()
	parent, child, other := uuid.New(), uuid.New(), uuid.New()
	nodes.Put(parent, "parent")
	nodes.Put(child, "child")
	nodes.Put(other, "other")

	invalidate := InvalidateOnEvent(nodes)
	payload, _ := json.Marshal(realtime.NodeChange{ID: child, Op: "UPDATE", ParentID: &parent})
	invalidate(realtime.ChangeEvent{Channel: realtime.ChannelNewMessage, Payload: payload})

	if _, ok := nodes.Get(child); ok {
		t.Fatalf("changed node should be evicted")
	}
	if _, ok := nodes.Get(parent); ok {
		t.Fatalf("parent should be evicted")
	}
	if v, ok := nodes.Get(other); !ok || v != "other" {
		t.Fatalf("unrelated entry should stay")
	}

	invalidate(realtime.ChangeEvent{Channel: realtime.ChannelNewTask, Payload: json.RawMessage(`"ping"`)})
	if nodes.Len() != 0 {
		t.Fatalf("unkeyed event should clear the cache: %d left", nodes.Len())
	}
}

func TestChainRunsHandlersInOrder(t *testing.T) {
	var got []string
	h := Chain(
		func(realtime.ChangeEvent) { got = append(got, "a") },
		nil,
		func(realtime.ChangeEvent) { got = append(got, "b") },
	)
	h(realtime.ChangeEvent{Channel: realtime.ChannelNewMessage})
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestCacheLoad(t *testing.T) {
	c := NewCache[int]()
	id := uuid.New()
	calls := 0
	load := func(context.Context, uuid.UUID) (int, error) {
		calls++
		if calls == 1 {
			return 0, fmt.Errorf("boom")
		}
		return 42, nil
	}
	if _, err := c.Load(context.Background(), id, load); err == nil {
		t.Fatalf("first load should fail")
	}
	for i := 0; i < 2; i++ {
		v, err := c.Load(context.Background(), id, load)
		if err != nil || v != 42 {
			t.Fatalf("load: v=%d err=%v", v, err)
		}
	}
	if calls != 2 {
		t.Fatalf("load calls: want=2 got=%d", calls)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestCacheLoadOverlappingEvictionIsNotStored(t *testing.T) {
	c := NewCache[string]()
	id := uuid.New()

	stale, err := c.Load(context.Background(), id, func(context.Context, uuid.UUID) (string, error) {
		// The change event lands while the read is still in flight.
		InvalidateOnEvent(c)(realtime.ChangeEvent{Channel: realtime.ChannelNewMessage, Payload: mustJSON(t, realtime.NodeChange{ID: id, Op: "UPDATE"})})
		return "stale", nil
	})
	if err != nil || stale != "stale" {
		t.Fatalf("caller still gets its read: v=%q err=%v", stale, err)
	}
	if v, ok := c.Get(id); ok {
		t.Fatalf("cache holds %q after an overlapping eviction", v)
	}

	_, _ = c.Load(context.Background(), id, func(context.Context, uuid.UUID) (string, error) {
		c.Clear()
		return "stale again", nil
	})
	if c.Len() != 0 {
		t.Fatalf("clear during load should keep the cache empty")
	}

	fresh, err := c.Load(context.Background(), id, func(context.Context, uuid.UUID) (string, error) { return "fresh", nil })
	if err != nil || fresh != "fresh" {
		t.Fatalf("reload: v=%q err=%v", fresh, err)
	}
	if v, ok := c.Get(id); !ok || v != "fresh" {
		t.Fatalf("undisturbed load should be cached: %q %v", v, ok)
	}
}

func TestCacheLoadSharesConcurrentMisses(t *testing.T) {
	c := NewCache[int]()
	id := uuid.New()
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context, uuid.UUID) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	const n = 8
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(n)
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			v, err := c.Load(context.Background(), id, load)
			if err != nil {
				t.Errorf("load: %v", err)
			}
			results <- v
		}()
	}
	started.Wait()
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != 7 {
			t.Fatalf("shared result: %d", v)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("concurrent misses should share one load, got %d", got)
	}
	if v, ok := c.Get(id); !ok || v != 7 {
		t.Fatalf("shared load should be cached")
	}
}

func TestRetryWaitHonoursStatus(t *testing.T) {
	c, err := New(testLogger(t), Config{
		BaseURL:    "http://example.invalid",
		Tokens:     TokenFunc(func(context.Context) (string, error) { return "t", nil }),
		MinBackoff: time.Second,
		MaxBackoff: time.Minute,
	}, func(realtime.ChangeEvent) {})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	cases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"network error", errors.New("connection refused"), 2 * time.Second},
		{"unavailable", &httpx.StatusError{Code: http.StatusServiceUnavailable}, 2 * time.Second},
		{"retry after", &httpx.StatusError{Code: http.StatusTooManyRequests, RetryAfter: 30 * time.Second}, 30 * time.Second},
		{"forbidden", fmt.Errorf("open: %w", &httpx.StatusError{Code: http.StatusForbidden}), time.Minute},
	}
	for _, tc := range cases {
		if got := c.retryWait(2*time.Second, tc.err); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
}
