package conn

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.MaxAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
	return cfg
}

// recorder collects state changes from the manager's goroutine.
type recorder struct {
	ch chan StateChange
}

func newRecorder(m *Manager) *recorder {
	r := &recorder{ch: make(chan StateChange, 64)}
	m.OnState(func(c StateChange) {
		select {
		case r.ch <- c:
		default:
		}
	})
	return r
}

func (r *recorder) wait(t *testing.T, match func(StateChange) bool) StateChange {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case c := <-r.ch:
			if match(c) {
				return c
			}
		case <-timeout:
			t.Fatalf("expected state change not received")
			return StateChange{}
		}
	}
}

func statusIs(s core.Status) func(StateChange) bool {
	return func(c StateChange) bool { return c.Status == s }
}

// echoPeer is a websocket peer that echoes every frame back.
func echoPeer(t *testing.T, onConn func(n int, c *websocket.Conn) bool) *httptest.Server {
	t.Helper()
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		n := int(conns.Add(1))
		if onConn != nil && !onConn(n, c) {
			return
		}
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http", "ws", 1)
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 10, nil); got != 5*time.Second {
		t.Fatalf("attempt10 got=%v", got)
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 4 * time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for attempt := 1; attempt <= 6; attempt++ {
		base := NextBackoffDelay(BackoffConfig{InitialDelay: cfg.InitialDelay, Multiplier: 2, MaxDelay: cfg.MaxDelay}, attempt, nil)
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < base/2 || got >= base*3/2 {
			t.Fatalf("attempt %d: jittered delay %v outside [%v, %v)", attempt, got, base/2, base*3/2)
		}
	}
}

func TestSendWhileNotOpen(t *testing.T) {
	m := New(testConfig(), nil, nil)
	if err := m.Send(context.Background(), []byte("x")); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectRejectsBadEndpoint(t *testing.T) {
	m := New(testConfig(), nil, nil)
	if err := m.Connect(context.Background(), "localhost:4000"); err == nil {
		t.Fatalf("expected error for endpoint without scheme")
	}
	if m.State() != core.StatusIdle {
		t.Fatalf("state should stay idle, got %s", m.State())
	}
}

func TestUnreachableEndpointExhaustsRetries(t *testing.T) {
	var dials atomic.Int32
	dialer := DialerFunc(func(ctx context.Context, endpoint string) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})

	m := New(testConfig(), dialer, nil)
	rec := newRecorder(m)
	if err := m.Connect(context.Background(), "ws://127.0.0.1:1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	first := rec.wait(t, statusIs(core.StatusFailed))
	if first.Terminal || first.Retry <= 0 {
		t.Fatalf("first failure should schedule a retry: %+v", first)
	}
	if !errors.Is(first.Err, core.ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", first.Err)
	}

	final := rec.wait(t, func(c StateChange) bool { return c.Terminal })
	if !errors.Is(final.Err, core.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", final.Err)
	}
	<-m.Done()
	if got := dials.Load(); got != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", got)
	}
	if m.State() != core.StatusFailed {
		t.Fatalf("expected parked in failed, got %s", m.State())
	}
}

func TestConnectTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	cfg.MaxAttempts = 1
	dialer := DialerFunc(func(ctx context.Context, endpoint string) (Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	m := New(cfg, dialer, nil)
	rec := newRecorder(m)
	start := time.Now()
	if err := m.Connect(context.Background(), "ws://example.invalid"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	final := rec.wait(t, statusIs(core.StatusFailed))
	if !final.Terminal || !errors.Is(final.Err, context.DeadlineExceeded) {
		t.Fatalf("expected terminal timeout failure, got %+v", final)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("connect did not respect timeout: %v", elapsed)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ts := echoPeer(t, nil)
	m := New(testConfig(), nil, nil)
	rec := newRecorder(m)
	if err := m.Connect(context.Background(), wsURL(ts)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.wait(t, statusIs(core.StatusOpen))

	if err := m.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	first := m.State()
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if first != core.StatusClosed || m.State() != core.StatusClosed {
		t.Fatalf("expected closed after both closes, got %s then %s", first, m.State())
	}
	if err := m.Send(context.Background(), []byte("late")); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("send after close: expected ErrNotConnected, got %v", err)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	m := New(testConfig(), nil, nil)
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.State() != core.StatusClosed {
		t.Fatalf("expected closed, got %s", m.State())
	}
	if err := m.Connect(context.Background(), "ws://localhost:4000"); !errors.Is(err, core.ErrStopped) {
		t.Fatalf("connect after close: expected ErrStopped, got %v", err)
	}
}

func TestFramesDeliveredInArrivalOrder(t *testing.T) {
	ts := echoPeer(t, nil)
	m := New(testConfig(), nil, nil)
	rec := newRecorder(m)

	frames := make(chan string, 16)
	m.OnFrame(func(data []byte) { frames <- string(data) })

	if err := m.Connect(context.Background(), wsURL(ts)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Close()
	rec.wait(t, statusIs(core.StatusOpen))

	want := []string{"a", "b", "c"}
	for _, w := range want {
		if err := m.Send(context.Background(), []byte(w)); err != nil {
			t.Fatalf("send %s: %v", w, err)
		}
	}
	for _, w := range want {
		select {
		case got := <-frames:
			if got != w {
				t.Fatalf("got frame %q, want %q", got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %q not received", w)
		}
	}
}

func TestBinaryAndTextFramesDeliveredAlike(t *testing.T) {
	ts := echoPeer(t, func(n int, c *websocket.Conn) bool {
		ctx := context.Background()
		if err := c.Write(ctx, websocket.MessageBinary, []byte(`{"text":"bin"}`)); err != nil {
			return false
		}
		if err := c.Write(ctx, websocket.MessageText, []byte(`{"text":"txt"}`)); err != nil {
			return false
		}
		return true
	})
	m := New(testConfig(), nil, nil)
	frames := make(chan string, 4)
	m.OnFrame(func(data []byte) { frames <- string(data) })

	if err := m.Connect(context.Background(), wsURL(ts)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Close()

	for _, want := range []string{`{"text":"bin"}`, `{"text":"txt"}`} {
		select {
		case got := <-frames:
			if got != want {
				t.Fatalf("got frame %q, want %q", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %q not received", want)
		}
	}
}

func TestReconnectAfterPeerClose(t *testing.T) {
	ts := echoPeer(t, func(n int, c *websocket.Conn) bool {
		if n == 1 {
			_ = c.Close(websocket.StatusNormalClosure, "restart")
			return false
		}
		return true
	})

	m := New(testConfig(), nil, nil)
	rec := newRecorder(m)
	if err := m.Connect(context.Background(), wsURL(ts)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Close()

	rec.wait(t, statusIs(core.StatusOpen))
	closed := rec.wait(t, statusIs(core.StatusClosed))
	if !errors.Is(closed.Err, ErrPeerClosed) || closed.Retry <= 0 {
		t.Fatalf("expected peer close with scheduled retry, got %+v", closed)
	}
	rec.wait(t, statusIs(core.StatusOpen))
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0
	cfg.Backoff = BackoffConfig{InitialDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}

	var mu sync.Mutex
	calls := 0
	dialer := DialerFunc(func(ctx context.Context, endpoint string) (Conn, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("refused")
	})

	m := New(cfg, dialer, nil)
	rec := newRecorder(m)
	if err := m.Connect(context.Background(), "ws://127.0.0.1:1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.wait(t, statusIs(core.StatusFailed))

	start := time.Now()
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close waited on the backoff timer: %v", elapsed)
	}

	select {
	case c := <-rec.ch:
		t.Fatalf("unexpected state change after close: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single dial, got %d", calls)
	}
}
