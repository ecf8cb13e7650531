package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/conn"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/store"
)

// fakeConn is an in-memory transport the test drives as the peer.
type fakeConn struct {
	inbound chan []byte
	writes  chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.closed:
		return nil, conn.ErrPeerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("write on closed conn")
	default:
	}
	out := make([]byte, len(data))
	copy(out, data)
	f.writes <- out
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// peerClose simulates the peer hanging up.
func (f *fakeConn) peerClose() { f.Close() }

func (f *fakeConn) nextWrite(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-f.writes:
		return data
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a write on the transport")
		return nil
	}
}

func (f *fakeConn) noWrite(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case data := <-f.writes:
		t.Fatalf("unexpected write: %q", data)
	case <-time.After(within):
	}
}

// fakeDialer hands out fakeConns, or refuses while refuse is set.
type fakeDialer struct {
	refuse atomic.Bool
	dials  atomic.Int32
	conns  chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (conn.Conn, error) {
	d.dials.Add(1)
	if d.refuse.Load() {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("expected a dial")
		return nil
	}
}

// flakyKV fails every Set while failing is set.
type flakyKV struct {
	*store.MemoryKV
	failing atomic.Bool
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failing.Load() {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func fastConfig() conn.Config {
	cfg := conn.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.MaxAttempts = 0
	cfg.Backoff = conn.BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: 20 * time.Millisecond}
	return cfg
}

type harness struct {
	ctrl   *Controller
	dialer *fakeDialer
	kv     *store.MemoryKV
	events chan core.Event
}

func newHarness(t *testing.T, cfg conn.Config, opts Options) *harness {
	t.Helper()
	h := &harness{
		dialer: newFakeDialer(),
		kv:     store.NewMemory(),
		events: make(chan core.Event, 256),
	}
	if opts.Store == nil {
		opts.Store = store.NewHistoryStore(h.kv, "")
	}
	opts.Transport = conn.New(cfg, h.dialer, nil)
	h.ctrl = New(opts)
	h.ctrl.Subscribe(func(ev core.Event) {
		select {
		case h.events <- ev:
		default:
		}
	})
	t.Cleanup(func() { _ = h.ctrl.Stop() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background(), "ws://peer.test/ws"); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func mustEvent(t *testing.T, ch <-chan core.Event, match func(core.Event) bool) core.Event {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event not received")
			return core.Event{}
		}
	}
}

func isStatus(s core.Status) func(core.Event) bool {
	return func(ev core.Event) bool {
		return ev.Kind == core.EventStatusChanged && ev.Status == s
	}
}

func historyLen(n int) func(core.Event) bool {
	return func(ev core.Event) bool {
		return ev.Kind == core.EventHistoryChanged && len(ev.History) == n
	}
}

func errorCode(code string) func(core.Event) bool {
	return func(ev core.Event) bool {
		return ev.Kind == core.EventError && ev.Error != nil && ev.Error.Code == code
	}
}
