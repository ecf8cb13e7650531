package conn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

// StateChange describes one lifecycle transition.
type StateChange struct {
	Status core.Status
	// Attempt is the 1-based dial attempt the transition belongs to.
	Attempt int
	// Retry is the delay before the next dial, when one is scheduled.
	Retry time.Duration
	Err   error
	// Terminal is set when the manager has given up and parked in Failed.
	Terminal bool
}

// FrameHandler receives inbound frames in arrival order. It runs on the read
// goroutine and must not block.
type FrameHandler func(data []byte)

// StateHandler receives lifecycle transitions. Same rules as FrameHandler.
type StateHandler func(change StateChange)

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

// Manager owns the transport handle and the reconnect loop.
type Manager struct {
	cfg    Config
	dialer Dialer
	log    *zerolog.Logger
	rng    *rand.Rand

	mu      sync.Mutex
	status  core.Status
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
	onFrame FrameHandler
	onState StateHandler
}

// New builds an idle manager. A nil dialer dials websockets.
func New(cfg Config, dialer Dialer, logger *zerolog.Logger) *Manager {
	if dialer == nil {
		dialer = WebSocketDialer{ReadLimit: cfg.ReadLimit}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "conn").Logger()
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		log:    &l,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		status: core.StatusIdle,
	}
}

// OnFrame registers the inbound frame handler. Call before Connect.
func (m *Manager) OnFrame(fn FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
}

// OnState registers the lifecycle handler. Call before Connect.
func (m *Manager) OnState(fn StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// State returns the current lifecycle status.
func (m *Manager) State() core.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Done is closed when the dial loop has exited. Nil before Connect.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Connect moves Idle -> Connecting and starts the dial loop in the
// background. The loop stops when ctx is cancelled or Close is called.
func (m *Manager) Connect(ctx context.Context, endpoint string) error {
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.ErrStopped
	}
	if m.status != core.StatusIdle {
		m.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.status = core.StatusConnecting
	m.mu.Unlock()

	go m.run(runCtx, endpoint, done)
	return nil
}

// Send writes one frame. It fails with core.ErrNotConnected unless Open.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	c, status := m.conn, m.status
	m.mu.Unlock()

	if status != core.StatusOpen || c == nil {
		return core.ErrNotConnected
	}

	if m.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.WriteTimeout)
		defer cancel()
	}
	if err := c.Write(ctx, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close stops the dial loop, cancels any pending reconnect and releases the
// transport. It is idempotent and no handler runs after it returns. It must
// not be called from a handler.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done, c := m.cancel, m.done, m.conn
	m.mu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close transport")
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	m.conn = nil
	m.status = core.StatusClosed
	m.mu.Unlock()

	m.log.Debug().Msg("connection manager closed")
	return nil
}

func (m *Manager) run(ctx context.Context, endpoint string, done chan struct{}) {
	defer close(done)
	defer m.exit(ctx)

	failures := 0
	for {
		m.emit(StateChange{Status: core.StatusConnecting, Attempt: failures + 1})

		c, err := m.dial(ctx, endpoint)
		if ctx.Err() != nil {
			if c != nil {
				_ = c.Close()
			}
			return
		}
		if err != nil {
			failures++
			err = fmt.Errorf("%w: %w", core.ErrConnectFailed, err)
			if m.cfg.MaxAttempts > 0 && failures >= m.cfg.MaxAttempts {
				m.log.Error().Err(err).Int("attempts", failures).Msg("giving up on reconnect")
				m.emit(StateChange{
					Status:   core.StatusFailed,
					Attempt:  failures,
					Err:      fmt.Errorf("%w after %d attempts: %w", core.ErrRetriesExhausted, failures, err),
					Terminal: true,
				})
				return
			}
			delay := NextBackoffDelay(m.cfg.Backoff, failures, m.rng)
			m.log.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("connect failed")
			m.emit(StateChange{Status: core.StatusFailed, Attempt: failures, Retry: delay, Err: err})
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		if !m.attach(c) {
			_ = c.Close()
			return
		}
		m.log.Info().Str("endpoint", endpoint).Msg("connection open")
		m.emit(StateChange{Status: core.StatusOpen, Attempt: failures + 1})
		failures = 0

		err = m.readLoop(ctx, c)
		m.detach(c)
		if ctx.Err() != nil {
			return
		}
		_ = c.Close()

		delay := NextBackoffDelay(m.cfg.Backoff, 1, m.rng)
		if errors.Is(err, ErrPeerClosed) {
			m.log.Info().Dur("retry_in", delay).Msg("peer closed connection")
			m.emit(StateChange{Status: core.StatusClosed, Retry: delay, Err: err})
		} else {
			m.log.Warn().Err(err).Dur("retry_in", delay).Msg("transport error")
			m.emit(StateChange{Status: core.StatusFailed, Retry: delay, Err: err})
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, endpoint string) (Conn, error) {
	dialCtx := ctx
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}
	c, err := m.dialer.Dial(dialCtx, endpoint)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out after %s: %w", m.cfg.ConnectTimeout, context.DeadlineExceeded)
		}
		return nil, err
	}
	return c, nil
}

func (m *Manager) readLoop(ctx context.Context, c Conn) error {
	for {
		data, err := c.Read(ctx)
		if err != nil {
			return err
		}
		m.mu.Lock()
		h, closed := m.onFrame, m.closed
		m.mu.Unlock()
		if closed {
			return ErrPeerClosed
		}
		if h != nil {
			h(data)
		}
	}
}

func (m *Manager) attach(c Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.conn = c
	return true
}

func (m *Manager) detach(c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == c {
		m.conn = nil
	}
}

// emit records the transition and notifies the handler unless Close has begun.
func (m *Manager) emit(change StateChange) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.status = change.Status
	h := m.onState
	m.mu.Unlock()
	if h != nil {
		h(change)
	}
}

// exit parks the machine in Closed when the caller's context ended the loop.
func (m *Manager) exit(ctx context.Context) {
	if ctx.Err() == nil {
		return
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if !closed {
		m.emit(StateChange{Status: core.StatusClosed, Err: ctx.Err()})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return nil
}
