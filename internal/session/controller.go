// Package session orchestrates the codec, the history store and the
// connection manager into one chat session.
//
// All session state is owned by a single event-loop goroutine. Caller
// operations and transport callbacks are posted to it as commands, so each
// mutation completes before the next starts and subscribers never see a
// partial update.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/conn"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// DefaultHandshake is the frame sent once per session on the first Open.
const DefaultHandshake = "Hello, Server!"

const commandBuffer = 64

// ErrNotStarted is returned by operations that need a running session.
var ErrNotStarted = errors.New("session not started")

// HistoryStore persists the ordered history.
type HistoryStore interface {
	Load(ctx context.Context) ([]core.Message, error)
	Save(ctx context.Context, history []core.Message) error
}

// Transport is the connection manager as seen by the controller.
type Transport interface {
	Connect(ctx context.Context, endpoint string) error
	Send(ctx context.Context, data []byte) error
	Close() error
	OnFrame(fn conn.FrameHandler)
	OnState(fn conn.StateHandler)
}

// Options configures a Controller.
type Options struct {
	Store     HistoryStore
	Transport Transport
	Logger    *zerolog.Logger
	// Clock stamps new messages. Defaults to time.Now.
	Clock func() time.Time
	// Handshake is sent once per controller lifetime on the first Open.
	// Empty disables it.
	Handshake string
	// HistoryLimit trims the oldest messages beyond this many. Zero keeps all.
	HistoryLimit int
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Status  core.Status     `json:"status"`
	History []core.Message  `json:"history"`
	Pending []core.Message  `json:"pending"`
	Err     *core.CoreError `json:"error,omitempty"`
}

// Controller is one logical chat session.
type Controller struct {
	store     HistoryStore
	transport Transport
	log       *zerolog.Logger
	now       func() time.Time
	handshake string
	limit     int

	cmds chan func()
	quit chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	stopErr error

	subsMu  sync.Mutex
	subs    map[int]func(core.Event)
	nextSub int

	// Owned by the event loop.
	status        core.Status
	history       []core.Message
	ids           map[string]struct{}
	pending       []core.Message
	handshakeSent bool
	storeFailing  bool
	lastErr       *core.CoreError
}

// New builds a controller. Nothing runs until Start.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "session").Logger()
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		store:     opts.Store,
		transport: opts.Transport,
		log:       &l,
		now:       clock,
		handshake: opts.Handshake,
		limit:     opts.HistoryLimit,
		cmds:      make(chan func(), commandBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		subs:      make(map[int]func(core.Event)),
		status:    core.StatusIdle,
		history:   []core.Message{},
		ids:       make(map[string]struct{}),
	}
}

// Start loads the persisted history, starts the event loop and begins
// connecting to endpoint. A store failure is logged and reported to
// subscribers; the session then runs in memory only.
func (c *Controller) Start(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return core.ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return core.ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	var loadErr error
	if c.store != nil {
		history, err := c.store.Load(ctx)
		if err != nil {
			loadErr = err
			c.log.Warn().Err(err).Msg("history unavailable, continuing in memory")
		}
		for _, msg := range history {
			c.appendMessage(msg)
		}
	}
	c.log.Info().Int("messages", len(c.history)).Msg("history loaded")

	c.transport.OnFrame(func(data []byte) {
		c.post(func() { c.handleFrame(data) })
	})
	c.transport.OnState(func(change conn.StateChange) {
		c.post(func() { c.handleState(change) })
	})

	go c.run()

	c.post(func() {
		if loadErr != nil {
			c.storeFailing = true
			c.raise(loadErr)
		}
		c.notify(core.Event{Kind: core.EventHistoryChanged})
	})

	if err := c.transport.Connect(ctx, endpoint); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// SendMessage appends text as a local message and sends it. Blank input is
// rejected with core.ErrEmptyMessage and changes nothing. If the transport
// is not open the message stays queued and is replayed on the next Open;
// that is not an error.
func (c *Controller) SendMessage(ctx context.Context, text string) (core.Message, error) {
	if strings.TrimSpace(text) == "" {
		return core.Message{}, core.ErrEmptyMessage
	}
	var msg core.Message
	if err := c.call(ctx, func() { msg = c.handleSend(text) }); err != nil {
		return core.Message{}, err
	}
	return msg, nil
}

// Subscribe registers fn for session events. Callbacks run on the event
// loop after the mutation they describe has completed; they must not call
// back into the controller synchronously.
func (c *Controller) Subscribe(fn func(core.Event)) (unsubscribe func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	}
}

// Snapshot returns a consistent copy of the session state.
func (c *Controller) Snapshot() Snapshot {
	var snap Snapshot
	c.read(func() {
		snap = Snapshot{
			Status:  c.status,
			History: core.CloneMessages(c.history),
			Pending: core.CloneMessages(c.pending),
			Err:     c.lastErr,
		}
	})
	return snap
}

// History returns a copy of the ordered history.
func (c *Controller) History() []core.Message {
	return c.Snapshot().History
}

// Pending returns a copy of the messages awaiting delivery.
func (c *Controller) Pending() []core.Message {
	return c.Snapshot().Pending
}

// Status returns the connection status as seen by the session.
func (c *Controller) Status() core.Status {
	return c.Snapshot().Status
}

// Stop closes the transport, cancels any pending reconnect, flushes the
// history to the store and stops the event loop. It is idempotent. No
// subscriber is called after it returns.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	close(c.quit)
	if !started {
		_ = c.transport.Close()
		close(c.done)
		return nil
	}
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopErr
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

func (c *Controller) shutdown() {
	if err := c.transport.Close(); err != nil {
		c.log.Warn().Err(err).Msg("close transport")
	}
	// The transport is quiet now; apply whatever was already queued.
	for drained := false; !drained; {
		select {
		case fn := <-c.cmds:
			fn()
		default:
			drained = true
		}
	}

	c.status = core.StatusClosed
	c.notify(core.Event{Kind: core.EventStatusChanged})

	if len(c.pending) > 0 {
		c.log.Warn().Int("pending", len(c.pending)).Msg("stopping with undelivered messages")
	}
	if c.store != nil {
		if err := c.store.Save(context.Background(), c.history); err != nil {
			c.log.Error().Err(err).Msg("final history flush failed")
			c.mu.Lock()
			c.stopErr = err
			c.mu.Unlock()
		}
	}
	c.log.Info().Int("messages", len(c.history)).Msg("session stopped")
}

// post hands fn to the event loop unless the session is stopping.
func (c *Controller) post(fn func()) bool {
	select {
	case c.cmds <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the event loop and waits for it to finish.
func (c *Controller) call(ctx context.Context, fn func()) error {
	c.mu.Lock()
	started, stopped := c.started, c.stopped
	c.mu.Unlock()
	if stopped {
		return core.ErrStopped
	}
	if !started {
		return ErrNotStarted
	}

	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}
	select {
	case c.cmds <- wrapped:
	case <-c.quit:
		return core.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return core.ErrStopped
		}
	}
}

// read runs a read-only fn on the loop, or directly once the loop is gone.
func (c *Controller) read(fn func()) {
	err := c.call(context.Background(), fn)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotStarted):
		fn()
	default:
		<-c.done
		fn()
	}
}

func (c *Controller) handleSend(text string) core.Message {
	msg := core.Message{
		ID:        utils.NewID(),
		Text:      text,
		Sender:    core.SenderLocal,
		Author:    core.AuthorLocal,
		Timestamp: c.now(),
	}
	c.appendMessage(msg)
	c.pending = append(c.pending, msg)
	c.persist()
	c.notify(core.Event{Kind: core.EventHistoryChanged, Message: &msg})
	c.flush()
	return msg
}

func (c *Controller) handleFrame(data []byte) {
	msg, err := proto.Decode(data, c.now())
	if err != nil {
		c.log.Debug().Err(err).Int("bytes", len(data)).Msg("frame shown as plain text")
	}
	if _, dup := c.ids[msg.ID]; dup {
		c.log.Debug().Str("id", msg.ID).Msg("dropping duplicate frame")
		return
	}
	c.appendMessage(msg)
	c.persist()
	c.notify(core.Event{Kind: core.EventHistoryChanged, Message: &msg})
}

func (c *Controller) handleState(change conn.StateChange) {
	c.status = change.Status
	c.notify(core.Event{Kind: core.EventStatusChanged})

	switch change.Status {
	case core.StatusOpen:
		c.clearErr(core.ErrCodeRetriesExhausted)
		c.sendHandshake()
		c.flush()
	case core.StatusFailed:
		if change.Terminal {
			c.raise(change.Err)
		}
	}
}

func (c *Controller) sendHandshake() {
	if c.handshakeSent || c.handshake == "" {
		return
	}
	if err := c.transport.Send(context.Background(), []byte(c.handshake)); err != nil {
		c.log.Warn().Err(err).Msg("handshake not sent")
		return
	}
	c.handshakeSent = true
	c.log.Debug().Msg("handshake sent")
}

// flush sends pending messages in order, stopping at the first failure.
func (c *Controller) flush() {
	sent := 0
	for len(c.pending) > 0 {
		msg := c.pending[0]
		frame, err := proto.Encode(msg)
		if err != nil {
			c.log.Error().Err(err).Str("id", msg.ID).Msg("dropping unencodable message")
			c.pending = c.pending[1:]
			continue
		}
		if err := c.transport.Send(context.Background(), frame); err != nil {
			c.log.Debug().Err(err).Int("pending", len(c.pending)).Msg("message queued for replay")
			break
		}
		c.pending = c.pending[1:]
		sent++
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	if sent > 0 {
		c.log.Debug().Int("sent", sent).Int("pending", len(c.pending)).Msg("outbound flushed")
	}
}

func (c *Controller) appendMessage(msg core.Message) {
	if msg.ID == "" {
		msg.ID = utils.NewID()
	}
	c.history = append(c.history, msg)
	c.ids[msg.ID] = struct{}{}
	if c.limit > 0 && len(c.history) > c.limit {
		drop := len(c.history) - c.limit
		for _, old := range c.history[:drop] {
			delete(c.ids, old.ID)
		}
		c.history = append([]core.Message(nil), c.history[drop:]...)
	}
}

func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	if err := c.store.Save(context.Background(), c.history); err != nil {
		c.log.Warn().Err(err).Msg("history not persisted")
		if !c.storeFailing {
			c.storeFailing = true
			c.raise(err)
		}
		return
	}
	if c.storeFailing {
		c.log.Info().Msg("history store recovered")
		c.clearErr(core.ErrCodeStoreUnavailable)
	}
	c.storeFailing = false
}

// raise records err and surfaces it to subscribers.
func (c *Controller) raise(err error) {
	ce := core.AsCoreError(err)
	if ce == nil {
		return
	}
	switch ce.Code {
	case core.ErrCodeRetriesExhausted, core.ErrCodeStoreUnavailable:
		c.lastErr = ce
	}
	c.notify(core.Event{Kind: core.EventError, Error: ce})
}

// clearErr drops the recorded error if it carries code.
func (c *Controller) clearErr(code string) {
	if c.lastErr != nil && c.lastErr.Code == code {
		c.lastErr = nil
	}
}

func (c *Controller) notify(ev core.Event) {
	ev.Status = c.status
	ev.Pending = len(c.pending)
	if ev.Kind == core.EventHistoryChanged {
		ev.History = core.CloneMessages(c.history)
	}

	c.subsMu.Lock()
	subs := make([]func(core.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
