package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/session"
)

const eventBuffer = 32

// Session is the part of session.Controller the bridge drives.
type Session interface {
	SendMessage(ctx context.Context, text string) (core.Message, error)
	Snapshot() session.Snapshot
	Subscribe(fn func(core.Event)) (unsubscribe func())
}

// Handlers provides the bridge endpoints.
type Handlers struct {
	sess    Session
	log     *zerolog.Logger
	closing <-chan struct{}
}

// NewHandlers creates a new handlers instance. Closing closing ends every
// open event stream.
func NewHandlers(sess Session, logger *zerolog.Logger, closing <-chan struct{}) *Handlers {
	return &Handlers{sess: sess, log: logger, closing: closing}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error *core.CoreError `json:"error"`
}

// SendRequest represents the send message request body.
type SendRequest struct {
	Text string `json:"text"`
}

// SendResponse reports the appended message and whether it is still queued.
type SendResponse struct {
	Message core.Message `json:"message"`
	Queued  bool         `json:"queued"`
}

// StatusResponse summarizes the session.
type StatusResponse struct {
	Status   core.Status     `json:"status"`
	Messages int             `json:"messages"`
	Pending  int             `json:"pending"`
	Error    *core.CoreError `json:"error,omitempty"`
}

// EventPayload is one server-sent event.
type EventPayload struct {
	Status  core.Status     `json:"status"`
	Pending int             `json:"pending"`
	Message *core.Message   `json:"message,omitempty"`
	Error   *core.CoreError `json:"error,omitempty"`
}

// Status reports the connection status and queue depth.
// GET /api/status
func (h *Handlers) Status(c *gin.Context) {
	snap := h.sess.Snapshot()
	c.JSON(http.StatusOK, StatusResponse{
		Status:   snap.Status,
		Messages: len(snap.History),
		Pending:  len(snap.Pending),
		Error:    snap.Err,
	})
}

// History returns the ordered history, optionally only the last ?limit= entries.
// GET /api/history
func (h *Handlers) History(c *gin.Context) {
	history := h.sess.Snapshot().History
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: &core.CoreError{Code: "bad_request", Message: "invalid limit"}})
			return
		}
		if limit < len(history) {
			history = history[len(history)-limit:]
		}
	}
	c.JSON(http.StatusOK, history)
}

// PostMessage sends a chat message through the session.
// POST /api/messages
func (h *Handlers) PostMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: &core.CoreError{Code: "bad_request", Message: "invalid request body"}})
		return
	}

	msg, err := h.sess.SendMessage(c.Request.Context(), req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, core.ErrEmptyMessage):
			status = http.StatusBadRequest
		case errors.Is(err, core.ErrStopped), errors.Is(err, session.ErrNotStarted):
			status = http.StatusServiceUnavailable
		default:
			h.log.Error().Err(err).Msg("send message failed")
		}
		c.JSON(status, ErrorResponse{Error: core.AsCoreError(err)})
		return
	}

	queued := slices.ContainsFunc(h.sess.Snapshot().Pending, func(m core.Message) bool {
		return m.ID == msg.ID
	})
	c.JSON(http.StatusAccepted, SendResponse{Message: msg, Queued: queued})
}

// Events streams session events as server-sent events until the client goes
// away or the bridge shuts down.
// GET /api/events
func (h *Handlers) Events(c *gin.Context) {
	events := make(chan core.Event, eventBuffer)
	unsubscribe := h.sess.Subscribe(func(ev core.Event) {
		select {
		case events <- ev:
		default:
			// Slow reader; the client can resync from /api/history.
		}
	})
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case ev := <-events:
			c.SSEvent(ev.Kind.String(), EventPayload{
				Status:  ev.Status,
				Pending: ev.Pending,
				Message: ev.Message,
				Error:   ev.Error,
			})
			return true
		case <-ctx.Done():
			return false
		case <-h.closing:
			return false
		}
	})
}
