package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// Frame is the structured wire envelope for a chat message.
type Frame struct {
	ID     string  `json:"id,omitempty"`
	Text   *string `json:"text"`
	Sender string  `json:"sender,omitempty"`
	Time   string  `json:"time,omitempty"`
}

// Clock-only layouts peers send when they format time for display.
var clockLayouts = []string{
	"3:04:05 PM",
	"03:04:05 PM",
	"15:04:05",
	"3:04 PM",
	"15:04",
}

var errNotObject = errors.New("frame is not a json object")

// Encode renders a message as a JSON text frame.
func Encode(msg core.Message) ([]byte, error) {
	text := msg.Text
	sender := msg.Author
	if sender == "" {
		sender = string(msg.Sender)
	}
	data, err := json.Marshal(Frame{
		ID:     msg.ID,
		Text:   &text,
		Sender: sender,
		Time:   msg.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// EncodeText wraps locally authored text into a new message and encodes it.
func EncodeText(text string, now time.Time) ([]byte, error) {
	return Encode(core.Message{
		ID:        utils.NewID(),
		Text:      text,
		Sender:    core.SenderLocal,
		Author:    core.AuthorLocal,
		Timestamp: now,
	})
}

// Decode turns an inbound frame into a message. Frames that are not a JSON
// object with a string text field degrade to a plain-text remote message;
// in that case the returned error wraps core.ErrDecodeFallback and the
// message is still usable.
func Decode(raw []byte, now time.Time) (core.Message, error) {
	frame, err := parseFrame(raw)
	if err != nil {
		return core.Message{
			ID:        utils.NewID(),
			Text:      string(raw),
			Sender:    core.SenderRemote,
			Author:    core.AuthorRemote,
			Timestamp: now,
		}, fmt.Errorf("%w: %v", core.ErrDecodeFallback, err)
	}

	id := strings.TrimSpace(frame.ID)
	if id == "" {
		id = utils.NewID()
	}
	return core.Message{
		ID:        id,
		Text:      *frame.Text,
		Sender:    SenderFromLabel(frame.Sender),
		Author:    frame.Sender,
		Timestamp: ParseTime(frame.Time, now),
	}, nil
}

func parseFrame(raw []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, errNotObject
	}
	var frame Frame
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return Frame{}, err
	}
	if frame.Text == nil {
		return Frame{}, errors.New("frame has no text field")
	}
	return frame, nil
}

// SenderFromLabel maps a wire sender label onto a Sender.
func SenderFromLabel(label string) core.Sender {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "you", "me", "local":
		return core.SenderLocal
	default:
		return core.SenderRemote
	}
}

// ParseTime reads a wire time label. Clock-only labels are placed on now's
// date; anything unparseable yields now.
func ParseTime(label string, now time.Time) time.Time {
	label = strings.TrimSpace(label)
	if label == "" {
		return now
	}
	if ts, err := time.Parse(time.RFC3339Nano, label); err == nil {
		return ts
	}
	for _, layout := range clockLayouts {
		clock, err := time.Parse(layout, label)
		if err != nil {
			continue
		}
		y, m, d := now.Date()
		return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, now.Location())
	}
	return now
}
