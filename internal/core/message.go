package core

import "time"

// Sender tells whether a message was authored on this side of the session.
type Sender string

const (
	SenderLocal  Sender = "local"
	SenderRemote Sender = "remote"
)

// Default author labels shown next to messages.
const (
	AuthorLocal  = "You"
	AuthorRemote = "Server"
)

// Message is the domain model for a chat message.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Local reports whether the message was sent by this client.
func (m Message) Local() bool {
	return m.Sender == SenderLocal
}

// CloneMessages returns a copy of msgs that callers may retain.
func CloneMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return []Message{}
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
