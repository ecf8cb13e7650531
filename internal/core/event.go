package core

// EventKind is a notification the session emits to subscribers.
type EventKind int

const (
	// EventHistoryChanged carries a snapshot of the history after a mutation.
	EventHistoryChanged EventKind = iota
	// EventStatusChanged reports a connection lifecycle transition.
	EventStatusChanged
	// EventError surfaces a user-visible error (retries exhausted, store unavailable).
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventHistoryChanged:
		return "history"
	case EventStatusChanged:
		return "status"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a state mutation has completed.
type Event struct {
	Kind    EventKind
	Status  Status
	History []Message  // for EventHistoryChanged
	Message *Message   // the appended message, if any
	Pending int        // messages awaiting delivery
	Error   *CoreError // for EventError
}
