package domain

// EventKind discriminates session events delivered to the UI layer.
type EventKind string

const (
	// EventRendered fires when a new message enters the view, including the
	// provisional render of an outbound send.
	EventRendered EventKind = "rendered"
	// EventReconciled fires when a provisional message gains its canonical id.
	EventReconciled EventKind = "reconciled"
	// EventRead fires when inbound receipts flip tick state on own messages.
	EventRead EventKind = "read"
	// EventPresence fires when a party's debounced presence changes.
	EventPresence EventKind = "presence"
	// EventConnection fires on every channel open/close/error transition.
	EventConnection EventKind = "connection"
	// EventTyping fires on an inbound typing indicator. Ephemeral.
	EventTyping EventKind = "typing"
	// EventAttachment fires when an inbound frame carries an attachment,
	// prompting the file/media summary to refresh.
	EventAttachment EventKind = "attachment"
)

// Event is the tagged payload for session listeners. Only the fields
// relevant to the Kind are populated.
type Event struct {
	Kind       EventKind
	Message    *Message
	MessageIDs []int64
	UserID     int64
	Presence   Presence
	Connected  bool
}

// Listener receives session events. Listeners run on the event path and must
// not block.
type Listener func(Event)
