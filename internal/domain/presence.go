package domain

// Presence is the UI-stable online state of a remote party.
type Presence string

const (
	PresenceUnknown Presence = "unknown"
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)
