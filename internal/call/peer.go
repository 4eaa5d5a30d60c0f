// Package call coordinates WebRTC media sessions over the chat signaling
// relay: one-to-one calls and full-mesh group meetings. Peer connections
// and media capture sit behind interfaces so the coordination logic is
// independent of the pion stack.
package call

// Track is a local media track that can be attached to a peer link.
type Track interface {
	// Kind is "audio" or "video".
	Kind() string
	// Local exposes the underlying engine track. The concrete type is owned
	// by the PeerLink implementation that consumes it.
	Local() any
	// OnEnded registers a handler for the source stopping on its own, such
	// as the user ending a screen capture. Camera and microphone tracks may
	// never fire it.
	OnEnded(func())
}

// MediaSource acquires local capture tracks.
type MediaSource interface {
	// Acquire returns the capture tracks for a call type: audio only for
	// "audio", audio plus camera video for "video".
	Acquire(callType string) ([]Track, error)
	// AcquireScreen returns a display-capture video track.
	AcquireScreen() (Track, error)
	// Release stops the given tracks.
	Release(tracks []Track)
}

// PeerCallbacks are invoked by a PeerLink as the connection progresses. All
// callbacks may be nil.
type PeerCallbacks struct {
	// OnRemoteTrack fires when the remote side adds a media track.
	OnRemoteTrack func(kind string)
	// OnCandidate fires for each local ICE candidate to relay.
	OnCandidate func(candidate string)
	// OnStateChange fires on connection-state transitions; connected is
	// true exactly while media flows.
	OnStateChange func(connected bool)
	// OnFailure fires once when the connection is lost for good.
	OnFailure func()
}

// PeerLink is one peer connection. Implementations are not safe for
// concurrent use; the coordinator serializes access.
type PeerLink interface {
	// AddTrack attaches a local track before negotiation.
	AddTrack(t Track) error
	// ReplaceVideoTrack swaps the outgoing video track mid-session without
	// renegotiating.
	ReplaceVideoTrack(t Track) error
	// CreateOffer produces the local SDP offer.
	CreateOffer() (string, error)
	// HandleOffer applies a remote offer and produces the SDP answer.
	HandleOffer(sdp string) (string, error)
	// HandleAnswer applies the remote answer to a sent offer.
	HandleAnswer(sdp string) error
	// AddCandidate applies a relayed remote ICE candidate.
	AddCandidate(candidate string) error
	// Close tears the connection down.
	Close() error
}

// PeerFactory builds peer links.
type PeerFactory interface {
	NewPeerLink(cb PeerCallbacks) (PeerLink, error)
}

// Call types carried in signaling.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)
