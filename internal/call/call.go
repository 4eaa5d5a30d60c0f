package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lumachat/lumasync/internal/logging"
	"github.com/lumachat/lumasync/internal/protocol"
)

// State of the one-to-one call machine.
type State string

const (
	StateIdle      State = "idle"
	StateCalling   State = "calling"
	StateRinging   State = "ringing"
	StateConnected State = "connected"
)

// EventKind discriminates call events.
type EventKind string

const (
	// EventStateChange fires on every one-to-one state transition.
	EventStateChange EventKind = "state_change"
	// EventIncoming fires when a remote offer puts the machine in ringing.
	EventIncoming EventKind = "incoming"
	// EventPeerJoined and EventPeerLeft track meeting membership.
	EventPeerJoined EventKind = "peer_joined"
	EventPeerLeft   EventKind = "peer_left"
	// EventHandRaise and EventReaction are ephemeral meeting broadcasts.
	EventHandRaise EventKind = "hand_raise"
	EventReaction  EventKind = "reaction"
	// EventScreenShare fires when screen sharing starts or stops locally.
	EventScreenShare EventKind = "screen_share"
)

// Event is delivered to the coordinator's notify callback.
type Event struct {
	Kind     EventKind
	State    State
	PeerID   int64
	CallType string
	Raised   bool
	Content  string
	Sharing  bool
}

// Signaler relays signaling payloads to the other side.
type Signaler interface {
	SendSignal(sig protocol.RTCSignal) error
}

var (
	// ErrBusy means a call or meeting is already in progress.
	ErrBusy = errors.New("call: already in a call")
	// ErrNoCall means the requested transition needs an active call.
	ErrNoCall = errors.New("call: no call in progress")
)

// Coordinator runs the one-to-one call state machine and hosts at most one
// meeting. All inbound signaling enters through HandleSignal.
type Coordinator struct {
	selfID   int64
	signaler Signaler
	factory  PeerFactory
	media    MediaSource
	log      *logging.Logger
	notify   func(Event)

	mu           sync.Mutex
	state        State
	peerID       int64
	callType     string
	link         PeerLink
	tracks       []Track
	pendingOffer string
	meeting      *Meeting

	evMu       sync.Mutex
	evQueue    []Event
	evDraining bool
}

// NewCoordinator creates an idle coordinator. notify may be nil.
func NewCoordinator(selfID int64, signaler Signaler, factory PeerFactory, media MediaSource, log *logging.Logger, notify func(Event)) *Coordinator {
	return &Coordinator{
		selfID:   selfID,
		signaler: signaler,
		factory:  factory,
		media:    media,
		log:      log.Sub("call"),
		notify:   notify,
		state:    StateIdle,
	}
}

// State returns the one-to-one call state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerID returns the counterpart of the active or ringing call.
func (c *Coordinator) PeerID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Start places an outgoing call. Media acquisition failure leaves the
// machine idle; nothing is signaled.
func (c *Coordinator) Start(peerID int64, callType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle || c.meeting != nil {
		return ErrBusy
	}

	tracks, err := c.media.Acquire(callType)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	link, err := c.buildLink(peerID, tracks)
	if err != nil {
		c.media.Release(tracks)
		return err
	}

	offer, err := link.CreateOffer()
	if err != nil {
		link.Close()
		c.media.Release(tracks)
		return fmt.Errorf("create offer: %w", err)
	}

	c.state = StateCalling
	c.peerID = peerID
	c.callType = callType
	c.link = link
	c.tracks = tracks
	c.sendLocked(protocol.RTCSignal{
		Action:   protocol.ActionOffer,
		ToID:     peerID,
		SDP:      offer,
		CallType: callType,
	})
	c.emitStateLocked()
	return nil
}

// Accept answers the ringing call.
func (c *Coordinator) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRinging {
		return ErrNoCall
	}

	tracks, err := c.media.Acquire(c.callType)
	if err != nil {
		offender := c.peerID
		c.teardownLocked()
		c.sendLocked(protocol.RTCSignal{Action: protocol.ActionEnd, ToID: offender})
		c.emitStateLocked()
		return fmt.Errorf("acquire media: %w", err)
	}

	link, err := c.buildLink(c.peerID, tracks)
	if err != nil {
		c.media.Release(tracks)
		c.teardownLocked()
		c.emitStateLocked()
		return err
	}

	answer, err := link.HandleOffer(c.pendingOffer)
	if err != nil {
		link.Close()
		c.media.Release(tracks)
		c.teardownLocked()
		c.emitStateLocked()
		return fmt.Errorf("answer offer: %w", err)
	}

	c.link = link
	c.tracks = tracks
	c.pendingOffer = ""
	c.state = StateConnected
	c.sendLocked(protocol.RTCSignal{Action: protocol.ActionAnswer, ToID: c.peerID, SDP: answer})
	c.emitStateLocked()
	return nil
}

// Decline rejects the ringing call.
func (c *Coordinator) Decline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRinging {
		return
	}
	peer := c.peerID
	c.teardownLocked()
	c.sendLocked(protocol.RTCSignal{Action: protocol.ActionEnd, ToID: peer})
	c.emitStateLocked()
}

// End hangs up the active or outgoing call.
func (c *Coordinator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return
	}
	peer := c.peerID
	c.teardownLocked()
	c.sendLocked(protocol.RTCSignal{Action: protocol.ActionEnd, ToID: peer})
	c.emitStateLocked()
}

// HandleSignal routes one inbound signaling payload. With a meeting active
// every signal belongs to the mesh; otherwise to the one-to-one machine.
func (c *Coordinator) HandleSignal(sig protocol.RTCSignal) {
	c.mu.Lock()
	m := c.meeting
	c.mu.Unlock()
	if m != nil {
		m.handleSignal(sig)
		return
	}

	switch sig.Action {
	case protocol.ActionOffer:
		c.handleOffer(sig)
	case protocol.ActionAnswer:
		c.handleAnswer(sig)
	case protocol.ActionCandidate:
		c.handleCandidate(sig)
	case protocol.ActionEnd:
		c.handleEnd(sig)
	default:
		c.log.Debug().Str("action", sig.Action).Msg("ignoring signal outside meeting")
	}
}

func (c *Coordinator) handleOffer(sig protocol.RTCSignal) {
	c.mu.Lock()
	if c.state != StateIdle {
		// Busy: politely reject so the caller's UI does not ring forever.
		c.sendLocked(protocol.RTCSignal{Action: protocol.ActionEnd, ToID: sig.FromID})
		c.mu.Unlock()
		return
	}
	c.state = StateRinging
	c.peerID = sig.FromID
	c.callType = sig.CallType
	c.pendingOffer = sig.SDP
	c.emitStateLocked()
	c.mu.Unlock()

	c.emit(Event{Kind: EventIncoming, PeerID: sig.FromID, CallType: sig.CallType})
}

func (c *Coordinator) handleAnswer(sig protocol.RTCSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCalling || sig.FromID != c.peerID {
		return
	}
	if err := c.link.HandleAnswer(sig.SDP); err != nil {
		c.log.Warn().Err(err).Msg("apply answer failed")
		peer := c.peerID
		c.teardownLocked()
		c.sendLocked(protocol.RTCSignal{Action: protocol.ActionEnd, ToID: peer})
		c.emitStateLocked()
		return
	}
	c.state = StateConnected
	c.emitStateLocked()
}

func (c *Coordinator) handleCandidate(sig protocol.RTCSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil || sig.FromID != c.peerID {
		return
	}
	if err := c.link.AddCandidate(sig.Candidate); err != nil {
		c.log.Debug().Err(err).Msg("candidate rejected")
	}
}

func (c *Coordinator) handleEnd(sig protocol.RTCSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle || sig.FromID != c.peerID {
		return
	}
	c.teardownLocked()
	c.emitStateLocked()
}

// handlePeerFailure is the link failure path: any loss of the connection
// ends the call.
func (c *Coordinator) handlePeerFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return
	}
	c.log.Warn().Int64("peer", c.peerID).Msg("peer connection lost")
	c.teardownLocked()
	c.emitStateLocked()
}

func (c *Coordinator) buildLink(peerID int64, tracks []Track) (PeerLink, error) {
	link, err := c.factory.NewPeerLink(PeerCallbacks{
		OnCandidate: func(candidate string) {
			c.send(protocol.RTCSignal{
				Action:    protocol.ActionCandidate,
				ToID:      peerID,
				Candidate: candidate,
			})
		},
		OnFailure: c.handlePeerFailure,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer link: %w", err)
	}
	for _, t := range tracks {
		if err := link.AddTrack(t); err != nil {
			link.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
	}
	return link, nil
}

func (c *Coordinator) teardownLocked() {
	if c.link != nil {
		c.link.Close()
		c.link = nil
	}
	if len(c.tracks) > 0 {
		c.media.Release(c.tracks)
		c.tracks = nil
	}
	c.state = StateIdle
	c.peerID = 0
	c.callType = ""
	c.pendingOffer = ""
}

func (c *Coordinator) emitStateLocked() {
	c.emit(Event{Kind: EventStateChange, State: c.state, PeerID: c.peerID, CallType: c.callType})
}

// emit queues ev for the notify callback. A single drain goroutine delivers
// queued events in order, so rapid transitions reach the callback in the
// sequence they happened and the callback may call back into the
// coordinator without deadlocking.
func (c *Coordinator) emit(ev Event) {
	if c.notify == nil {
		return
	}
	c.evMu.Lock()
	c.evQueue = append(c.evQueue, ev)
	if c.evDraining {
		c.evMu.Unlock()
		return
	}
	c.evDraining = true
	c.evMu.Unlock()
	go c.drainEvents()
}

func (c *Coordinator) drainEvents() {
	for {
		c.evMu.Lock()
		if len(c.evQueue) == 0 {
			c.evDraining = false
			c.evMu.Unlock()
			return
		}
		ev := c.evQueue[0]
		c.evQueue = c.evQueue[1:]
		c.evMu.Unlock()
		c.notify(ev)
	}
}

func (c *Coordinator) send(sig protocol.RTCSignal) {
	sig.FromID = c.selfID
	if err := c.signaler.SendSignal(sig); err != nil {
		c.log.Warn().Err(err).Str("action", sig.Action).Msg("signal dropped")
	}
}

func (c *Coordinator) sendLocked(sig protocol.RTCSignal) {
	c.send(sig)
}
