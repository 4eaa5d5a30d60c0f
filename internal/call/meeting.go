package call

import (
	"fmt"
	"sync"

	"github.com/lumachat/lumasync/internal/protocol"
)

// Meeting is a full-mesh group session: every participant holds one peer
// link per other participant, negotiated pairwise over the signaling relay.
// Joining is a broadcast; each existing participant answers with a direct
// offer, so pairings progress independently and one failed peer never
// blocks the rest.
type Meeting struct {
	coord    *Coordinator
	callType string

	mu     sync.Mutex
	peers  map[int64]PeerLink
	tracks []Track
	camera Track // current camera video track, nil in audio-only meetings
	screen Track
	closed bool
}

// JoinMeeting acquires media and announces this participant to the mesh.
// Until Leave, all inbound signaling is routed to the meeting.
func (c *Coordinator) JoinMeeting(callType string) (*Meeting, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle || c.meeting != nil {
		return nil, ErrBusy
	}

	tracks, err := c.media.Acquire(callType)
	if err != nil {
		return nil, fmt.Errorf("acquire media: %w", err)
	}

	m := &Meeting{
		coord:    c,
		callType: callType,
		peers:    make(map[int64]PeerLink),
		tracks:   tracks,
	}
	for _, t := range tracks {
		if t.Kind() == "video" {
			m.camera = t
		}
	}
	c.meeting = m

	c.sendLocked(protocol.RTCSignal{Action: protocol.ActionJoinRequest, CallType: callType})
	return m, nil
}

// Meeting returns the active meeting, nil outside one.
func (c *Coordinator) Meeting() *Meeting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meeting
}

// Peers returns the ids of the currently linked participants.
func (m *Meeting) Peers() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	return ids
}

// Leave disconnects from every participant and detaches the meeting. It
// reports whether this participant was the last one out, in which case the
// caller announces the meeting's end in the conversation.
func (m *Meeting) Leave() (lastOut bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.closed = true
	lastOut = len(m.peers) == 0
	for id, link := range m.peers {
		m.coord.send(protocol.RTCSignal{Action: protocol.ActionEnd, ToID: id})
		link.Close()
	}
	m.peers = make(map[int64]PeerLink)
	tracks := m.tracks
	screen := m.screen
	m.tracks = nil
	m.camera = nil
	m.screen = nil
	m.mu.Unlock()

	m.coord.media.Release(tracks)
	if screen != nil {
		m.coord.media.Release([]Track{screen})
	}

	m.coord.mu.Lock()
	if m.coord.meeting == m {
		m.coord.meeting = nil
	}
	m.coord.mu.Unlock()
	return lastOut
}

// ShareScreen swaps the outgoing video of every pairing to a display
// capture. When the capture source stops on its own the camera is restored.
func (m *Meeting) ShareScreen() error {
	screen, err := m.coord.media.AcquireScreen()
	if err != nil {
		return fmt.Errorf("acquire screen: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.coord.media.Release([]Track{screen})
		return ErrNoCall
	}
	m.screen = screen
	for id, link := range m.peers {
		if err := link.ReplaceVideoTrack(screen); err != nil {
			m.coord.log.Warn().Err(err).Int64("peer", id).Msg("screen track swap failed")
		}
	}
	m.mu.Unlock()

	screen.OnEnded(m.StopScreenShare)
	m.notify(Event{Kind: EventScreenShare, Sharing: true})
	return nil
}

// StopScreenShare restores the camera video on every pairing. Ending the
// capture from the sharing surface lands here too.
func (m *Meeting) StopScreenShare() {
	m.mu.Lock()
	screen := m.screen
	m.screen = nil
	if screen != nil && !m.closed {
		for id, link := range m.peers {
			if m.camera == nil {
				break
			}
			if err := link.ReplaceVideoTrack(m.camera); err != nil {
				m.coord.log.Warn().Err(err).Int64("peer", id).Msg("camera track restore failed")
			}
		}
	}
	m.mu.Unlock()

	if screen == nil {
		return
	}
	m.coord.media.Release([]Track{screen})
	m.notify(Event{Kind: EventScreenShare, Sharing: false})
}

// RaiseHand broadcasts the hand state to the mesh.
func (m *Meeting) RaiseHand(raised bool) {
	m.coord.send(protocol.RTCSignal{Action: protocol.ActionRaiseHand, Raised: raised})
}

// React broadcasts an ephemeral reaction to the mesh.
func (m *Meeting) React(content string) {
	m.coord.send(protocol.RTCSignal{Action: protocol.ActionReaction, Content: content})
}

func (m *Meeting) handleSignal(sig protocol.RTCSignal) {
	if sig.FromID == m.coord.selfID {
		return
	}
	switch sig.Action {
	case protocol.ActionJoinRequest:
		m.handleJoin(sig)
	case protocol.ActionOffer:
		m.handleOffer(sig)
	case protocol.ActionAnswer:
		m.handleAnswer(sig)
	case protocol.ActionCandidate:
		m.handleCandidate(sig)
	case protocol.ActionEnd:
		m.dropPeer(sig.FromID)
	case protocol.ActionRaiseHand:
		m.notify(Event{Kind: EventHandRaise, PeerID: sig.FromID, Raised: sig.Raised})
	case protocol.ActionReaction:
		m.notify(Event{Kind: EventReaction, PeerID: sig.FromID, Content: sig.Content})
	default:
		m.coord.log.Debug().Str("action", sig.Action).Msg("ignoring meeting signal")
	}
}

// handleJoin is the existing-participant side of a join broadcast: offer a
// fresh pairing to the newcomer.
func (m *Meeting) handleJoin(sig protocol.RTCSignal) {
	link, err := m.buildLink(sig.FromID)
	if err != nil {
		m.coord.log.Warn().Err(err).Int64("peer", sig.FromID).Msg("pairing setup failed")
		return
	}
	offer, err := link.CreateOffer()
	if err != nil {
		link.Close()
		m.coord.log.Warn().Err(err).Int64("peer", sig.FromID).Msg("offer failed")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		link.Close()
		return
	}
	if old, ok := m.peers[sig.FromID]; ok {
		old.Close()
	}
	m.peers[sig.FromID] = link
	m.mu.Unlock()

	m.coord.send(protocol.RTCSignal{Action: protocol.ActionOffer, ToID: sig.FromID, SDP: offer, CallType: m.callType})
	m.notify(Event{Kind: EventPeerJoined, PeerID: sig.FromID})
}

// handleOffer is the joiner side: an existing participant offers a pairing.
func (m *Meeting) handleOffer(sig protocol.RTCSignal) {
	link, err := m.buildLink(sig.FromID)
	if err != nil {
		m.coord.log.Warn().Err(err).Int64("peer", sig.FromID).Msg("pairing setup failed")
		return
	}
	answer, err := link.HandleOffer(sig.SDP)
	if err != nil {
		link.Close()
		m.coord.log.Warn().Err(err).Int64("peer", sig.FromID).Msg("answer failed")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		link.Close()
		return
	}
	if old, ok := m.peers[sig.FromID]; ok {
		old.Close()
	}
	m.peers[sig.FromID] = link
	m.mu.Unlock()

	m.coord.send(protocol.RTCSignal{Action: protocol.ActionAnswer, ToID: sig.FromID, SDP: answer})
	m.notify(Event{Kind: EventPeerJoined, PeerID: sig.FromID})
}

func (m *Meeting) handleAnswer(sig protocol.RTCSignal) {
	m.mu.Lock()
	link := m.peers[sig.FromID]
	m.mu.Unlock()
	if link == nil {
		return
	}
	if err := link.HandleAnswer(sig.SDP); err != nil {
		m.coord.log.Warn().Err(err).Int64("peer", sig.FromID).Msg("apply answer failed")
		m.dropPeer(sig.FromID)
	}
}

func (m *Meeting) handleCandidate(sig protocol.RTCSignal) {
	m.mu.Lock()
	link := m.peers[sig.FromID]
	m.mu.Unlock()
	if link == nil {
		return
	}
	if err := link.AddCandidate(sig.Candidate); err != nil {
		m.coord.log.Debug().Err(err).Int64("peer", sig.FromID).Msg("candidate rejected")
	}
}

// dropPeer removes one pairing. The rest of the mesh is untouched.
func (m *Meeting) dropPeer(peerID int64) {
	m.mu.Lock()
	link, ok := m.peers[peerID]
	if ok {
		delete(m.peers, peerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	link.Close()
	m.notify(Event{Kind: EventPeerLeft, PeerID: peerID})
}

func (m *Meeting) buildLink(peerID int64) (PeerLink, error) {
	link, err := m.coord.factory.NewPeerLink(PeerCallbacks{
		OnCandidate: func(candidate string) {
			m.coord.send(protocol.RTCSignal{
				Action:    protocol.ActionCandidate,
				ToID:      peerID,
				Candidate: candidate,
			})
		},
		OnFailure: func() { m.dropPeer(peerID) },
	})
	if err != nil {
		return nil, fmt.Errorf("create peer link: %w", err)
	}

	m.mu.Lock()
	tracks := m.tracks
	screen := m.screen
	m.mu.Unlock()
	for _, t := range tracks {
		out := t
		if t.Kind() == "video" && screen != nil {
			out = screen
		}
		if err := link.AddTrack(out); err != nil {
			link.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
	}
	return link, nil
}

func (m *Meeting) notify(ev Event) {
	if m.coord.notify != nil {
		m.coord.notify(ev)
	}
}
