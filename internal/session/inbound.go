package session

import (
	"strconv"

	"github.com/lumachat/lumasync/internal/conn"
	"github.com/lumachat/lumasync/internal/domain"
	"github.com/lumachat/lumasync/internal/protocol"
)

// handleFrame is the single inbound router for both channels.
func (s *Session) handleFrame(src conn.Source, f protocol.Frame) {
	switch {
	case f.IsMessage():
		// Chat messages only render when delivered on the conversation
		// channel; the notify channel carries them for badge counts upstream.
		if src == conn.SourceConversation {
			s.handleMessage(f)
		}
	case f.Type == protocol.TypeRead || f.Type == protocol.TypeReadReceipt:
		s.handleReceipt(f)
	case f.Type == protocol.TypeStatus || f.Type == protocol.TypeUserStatus:
		s.presence.Signal(f.UserID, f.Status == "online")
	case f.Type == protocol.TypeTyping || f.Type == protocol.TypeTypingLegacy:
		s.emit(domain.Event{Kind: domain.EventTyping, UserID: firstID(f.SenderID, f.Sender, f.UserID)})
	case f.Type == protocol.TypeRTC:
		s.handleSignal(f)
	default:
		s.log.Debug().Str("type", f.Type).Msg("ignoring frame")
	}
}

func (s *Session) handleMessage(f protocol.Frame) {
	pm := protocol.ParseMessage(f)

	s.mu.Lock()
	target := s.target
	v := s.view
	s.mu.Unlock()

	if !s.routes(target, f, pm) {
		s.log.Debug().
			Int64("sender", pm.Message.SenderID).
			Str("target", target.String()).
			Msg("frame not for open conversation, dropped")
		return
	}

	if s.droppedByBlock(pm.Message) {
		return
	}

	// Reconciliation runs before duplicate suppression: the echo of an own
	// send shares its canonical id with nothing, but its correlation id must
	// claim the provisional copy rather than render a second bubble.
	if pm.Message.CorrelationID != "" {
		s.mu.Lock()
		_, mine := s.inFlight[pm.Message.CorrelationID]
		if mine {
			delete(s.inFlight, pm.Message.CorrelationID)
			if pm.Message.ID != 0 {
				s.seen[pm.Message.ID] = struct{}{}
			}
		}
		s.mu.Unlock()

		if mine {
			s.reconcile(v, pm.Message)
			return
		}
		// A correlation id minted by another client of the same account is
		// an ordinary new message here.
	}

	s.mu.Lock()
	if pm.Message.ID != 0 {
		if _, dup := s.seen[pm.Message.ID]; dup {
			s.mu.Unlock()
			return
		}
		s.seen[pm.Message.ID] = struct{}{}
	}
	s.mu.Unlock()

	if !v.append(pm.Message) {
		return
	}
	s.emit(domain.Event{Kind: domain.EventRendered, Message: &pm.Message})
	if pm.Message.Attachment != nil {
		s.emit(domain.Event{Kind: domain.EventAttachment, Message: &pm.Message})
	}
	if pm.Message.SenderID != s.cfg.Session.SelfID && pm.Message.ID != 0 {
		s.receipts.NewMessageArrived(pm.Message.ID)
	}
}

// routes decides whether a message frame belongs to the open conversation.
func (s *Session) routes(target domain.Target, f protocol.Frame, pm protocol.ParsedMessage) bool {
	switch target.Kind {
	case domain.TargetGroup:
		return f.IsGroupMessage() && pm.ProjectID == target.ID
	case domain.TargetDirect:
		if f.IsGroupMessage() {
			return false
		}
		if pm.Message.SenderID == target.ID {
			return true
		}
		return pm.Message.SenderID == s.cfg.Session.SelfID && pm.ReceiverID == target.ID
	default:
		return false
	}
}

// droppedByBlock applies the per-timestamp block cutoff: messages a blocked
// party sent before the block stay visible, later ones vanish. The lookup
// hits the in-memory mirror, never SQLite; this runs on the channel read
// goroutine for every message frame.
func (s *Session) droppedByBlock(m domain.Message) bool {
	if m.SenderID == s.cfg.Session.SelfID {
		return false
	}
	at, blocked := s.blockCutoff(m.SenderID)
	if blocked && m.Timestamp.After(at) {
		s.log.Debug().Int64("sender", m.SenderID).Msg("message from blocked party dropped")
		return true
	}
	return false
}

func (s *Session) reconcile(v *view, canonical domain.Message) {
	if !v.reconcile(canonical.CorrelationID, canonical) {
		// The provisional copy was discarded by a conversation switch while
		// the echo was in flight. Nothing to upgrade.
		return
	}
	if canonical.ID != 0 {
		key := strconv.FormatInt(canonical.ID, 10)
		if err := s.store.Migrate(canonical.CorrelationID, key); err != nil {
			s.log.Warn().Err(err).Str("temp_id", canonical.CorrelationID).Msg("annotation migration failed")
		}
	}
	m := canonical
	s.emit(domain.Event{Kind: domain.EventReconciled, Message: &m})
}

// handleReceipt applies an inbound read receipt to own rendered messages.
func (s *Session) handleReceipt(f protocol.Frame) {
	if len(f.MessageIDs) == 0 {
		return
	}
	s.mu.Lock()
	v := s.view
	s.mu.Unlock()

	changed := v.markRead(f.MessageIDs)
	if len(changed) == 0 {
		return
	}
	s.emit(domain.Event{Kind: domain.EventRead, MessageIDs: changed, UserID: f.ReaderID})
}

func (s *Session) handleSignal(f protocol.Frame) {
	s.mu.Lock()
	h := s.onSignal
	s.mu.Unlock()
	if h == nil {
		s.log.Debug().Str("action", f.Action).Msg("signal with no call layer attached")
		return
	}
	h(protocol.ParseRTC(f))
}

func firstID(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
