package session

import (
	"errors"
	"strings"

	"github.com/lumachat/lumasync/internal/domain"
	"github.com/lumachat/lumasync/internal/protocol"
)

var (
	// ErrNoConversation means no conversation is open.
	ErrNoConversation = errors.New("session: no open conversation")
	// ErrEmptyMessage means the composed message has no text and no
	// attachment after trimming.
	ErrEmptyMessage = errors.New("session: empty message")
	// ErrAttachmentTooLarge means the attachment exceeds the size cap.
	ErrAttachmentTooLarge = errors.New("session: attachment too large")
	// ErrRecipientBlocked means the direct counterpart is blocked locally.
	ErrRecipientBlocked = errors.New("session: recipient is blocked")
)

// Send runs the outbound pipeline: validate, render a provisional copy,
// record it for reconciliation, then transmit. The returned message is the
// provisional copy, identified by its correlation id until the server echo
// confirms it. Transmission is best-effort; a send failure leaves the
// provisional copy rendered and unconfirmed.
func (s *Session) Send(text string, att *domain.Attachment, replyToID int64) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		return domain.Message{}, ErrEmptyMessage
	}
	if att != nil && att.Size > s.cfg.Compose.MaxAttachmentBytes {
		return domain.Message{}, ErrAttachmentTooLarge
	}

	s.mu.Lock()
	target := s.target
	v := s.view
	s.mu.Unlock()
	if target.IsZero() {
		return domain.Message{}, ErrNoConversation
	}

	if target.Kind == domain.TargetDirect {
		if _, blocked := s.blockCutoff(target.ID); blocked {
			return domain.Message{}, ErrRecipientBlocked
		}
	}

	m := domain.Message{
		CorrelationID: s.newCorrelationID(),
		SenderID:      s.cfg.Session.SelfID,
		SenderName:    s.cfg.Session.Username,
		Text:          text,
		Attachment:    att,
		ReplyToID:     replyToID,
		Timestamp:     s.now(),
	}

	v.append(m)
	s.mu.Lock()
	s.inFlight[m.CorrelationID] = m
	s.mu.Unlock()
	s.emit(domain.Event{Kind: domain.EventRendered, Message: &m})

	frame := protocol.NewMessageFrame(target, text, att, replyToID, m.CorrelationID)
	if err := s.conn.Send(frame); err != nil {
		s.log.Warn().Err(err).Str("temp_id", m.CorrelationID).Msg("send deferred, channel down")
	}
	return m, nil
}
