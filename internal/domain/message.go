package domain

import "time"

// Attachment references an uploaded file on a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is one entry in the conversation view. A provisional message has a
// CorrelationID and no server-assigned ID; reconciliation fills in the ID and
// the message is thereafter a read-only copy of the server's record, except
// for the Delivered/Read ticks which flip via receipts.
type Message struct {
	ID            int64       `json:"id,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	SenderID      int64       `json:"senderId"`
	SenderName    string      `json:"senderName,omitempty"`
	Text          string      `json:"text"`
	Attachment    *Attachment `json:"attachment,omitempty"`
	ReplyToID     int64       `json:"replyToId,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	Delivered     bool        `json:"delivered"`
	Read          bool        `json:"read"`
}

// Confirmed reports whether the server has assigned this message its
// canonical identity.
func (m *Message) Confirmed() bool { return m.ID != 0 }

// Meeting sentinel texts. These travel as ordinary chat messages, not
// signaling frames, so they survive in the conversation log.
const (
	MeetingInviteText = "[MEETING_INVITE]"
	MeetingEndedText  = "[MEETING_ENDED]"
)
