// Package protocol defines the wire frames exchanged with the chat server
// and the single normalization boundary that folds the server's evolving
// field names into the internal message shape.
package protocol

import (
	"encoding/json"

	"github.com/lumachat/lumasync/internal/domain"
)

// Frame discriminants. The server has emitted several generations of these;
// inbound handling accepts all of them, outbound uses the canonical ones.
const (
	TypeMessage        = "message"
	TypeProjectMessage = "project_message"
	TypeRead           = "read"
	TypeReadReceipt    = "read_receipt"
	TypeStatus         = "status"
	TypeUserStatus     = "user_status"
	TypeTyping         = "typing"
	TypeTypingLegacy   = "typing_indicator"
	TypeRTC            = "rtc"
	TypePing           = "ping"
)

// Frame is the envelope for every frame on either channel, one JSON object
// per frame. Field sets overlap by discriminant; unknown fields are ignored.
type Frame struct {
	Type string `json:"type"`

	// Message fields, including legacy aliases still emitted by older
	// server builds. Only ParseMessage may read the alias fields.
	ID             int64  `json:"id,omitempty"`
	MessageID      int64  `json:"message_id,omitempty"`
	PK             int64  `json:"pk,omitempty"`
	TempID         string `json:"temp_id,omitempty"`
	SenderID       int64  `json:"sender_id,omitempty"`
	Sender         int64  `json:"sender,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	Username       string `json:"username,omitempty"`
	ReceiverID     int64  `json:"receiver_id,omitempty"`
	ProjectID      int64  `json:"project_id,omitempty"`
	Project        int64  `json:"project,omitempty"`
	Text           string `json:"text,omitempty"`
	Message        string `json:"message,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	File           string `json:"file,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	FileType       string `json:"file_type,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	ReplyToID      int64  `json:"reply_to_id,omitempty"`
	ReplyTo        int64  `json:"reply_to,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	IsRead         bool   `json:"is_read,omitempty"`
	IsDelivered    bool   `json:"is_delivered,omitempty"`

	// Read-receipt fields.
	MessageIDs []int64 `json:"message_ids,omitempty"`
	ReaderID   int64   `json:"reader_id,omitempty"`

	// Presence fields.
	UserID int64  `json:"user_id,omitempty"`
	Status string `json:"status,omitempty"`

	// RTC signaling fields.
	Action    string `json:"action,omitempty"`
	ToID      int64  `json:"to_id,omitempty"`
	FromID    int64  `json:"from_id,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	CallType  string `json:"call_type,omitempty"`
	Raised    *bool  `json:"raised,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Decode parses one wire frame. A frame that is not valid JSON or carries no
// discriminant is a protocol error; the caller discards it.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Type == "" {
		return Frame{}, ErrNoDiscriminant
	}
	return f, nil
}

// Encode serializes a frame for transmission.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// IsMessage reports whether the frame carries a chat message under either
// the current or the legacy group discriminant.
func (f *Frame) IsMessage() bool {
	return f.Type == TypeMessage || f.Type == TypeProjectMessage
}

// IsGroupMessage reports whether a message frame belongs to a group
// conversation. Group frames either use the legacy discriminant or carry a
// project reference.
func (f *Frame) IsGroupMessage() bool {
	return f.Type == TypeProjectMessage || f.projectRef() != 0
}

func (f *Frame) projectRef() int64 {
	if f.ProjectID != 0 {
		return f.ProjectID
	}
	return f.Project
}

// NewMessageFrame builds the outbound frame for a chat message.
func NewMessageFrame(target domain.Target, text string, att *domain.Attachment, replyToID int64, correlationID string) Frame {
	f := Frame{
		Type:      TypeMessage,
		Text:      text,
		TempID:    correlationID,
		ReplyToID: replyToID,
	}
	if att != nil {
		f.FileURL = att.URL
		f.FileName = att.Name
		f.FileType = att.MimeType
		f.FileSize = att.Size
	}
	switch target.Kind {
	case domain.TargetDirect:
		f.ReceiverID = target.ID
	case domain.TargetGroup:
		f.ProjectID = target.ID
	}
	return f
}

// NewReadFrame builds the outbound batched read receipt.
func NewReadFrame(messageIDs []int64) Frame {
	return Frame{Type: TypeRead, MessageIDs: messageIDs}
}

// NewTypingFrame builds the outbound typing indicator.
func NewTypingFrame(target domain.Target) Frame {
	f := Frame{Type: TypeTyping}
	if target.Kind == domain.TargetGroup {
		f.ProjectID = target.ID
	} else {
		f.ReceiverID = target.ID
	}
	return f
}

// NewPingFrame builds the keepalive frame. No response is expected.
func NewPingFrame() Frame {
	return Frame{Type: TypePing}
}
