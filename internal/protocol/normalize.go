package protocol

import (
	"errors"
	"time"

	"github.com/lumachat/lumasync/internal/domain"
)

// ErrNoDiscriminant marks a frame without a type field.
var ErrNoDiscriminant = errors.New("protocol: frame has no type")

// ParsedMessage is the canonical shape of an inbound message frame after
// field-name normalization. The alias fallback chain lives here and nowhere
// else.
type ParsedMessage struct {
	Message    domain.Message
	ReceiverID int64
	ProjectID  int64
}

// ParseMessage normalizes a message frame. Server generations disagree on
// field names (sender vs sender_id, created_at vs timestamp, file vs
// file_url); the first non-zero alias wins.
func ParseMessage(f Frame) ParsedMessage {
	m := domain.Message{
		ID:            firstID(f.ID, f.MessageID, f.PK),
		CorrelationID: f.TempID,
		SenderID:      firstID(f.SenderID, f.Sender, f.FromID),
		SenderName:    firstStr(f.SenderUsername, f.SenderName, f.Username),
		Text:          firstStr(f.Text, f.Message),
		ReplyToID:     firstID(f.ReplyToID, f.ReplyTo),
		Timestamp:     parseTimestamp(firstStr(f.Timestamp, f.CreatedAt)),
		Delivered:     f.IsDelivered,
		Read:          f.IsRead,
	}
	if url := firstStr(f.FileURL, f.File); url != "" {
		m.Attachment = &domain.Attachment{
			URL:      url,
			Name:     f.FileName,
			MimeType: f.FileType,
			Size:     f.FileSize,
		}
	}
	return ParsedMessage{
		Message:    m,
		ReceiverID: f.ReceiverID,
		ProjectID:  f.projectRef(),
	}
}

func firstID(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstStr(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}
