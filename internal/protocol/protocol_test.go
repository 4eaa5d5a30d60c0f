package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumachat/lumasync/internal/domain"
)

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"text":"no discriminant"}`))
	assert.ErrorIs(t, err, ErrNoDiscriminant)
}

func TestDecodeMessageFrame(t *testing.T) {
	raw := []byte(`{"type":"message","id":42,"temp_id":"t1","sender_id":7,"text":"hello","is_delivered":true}`)
	f, err := Decode(raw)
	require.NoError(t, err)

	assert.True(t, f.IsMessage())
	p := ParseMessage(f)
	assert.Equal(t, int64(42), p.Message.ID)
	assert.Equal(t, "t1", p.Message.CorrelationID)
	assert.Equal(t, int64(7), p.Message.SenderID)
	assert.Equal(t, "hello", p.Message.Text)
	assert.True(t, p.Message.Delivered)
}

func TestParseMessageFallbackAliases(t *testing.T) {
	f, err := Decode([]byte(`{"type":"message","message_id":9,"sender":3,"message":"hey","created_at":"2026-02-01T10:00:00Z","file":"/media/a.png","file_name":"a.png"}`))
	require.NoError(t, err)

	p := ParseMessage(f)
	assert.Equal(t, int64(9), p.Message.ID)
	assert.Equal(t, int64(3), p.Message.SenderID)
	assert.Equal(t, "hey", p.Message.Text)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), p.Message.Timestamp)
	require.NotNil(t, p.Message.Attachment)
	assert.Equal(t, "/media/a.png", p.Message.Attachment.URL)
}

func TestParseMessageCanonicalWinsOverAlias(t *testing.T) {
	f, err := Decode([]byte(`{"type":"message","id":5,"pk":99,"sender_id":1,"sender":2}`))
	require.NoError(t, err)

	p := ParseMessage(f)
	assert.Equal(t, int64(5), p.Message.ID)
	assert.Equal(t, int64(1), p.Message.SenderID)
}

func TestParseMessageMissingTimestampDefaultsToNow(t *testing.T) {
	f, err := Decode([]byte(`{"type":"message","id":1,"sender_id":2,"text":"x"}`))
	require.NoError(t, err)

	p := ParseMessage(f)
	assert.WithinDuration(t, time.Now(), p.Message.Timestamp, time.Minute)
}

func TestGroupMessageDetection(t *testing.T) {
	legacy, _ := Decode([]byte(`{"type":"project_message","id":1,"sender_id":2,"text":"x"}`))
	assert.True(t, legacy.IsGroupMessage())

	current, _ := Decode([]byte(`{"type":"message","id":1,"sender_id":2,"project_id":8,"text":"x"}`))
	assert.True(t, current.IsGroupMessage())
	assert.Equal(t, int64(8), ParseMessage(current).ProjectID)

	dm, _ := Decode([]byte(`{"type":"message","id":1,"sender_id":2,"receiver_id":3,"text":"x"}`))
	assert.False(t, dm.IsGroupMessage())
	assert.Equal(t, int64(3), ParseMessage(dm).ReceiverID)
}

func TestNewMessageFrameTargsByKind(t *testing.T) {
	dm := NewMessageFrame(domain.DirectTarget(4), "hi", nil, 0, "t9")
	assert.Equal(t, int64(4), dm.ReceiverID)
	assert.Zero(t, dm.ProjectID)
	assert.Equal(t, "t9", dm.TempID)

	grp := NewMessageFrame(domain.GroupTarget(12), "hi", &domain.Attachment{URL: "u", Name: "n"}, 7, "")
	assert.Equal(t, int64(12), grp.ProjectID)
	assert.Zero(t, grp.ReceiverID)
	assert.Equal(t, int64(7), grp.ReplyToID)
	assert.Equal(t, "u", grp.FileURL)
}

func TestRTCRoundTrip(t *testing.T) {
	sig := RTCSignal{Action: ActionOffer, FromID: 1, ToID: 2, SDP: "v=0", CallType: "video"}
	data, err := Encode(NewRTCFrame(sig))
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeRTC, f.Type)
	assert.Equal(t, sig, ParseRTC(f))
}

func TestRTCRaiseHandCarriesExplicitFalse(t *testing.T) {
	data, err := Encode(NewRTCFrame(RTCSignal{Action: ActionRaiseHand, FromID: 3, Raised: false}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"raised":false`)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, ParseRTC(f).Raised)
}
