package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumachat/lumasync/internal/config"
	"github.com/lumachat/lumasync/internal/conn"
	"github.com/lumachat/lumasync/internal/domain"
	"github.com/lumachat/lumasync/internal/logging"
	"github.com/lumachat/lumasync/internal/protocol"
	"github.com/lumachat/lumasync/internal/store"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// fakeConn is an in-memory channel connection fed by the test.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []protocol.Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, assert.AnError
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	f, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) feed(t *testing.T, f protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	require.NoError(t, err)
	c.in <- data
}

func (c *fakeConn) sent() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Frame, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeDialer hands out one fakeConn per dial and remembers them in order.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
}

func (d *fakeDialer) Dial(url string) (conn.Conn, error) {
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) conversation() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.conns) - 1; i >= 0; i-- {
		if !strings.Contains(d.urls[i], "/notify/") {
			return d.conns[i]
		}
	}
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (e *eventLog) record(ev domain.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) ofKind(kind domain.EventKind) []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Event
	for _, ev := range e.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Server.WSBaseURL = "ws://test/ws"
	cfg.Server.PingIntervalMs = 0
	cfg.Session.SelfID = 1
	cfg.Session.Username = "alice"
	cfg.Backoff.BaseMs = 1
	cfg.Backoff.CapMs = 4
	cfg.Presence.OfflineStableMs = 10
	cfg.Receipts.LoadFlushDelayMs = 5
	return cfg
}

func testSession(t *testing.T) (*Session, *fakeDialer, *eventLog) {
	t.Helper()
	db, err := store.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dialer := &fakeDialer{}
	s := New(testConfig(), testLogger(), db, WithDialer(dialer))
	t.Cleanup(s.Close)

	events := &eventLog{}
	s.Subscribe(events.record)
	return s, dialer, events
}

func openDirect(t *testing.T, s *Session, dialer *fakeDialer, userID int64) *fakeConn {
	t.Helper()
	s.Open(domain.DirectTarget(userID))
	require.Eventually(t, s.Connected, time.Second, time.Millisecond)
	c := dialer.conversation()
	require.NotNil(t, c)
	return c
}

func inboundDirect(id, senderID int64, text string) protocol.Frame {
	return protocol.Frame{
		Type:      protocol.TypeMessage,
		ID:        id,
		SenderID:  senderID,
		Text:      text,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

func TestSendRendersProvisionalAndTransmits(t *testing.T) {
	s, dialer, events := testSession(t)
	c := openDirect(t, s, dialer, 42)

	m, err := s.Send("hello", nil, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.CorrelationID, "temp_"))
	assert.False(t, m.Confirmed())

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	require.Len(t, events.ofKind(domain.EventRendered), 1)

	require.Eventually(t, func() bool { return len(c.sent()) == 1 }, time.Second, time.Millisecond)
	sent := c.sent()[0]
	assert.Equal(t, protocol.TypeMessage, sent.Type)
	assert.Equal(t, m.CorrelationID, sent.TempID)
	assert.EqualValues(t, 42, sent.ReceiverID)
}

func TestServerEchoReconcilesInPlace(t *testing.T) {
	s, dialer, events := testSession(t)
	c := openDirect(t, s, dialer, 42)

	m, err := s.Send("hello", nil, 0)
	require.NoError(t, err)

	echo := protocol.Frame{
		Type:       protocol.TypeMessage,
		ID:         99,
		TempID:     m.CorrelationID,
		SenderID:   1,
		ReceiverID: 42,
		Text:       "hello",
		Timestamp:  time.Now().Format(time.RFC3339Nano),
	}
	c.feed(t, echo)

	require.Eventually(t, func() bool {
		return len(events.ofKind(domain.EventReconciled)) == 1
	}, time.Second, time.Millisecond)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 99, msgs[0].ID)
	assert.Equal(t, m.CorrelationID, msgs[0].CorrelationID)

	// The echo's canonical id is now known; a replay must not render again.
	c.feed(t, echo)
	c.feed(t, inboundDirect(100, 42, "ping"))
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, time.Millisecond)
}

func TestDuplicateInboundRenderedOnce(t *testing.T) {
	s, dialer, _ := testSession(t)
	c := openDirect(t, s, dialer, 42)

	c.feed(t, inboundDirect(7, 42, "hi"))
	c.feed(t, inboundDirect(7, 42, "hi"))
	c.feed(t, inboundDirect(8, 42, "again"))

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, time.Millisecond)
	msgs := s.Messages()
	assert.EqualValues(t, 7, msgs[0].ID)
	assert.EqualValues(t, 8, msgs[1].ID)
}

func TestForeignCorrelationIDRendersFresh(t *testing.T) {
	s, dialer, events := testSession(t)
	c := openDirect(t, s, dialer, 42)

	f := inboundDirect(11, 42, "from another device")
	f.TempID = "temp_1700000000000_zzzzzzzzz"
	c.feed(t, f)

	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, events.ofKind(domain.EventReconciled))
}

func TestConversationSwitchDropsStrayFrames(t *testing.T) {
	s, dialer, _ := testSession(t)
	openDirect(t, s, dialer, 42)
	_, err := s.Send("hello", nil, 0)
	require.NoError(t, err)

	c := openDirect(t, s, dialer, 43)
	assert.Empty(t, s.Messages())

	// A frame addressed to the previous conversation does not leak in.
	c.feed(t, inboundDirect(5, 42, "stale"))
	c.feed(t, inboundDirect(6, 43, "current"))

	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 6, s.Messages()[0].ID)
}

func TestGroupRoutingMatchesExactProject(t *testing.T) {
	s, dialer, _ := testSession(t)
	s.Open(domain.GroupTarget(7))
	require.Eventually(t, s.Connected, time.Second, time.Millisecond)
	c := dialer.conversation()
	require.NotNil(t, c)

	c.feed(t, protocol.Frame{Type: protocol.TypeProjectMessage, ID: 1, Sender: 42, ProjectID: 8, Message: "other project"})
	c.feed(t, protocol.Frame{Type: protocol.TypeMessage, ID: 2, SenderID: 42, Text: "direct"})
	c.feed(t, protocol.Frame{Type: protocol.TypeProjectMessage, ID: 3, Sender: 42, ProjectID: 7, Message: "ours"})

	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 3, s.Messages()[0].ID)
	assert.Equal(t, "ours", s.Messages()[0].Text)
}

func TestBlockCutoffByTimestamp(t *testing.T) {
	s, dialer, _ := testSession(t)
	c := openDirect(t, s, dialer, 42)

	require.NoError(t, s.Block(42))
	cutoff := time.Now()

	before := inboundDirect(20, 42, "before the block")
	before.Timestamp = cutoff.Add(-time.Hour).Format(time.RFC3339Nano)
	after := inboundDirect(21, 42, "after the block")
	after.Timestamp = cutoff.Add(time.Hour).Format(time.RFC3339Nano)

	c.feed(t, before)
	c.feed(t, after)

	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 20, s.Messages()[0].ID)

	require.NoError(t, s.Unblock(42))
	c.feed(t, after)
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, time.Millisecond)
}

func TestPersistedBlocksLoadAtConstruction(t *testing.T) {
	db, err := store.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// block recorded in an earlier run, before this session existed
	require.NoError(t, db.Block(42, time.Now().Add(-time.Hour)))

	dialer := &fakeDialer{}
	s := New(testConfig(), testLogger(), db, WithDialer(dialer))
	t.Cleanup(s.Close)
	c := openDirect(t, s, dialer, 42)

	older := inboundDirect(50, 42, "sent before the block")
	older.Timestamp = time.Now().Add(-2 * time.Hour).Format(time.RFC3339Nano)
	c.feed(t, older)
	c.feed(t, inboundDirect(51, 42, "sent after the block"))

	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 50, s.Messages()[0].ID)

	_, err = s.Send("hello", nil, 0)
	assert.ErrorIs(t, err, ErrRecipientBlocked)
}

func TestSendToBlockedPartyRefused(t *testing.T) {
	s, dialer, _ := testSession(t)
	openDirect(t, s, dialer, 42)

	require.NoError(t, s.Block(42))
	_, err := s.Send("hello", nil, 0)
	assert.ErrorIs(t, err, ErrRecipientBlocked)
	assert.Empty(t, s.Messages())
}

func TestSendValidation(t *testing.T) {
	s, dialer, _ := testSession(t)
	openDirect(t, s, dialer, 42)

	_, err := s.Send("   ", nil, 0)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	big := &domain.Attachment{URL: "https://files/a.bin", Size: 11 << 20}
	_, err = s.Send("file", big, 0)
	assert.ErrorIs(t, err, ErrAttachmentTooLarge)

	s.CloseConversation()
	_, err = s.Send("hello", nil, 0)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestInboundReceiptFlipsTicks(t *testing.T) {
	s, dialer, events := testSession(t)
	c := openDirect(t, s, dialer, 42)

	m, err := s.Send("hello", nil, 0)
	require.NoError(t, err)
	c.feed(t, protocol.Frame{
		Type: protocol.TypeMessage, ID: 50, TempID: m.CorrelationID,
		SenderID: 1, ReceiverID: 42, Text: "hello",
	})
	require.Eventually(t, func() bool {
		return len(events.ofKind(domain.EventReconciled)) == 1
	}, time.Second, time.Millisecond)

	c.feed(t, protocol.Frame{Type: protocol.TypeReadReceipt, MessageIDs: []int64{50}, ReaderID: 42})

	require.Eventually(t, func() bool {
		return len(events.ofKind(domain.EventRead)) == 1
	}, time.Second, time.Millisecond)
	read := events.ofKind(domain.EventRead)[0]
	assert.Equal(t, []int64{50}, read.MessageIDs)
	assert.EqualValues(t, 42, read.UserID)
	assert.True(t, s.Messages()[0].Read)

	// Replaying the receipt changes nothing.
	c.feed(t, protocol.Frame{Type: protocol.TypeReadReceipt, MessageIDs: []int64{50}, ReaderID: 42})
	c.feed(t, inboundDirect(51, 42, "done"))
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, time.Millisecond)
	assert.Len(t, events.ofKind(domain.EventRead), 1)
}

func TestInboundMessageFeedsReceiptEngine(t *testing.T) {
	s, dialer, _ := testSession(t)
	c := openDirect(t, s, dialer, 42)

	c.feed(t, inboundDirect(60, 42, "read me"))
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, time.Millisecond)

	s.Receipts().Observe(map[int64]float64{60: 1.0})

	require.Eventually(t, func() bool {
		for _, f := range c.sent() {
			if f.Type == protocol.TypeRead {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	assert.True(t, s.Messages()[0].Read)
}

func TestPresenceFrameEmitsEvent(t *testing.T) {
	s, dialer, events := testSession(t)
	c := openDirect(t, s, dialer, 42)

	c.feed(t, protocol.Frame{Type: protocol.TypeUserStatus, UserID: 42, Status: "online"})

	require.Eventually(t, func() bool {
		return len(events.ofKind(domain.EventPresence)) == 1
	}, time.Second, time.Millisecond)
	ev := events.ofKind(domain.EventPresence)[0]
	assert.EqualValues(t, 42, ev.UserID)
	assert.Equal(t, domain.PresenceOnline, ev.Presence)
	assert.Equal(t, domain.PresenceOnline, s.PresenceOf(42))
}

func TestTypingFrameEmitsEvent(t *testing.T) {
	s, dialer, events := testSession(t)
	c := openDirect(t, s, dialer, 42)

	c.feed(t, protocol.Frame{Type: protocol.TypeTypingLegacy, SenderID: 42})

	require.Eventually(t, func() bool {
		return len(events.ofKind(domain.EventTyping)) == 1
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 42, events.ofKind(domain.EventTyping)[0].UserID)
}

func TestSignalHandlerReceivesRTCFrames(t *testing.T) {
	s, dialer, _ := testSession(t)

	var (
		mu   sync.Mutex
		sigs []protocol.RTCSignal
	)
	s.SetSignalHandler(func(sig protocol.RTCSignal) {
		mu.Lock()
		sigs = append(sigs, sig)
		mu.Unlock()
	})

	c := openDirect(t, s, dialer, 42)
	c.feed(t, protocol.Frame{Type: protocol.TypeRTC, Action: protocol.ActionOffer, FromID: 42, ToID: 1, SDP: "v=0"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sigs) == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, protocol.ActionOffer, sigs[0].Action)
	assert.Equal(t, "v=0", sigs[0].SDP)
	mu.Unlock()
}

func TestMeetingMarkersTravelAsMessages(t *testing.T) {
	s, dialer, _ := testSession(t)
	c := openDirect(t, s, dialer, 42)

	require.NoError(t, s.AnnounceMeeting())
	require.NoError(t, s.AnnounceMeetingEnded())

	require.Eventually(t, func() bool { return len(c.sent()) == 2 }, time.Second, time.Millisecond)
	sent := c.sent()
	assert.Equal(t, domain.MeetingInviteText, sent[0].Text)
	assert.Equal(t, domain.MeetingEndedText, sent[1].Text)
	assert.Len(t, s.Messages(), 2)
}

func TestAnnotationsMigrateOnReconcile(t *testing.T) {
	s, dialer, events := testSession(t)
	c := openDirect(t, s, dialer, 42)

	m, err := s.Send("keep this", nil, 0)
	require.NoError(t, err)
	require.NoError(t, s.Star(m, true))

	c.feed(t, protocol.Frame{
		Type: protocol.TypeMessage, ID: 70, TempID: m.CorrelationID,
		SenderID: 1, ReceiverID: 42, Text: "keep this",
	})
	require.Eventually(t, func() bool {
		return len(events.ofKind(domain.EventReconciled)) == 1
	}, time.Second, time.Millisecond)

	flags, err := s.Annotations(s.Messages()[0])
	require.NoError(t, err)
	assert.True(t, flags.Starred)
}
