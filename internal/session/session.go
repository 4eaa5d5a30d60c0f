// Package session is the coordination core: it owns the channel manager,
// the rendered view, the delivery record for in-flight sends, receipt
// batching, presence debouncing and the annotation store, and routes every
// inbound frame of the open conversation.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumachat/lumasync/internal/config"
	"github.com/lumachat/lumasync/internal/conn"
	"github.com/lumachat/lumasync/internal/domain"
	"github.com/lumachat/lumasync/internal/logging"
	"github.com/lumachat/lumasync/internal/presence"
	"github.com/lumachat/lumasync/internal/protocol"
	"github.com/lumachat/lumasync/internal/receipt"
	"github.com/lumachat/lumasync/internal/store"
)

// SignalHandler receives inbound call-signaling payloads.
type SignalHandler func(sig protocol.RTCSignal)

// Session binds one authenticated user to the server's real-time surface.
type Session struct {
	cfg   config.Config
	log   *logging.Logger
	store *store.DB

	conn     *conn.Manager
	presence *presence.Debouncer
	receipts *receipt.Engine

	now func() time.Time

	mu        sync.Mutex
	target    domain.Target
	view      *view
	inFlight  map[string]domain.Message // correlation id → provisional copy
	seen      map[int64]struct{}
	blocks    map[int64]time.Time // user id → block cutoff, mirror of the store
	listeners []domain.Listener
	onSignal  SignalHandler
}

// Option adjusts a Session at construction time.
type Option func(*Session, *conn.Options)

// WithDialer substitutes the channel dialer. Tests use an in-memory one.
func WithDialer(d conn.Dialer) Option {
	return func(_ *Session, o *conn.Options) { o.Dialer = d }
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session, _ *conn.Options) { s.now = now }
}

// New assembles a Session from config. The annotation store is owned by the
// caller and must outlive the session.
func New(cfg config.Config, log *logging.Logger, db *store.DB, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		log:      log.Sub("session"),
		store:    db,
		now:      time.Now,
		view:     newView(),
		inFlight: make(map[string]domain.Message),
		seen:     make(map[int64]struct{}),
	}

	// The blocked set lives in SQLite but the inbound router checks it on
	// every message frame, so it is mirrored in memory.
	blocks, err := db.Blocks()
	if err != nil {
		s.log.Warn().Err(err).Msg("loading blocked users failed, starting empty")
		blocks = make(map[int64]time.Time)
	}
	s.blocks = blocks

	connOpts := conn.Options{
		WSBaseURL: cfg.Server.WSBaseURL,
		Backoff: conn.Backoff{
			Base:        cfg.Backoff.Base(),
			Cap:         cfg.Backoff.Cap(),
			MaxAttempts: cfg.Backoff.MaxAttempts,
		},
		PingInterval: cfg.Server.PingInterval(),
	}
	for _, opt := range opts {
		opt(s, &connOpts)
	}

	s.conn = conn.NewManager(connOpts, log, s.handleFrame, s.handleStatus)
	s.presence = presence.New(cfg.Presence.OfflineStable(), log, func(userID int64, p domain.Presence) {
		s.emit(domain.Event{Kind: domain.EventPresence, UserID: userID, Presence: p})
	})
	s.receipts = receipt.New(receipt.Options{
		VisibilityThreshold: cfg.Receipts.VisibilityThreshold,
		NearBottomPx:        cfg.Receipts.NearBottomPx,
		LoadFlushDelay:      cfg.Receipts.LoadFlushDelay(),
	}, log, s.sendReceipt, func(ids []int64) { s.currentView().markRead(ids) })

	return s
}

// Subscribe registers a listener for session events. Listeners run inline
// on the frame path and must return quickly.
func (s *Session) Subscribe(l domain.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// SetSignalHandler routes inbound rtc frames to the call layer.
func (s *Session) SetSignalHandler(h SignalHandler) {
	s.mu.Lock()
	s.onSignal = h
	s.mu.Unlock()
}

// Start opens the global notify channel. Conversation channels come and go
// with Open; the notify channel lives until Close.
func (s *Session) Start() {
	s.conn.StartNotify()
}

// Open switches the session to target. Everything scoped to the previous
// conversation is discarded: rendered view, delivery record, seen ids and
// pending receipt batches. A late frame from the old channel can no longer
// leak into the new conversation.
func (s *Session) Open(target domain.Target) {
	s.mu.Lock()
	s.target = target
	s.view = newView()
	s.inFlight = make(map[string]domain.Message)
	s.seen = make(map[int64]struct{})
	s.mu.Unlock()

	s.receipts.Reset()
	s.conn.Open(target)
	s.receipts.ScheduleLoadFlush()
}

// CloseConversation leaves the current conversation without ending the
// session.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	s.target = domain.Target{}
	s.view = newView()
	s.inFlight = make(map[string]domain.Message)
	s.seen = make(map[int64]struct{})
	s.mu.Unlock()

	s.receipts.Reset()
	s.conn.CloseConversation()
}

// Close tears down both channels and all timers.
func (s *Session) Close() {
	s.receipts.Reset()
	s.presence.Reset()
	s.conn.Close()
}

// Target returns the open conversation target.
func (s *Session) Target() domain.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Connected reports whether the conversation channel is up.
func (s *Session) Connected() bool { return s.conn.Connected() }

// Messages returns the rendered surface in order.
func (s *Session) Messages() []domain.Message {
	return s.currentView().messages()
}

func (s *Session) currentView() *view {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// PresenceOf returns the debounced presence of a party.
func (s *Session) PresenceOf(userID int64) domain.Presence {
	return s.presence.State(userID)
}

// Receipts exposes the read-receipt engine for viewport wiring.
func (s *Session) Receipts() *receipt.Engine { return s.receipts }

// SendTyping emits a typing indicator for the open conversation.
// Best-effort, dropped silently when disconnected.
func (s *Session) SendTyping() {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target.IsZero() {
		return
	}
	if err := s.conn.Send(protocol.NewTypingFrame(target)); err != nil {
		s.log.Debug().Err(err).Msg("typing indicator dropped")
	}
}

// SendSignal relays a call-signaling payload, preferring the conversation
// channel and falling back to the notify channel.
func (s *Session) SendSignal(sig protocol.RTCSignal) error {
	return s.conn.SendSignal(protocol.NewRTCFrame(sig))
}

// AnnounceMeeting posts the meeting invite marker in the open conversation.
// It travels as an ordinary chat message so it survives in the log and
// reaches parties who join later.
func (s *Session) AnnounceMeeting() error {
	_, err := s.Send(domain.MeetingInviteText, nil, 0)
	return err
}

// AnnounceMeetingEnded posts the meeting-ended marker. The last participant
// out of a meeting calls this.
func (s *Session) AnnounceMeetingEnded() error {
	_, err := s.Send(domain.MeetingEndedText, nil, 0)
	return err
}

// Block records a block against userID effective now. Messages the party
// sent before the block stay visible. The cutoff writes through to the
// store and the in-memory mirror together.
func (s *Session) Block(userID int64) error {
	at := s.now()
	if err := s.store.Block(userID, at); err != nil {
		return err
	}
	s.mu.Lock()
	s.blocks[userID] = at
	s.mu.Unlock()
	return nil
}

// Unblock lifts a block.
func (s *Session) Unblock(userID int64) error {
	if err := s.store.Unblock(userID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.blocks, userID)
	s.mu.Unlock()
	return nil
}

// blockCutoff reads the in-memory block mirror.
func (s *Session) blockCutoff(userID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.blocks[userID]
	return at, ok
}

// Annotation passthroughs. Provisional messages are keyed by correlation id
// until reconciliation migrates the rows to the canonical id.

func (s *Session) Star(m domain.Message, v bool) error {
	return s.store.SetStarred(messageKey(m), v)
}

func (s *Session) Pin(m domain.Message, v bool) error {
	return s.store.SetPinned(messageKey(m), v)
}

func (s *Session) DeleteForMe(m domain.Message) error {
	return s.store.SetDeletedForMe(messageKey(m), true)
}

func (s *Session) ToggleReaction(m domain.Message, emoji string) (bool, error) {
	return s.store.ToggleReaction(messageKey(m), emoji)
}

func (s *Session) Annotations(m domain.Message) (store.Flags, error) {
	return s.store.GetFlags(messageKey(m))
}

// messageKey is the annotation-store key for a message: the canonical id
// once confirmed, the correlation id while provisional.
func messageKey(m domain.Message) string {
	if m.ID != 0 {
		return strconv.FormatInt(m.ID, 10)
	}
	return m.CorrelationID
}

func (s *Session) sendReceipt(ids []int64) error {
	return s.conn.Send(protocol.NewReadFrame(ids))
}

func (s *Session) emit(e domain.Event) {
	s.mu.Lock()
	listeners := make([]domain.Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, l := range listeners {
		l(e)
	}
}

func (s *Session) handleStatus(connected bool) {
	s.emit(domain.Event{Kind: domain.EventConnection, Connected: connected})

	// A dead conversation channel is the only offline signal we get for a
	// direct counterpart between server status frames.
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if !connected && target.Kind == domain.TargetDirect {
		s.presence.Signal(target.ID, false)
	}
}

// newCorrelationID builds the client-side send key: a temp_ prefix, the
// send time in unix milliseconds and a short random suffix.
func (s *Session) newCorrelationID() string {
	suffix := uuid.NewString()
	suffix = suffix[:8] + suffix[9:10]
	return "temp_" + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + suffix
}
