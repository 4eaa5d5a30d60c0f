// Package conn owns the duplex channels to the chat server: one scoped to
// the active conversation and one long-lived global notify channel for
// out-of-band signals. Both reconnect independently with bounded
// exponential backoff.
package conn

import (
	"strings"
	"sync"
	"time"

	"github.com/lumachat/lumasync/internal/domain"
	"github.com/lumachat/lumasync/internal/logging"
	"github.com/lumachat/lumasync/internal/protocol"
)

// Source identifies which channel delivered a frame. Ordering is guaranteed
// within a source, never across sources.
type Source string

const (
	SourceConversation Source = "conversation"
	SourceNotify       Source = "notify"
)

// FrameHandler receives every decoded inbound frame.
type FrameHandler func(src Source, f protocol.Frame)

// StatusHandler receives connection-indicator transitions for the
// conversation channel.
type StatusHandler func(connected bool)

// Options configures a Manager.
type Options struct {
	WSBaseURL    string // e.g. wss://host/ws
	Backoff      Backoff
	PingInterval time.Duration
	Dialer       Dialer // nil means websocket
}

// Manager owns zero or one conversation channel plus the notify channel.
type Manager struct {
	opts Options
	log  *logging.Logger

	onFrame  FrameHandler
	onStatus StatusHandler

	mu     sync.Mutex
	convo  *link
	notify *link
	target domain.Target
}

// NewManager creates a Manager. Handlers may be nil.
func NewManager(opts Options, log *logging.Logger, onFrame FrameHandler, onStatus StatusHandler) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	return &Manager{
		opts:     opts,
		log:      log.Sub("conn"),
		onFrame:  onFrame,
		onStatus: onStatus,
	}
}

// Open binds the conversation channel to target, tearing down any previous
// conversation channel first. The reconnect counter starts fresh.
func (m *Manager) Open(target domain.Target) {
	m.mu.Lock()
	old := m.convo
	m.target = target
	l := newLink("chat", m.channelURL(target.Path()), m.opts.Dialer, m.opts.Backoff,
		m.opts.PingInterval, m.log,
		func(f protocol.Frame) { m.deliver(SourceConversation, f) },
		func(connected bool) {
			if m.onStatus != nil {
				m.onStatus(connected)
			}
		})
	m.convo = l
	m.mu.Unlock()

	if old != nil {
		old.stop()
	}
	m.log.Info().Str("target", target.String()).Msg("opening conversation channel")
	go l.start()
}

// CloseConversation tears down the conversation channel, if any.
func (m *Manager) CloseConversation() {
	m.mu.Lock()
	old := m.convo
	m.convo = nil
	m.target = domain.Target{}
	m.mu.Unlock()
	if old != nil {
		old.stop()
	}
}

// StartNotify opens the global channel. It lives until Close and reconnects
// with the same backoff policy as the conversation channel, independently.
func (m *Manager) StartNotify() {
	m.mu.Lock()
	if m.notify != nil {
		m.mu.Unlock()
		return
	}
	l := newLink("notify", m.channelURL("notify"), m.opts.Dialer, m.opts.Backoff,
		m.opts.PingInterval, m.log,
		func(f protocol.Frame) { m.deliver(SourceNotify, f) },
		nil)
	m.notify = l
	m.mu.Unlock()
	go l.start()
}

// Close tears down both channels.
func (m *Manager) Close() {
	m.mu.Lock()
	convo, notify := m.convo, m.notify
	m.convo, m.notify = nil, nil
	m.target = domain.Target{}
	m.mu.Unlock()
	if convo != nil {
		convo.stop()
	}
	if notify != nil {
		notify.stop()
	}
}

// Target returns the currently bound conversation target.
func (m *Manager) Target() domain.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Connected reports whether the conversation channel is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	l := m.convo
	m.mu.Unlock()
	return l != nil && l.isOpen()
}

// Send transmits a frame on the conversation channel. Best-effort: an
// unconnected channel yields ErrNotConnected and the frame is dropped.
func (m *Manager) Send(f protocol.Frame) error {
	m.mu.Lock()
	l := m.convo
	m.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	return l.send(f)
}

// SendSignal transmits a signaling frame on whichever channel is open,
// preferring the conversation channel.
func (m *Manager) SendSignal(f protocol.Frame) error {
	m.mu.Lock()
	convo, notify := m.convo, m.notify
	m.mu.Unlock()

	if convo != nil && convo.isOpen() {
		if err := convo.send(f); err == nil {
			return nil
		}
	}
	if notify != nil && notify.isOpen() {
		return notify.send(f)
	}
	m.log.Warn().Str("action", f.Action).Msg("signal not sent, no channel open")
	return ErrNotConnected
}

func (m *Manager) deliver(src Source, f protocol.Frame) {
	if m.onFrame != nil {
		m.onFrame(src, f)
	}
}

func (m *Manager) channelURL(path string) string {
	return strings.TrimRight(m.opts.WSBaseURL, "/") + "/" + path + "/"
}
