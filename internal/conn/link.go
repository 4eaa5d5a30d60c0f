package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/lumachat/lumasync/internal/logging"
	"github.com/lumachat/lumasync/internal/protocol"
)

// ErrNotConnected is returned by Send when the channel is not open. Callers
// treat sends as best-effort; this error is informational, not fatal.
var ErrNotConnected = errors.New("conn: channel not open")

// link is one logical channel: a connection plus its reconnection state.
// Exactly one reconnection scheduler may be pending per link; the generation
// counter invalidates read loops and timers that outlive a Close or re-Open.
type link struct {
	name      string
	url       string
	dialer    Dialer
	backoff   Backoff
	pingEvery time.Duration
	log       *logging.Logger

	onFrame func(protocol.Frame)
	onState func(connected bool)

	mu        sync.Mutex
	conn      Conn
	open      bool
	closed    bool
	attempts  int
	gen       int
	reconnect *time.Timer
	pingStop  chan struct{}
}

func newLink(name, url string, d Dialer, b Backoff, ping time.Duration, log *logging.Logger,
	onFrame func(protocol.Frame), onState func(bool)) *link {
	return &link{
		name:      name,
		url:       url,
		dialer:    d,
		backoff:   b,
		pingEvery: ping,
		log:       log.Sub("conn." + name),
		onFrame:   onFrame,
		onState:   onState,
	}
}

// start dials the channel. A dial failure enters the same reconnection path
// as an unexpected closure.
func (l *link) start() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	gen := l.gen
	l.mu.Unlock()

	l.dial(gen)
}

func (l *link) dial(gen int) {
	c, err := l.dialer.Dial(l.url)

	l.mu.Lock()
	if l.closed || gen != l.gen {
		l.mu.Unlock()
		if c != nil {
			c.Close()
		}
		return
	}
	if err != nil {
		l.mu.Unlock()
		l.log.Warn().Err(err).Str("url", l.url).Msg("dial failed")
		l.notifyState(false)
		l.scheduleReconnect(gen)
		return
	}

	l.conn = c
	l.open = true
	l.attempts = 0
	stop := make(chan struct{})
	l.pingStop = stop
	l.mu.Unlock()

	l.log.Info().Str("url", l.url).Msg("channel open")
	l.notifyState(true)

	go l.readLoop(c, gen)
	if l.pingEvery > 0 {
		go l.pingLoop(c, stop)
	}
}

// readLoop delivers frames until the connection errors, then enters the
// single reconnection path. Transport errors are always followed by closure
// here, so closure is the only reconnect trigger.
func (l *link) readLoop(c Conn, gen int) {
	for {
		data, err := c.ReadMessage()
		if err != nil {
			l.mu.Lock()
			stale := l.closed || gen != l.gen
			if !stale {
				l.open = false
				l.conn = nil
				l.stopPingLocked()
			}
			l.mu.Unlock()
			if stale {
				return
			}
			l.log.Warn().Err(err).Msg("channel closed")
			l.notifyState(false)
			l.scheduleReconnect(gen)
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			// one malformed frame never takes down the channel
			l.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}
		if frame.Type == protocol.TypePing {
			continue
		}
		l.onFrame(frame)
	}
}

func (l *link) pingLoop(c Conn, stop chan struct{}) {
	data, err := protocol.Encode(protocol.NewPingFrame())
	if err != nil {
		return
	}
	t := time.NewTicker(l.pingEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			l.mu.Lock()
			if l.conn != c || !l.open {
				l.mu.Unlock()
				return
			}
			err := c.WriteMessage(data)
			l.mu.Unlock()
			if err != nil {
				return // read loop notices the failure and reconnects
			}
		}
	}
}

// scheduleReconnect arms the single backoff timer for this link. Exceeding
// the attempt ceiling leaves the link disconnected until restarted.
func (l *link) scheduleReconnect(gen int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || gen != l.gen || l.reconnect != nil {
		return
	}
	l.attempts++
	delay, ok := l.backoff.Delay(l.attempts)
	if !ok {
		l.log.Warn().Int("attempts", l.attempts-1).Msg("reconnect attempts exhausted")
		return
	}
	l.log.Info().Dur("delay", delay).Int("attempt", l.attempts).Msg("scheduling reconnect")
	l.reconnect = time.AfterFunc(delay, func() {
		l.mu.Lock()
		l.reconnect = nil
		stale := l.closed || gen != l.gen
		l.mu.Unlock()
		if stale {
			return
		}
		l.dial(gen)
	})
}

// stop tears the link down and cancels any pending reconnect. Links are
// single-use: a conversation switch builds a fresh link.
func (l *link) stop() {
	l.mu.Lock()
	l.closed = true
	l.gen++
	l.attempts = 0
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
	l.stopPingLocked()
	c := l.conn
	l.conn = nil
	wasOpen := l.open
	l.open = false
	l.mu.Unlock()

	if c != nil {
		c.Close()
	}
	if wasOpen {
		l.notifyState(false)
	}
}

func (l *link) stopPingLocked() {
	if l.pingStop != nil {
		close(l.pingStop)
		l.pingStop = nil
	}
}

// send transmits one frame. Fails with ErrNotConnected (logged, never
// thrown further) when the channel is not open.
func (l *link) send(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open || l.conn == nil {
		l.log.Debug().Str("type", f.Type).Msg("dropping frame, channel not open")
		return ErrNotConnected
	}
	return l.conn.WriteMessage(data)
}

func (l *link) isOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *link) notifyState(connected bool) {
	if l.onState != nil {
		l.onState(connected)
	}
}
