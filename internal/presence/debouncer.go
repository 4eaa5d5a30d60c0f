// Package presence converts noisy online/offline signals into a UI-stable
// state: online applies immediately, offline only after a stability window
// with no contradicting signal. Reconnect churn never flashes the UI.
package presence

import (
	"sync"
	"time"

	"github.com/lumachat/lumasync/internal/domain"
	"github.com/lumachat/lumasync/internal/logging"
)

// ChangeHandler receives debounced presence transitions.
type ChangeHandler func(userID int64, p domain.Presence)

// Debouncer tracks presence per remote party.
type Debouncer struct {
	window   time.Duration
	log      *logging.Logger
	onChange ChangeHandler

	mu      sync.Mutex
	parties map[int64]*party
}

type party struct {
	applied domain.Presence
	timer   *time.Timer // pending-offline; at most one exists
}

// New creates a Debouncer with the given stability window.
func New(window time.Duration, log *logging.Logger, onChange ChangeHandler) *Debouncer {
	return &Debouncer{
		window:   window,
		log:      log.Sub("presence"),
		onChange: onChange,
		parties:  make(map[int64]*party),
	}
}

// Signal feeds one raw presence signal for userID. Explicit server status
// frames and self-inferred channel closures both come through here.
func (d *Debouncer) Signal(userID int64, online bool) {
	d.mu.Lock()
	p, ok := d.parties[userID]
	if !ok {
		p = &party{applied: domain.PresenceUnknown}
		d.parties[userID] = p
	}

	if online {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		if p.applied == domain.PresenceOnline {
			d.mu.Unlock()
			return
		}
		p.applied = domain.PresenceOnline
		d.mu.Unlock()
		d.emit(userID, domain.PresenceOnline)
		return
	}

	if p.applied == domain.PresenceOffline {
		d.mu.Unlock()
		return
	}
	// a fresh offline signal resets the timer rather than stacking one
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(d.window, func() { d.applyOffline(userID) })
	d.mu.Unlock()
}

func (d *Debouncer) applyOffline(userID int64) {
	d.mu.Lock()
	p, ok := d.parties[userID]
	if !ok || p.timer == nil {
		d.mu.Unlock()
		return
	}
	p.timer = nil
	p.applied = domain.PresenceOffline
	d.mu.Unlock()
	d.emit(userID, domain.PresenceOffline)
}

// State returns the currently applied presence for userID.
func (d *Debouncer) State(userID int64) domain.Presence {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.parties[userID]; ok {
		return p.applied
	}
	return domain.PresenceUnknown
}

// Reset cancels all pending timers and forgets all parties. Called on
// conversation switch and shutdown.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.parties {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	}
	d.parties = make(map[int64]*party)
}

func (d *Debouncer) emit(userID int64, p domain.Presence) {
	d.log.Debug().Int64("user", userID).Str("presence", string(p)).Msg("presence applied")
	if d.onChange != nil {
		d.onChange(userID, p)
	}
}
