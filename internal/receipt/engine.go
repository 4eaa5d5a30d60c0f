// Package receipt batches viewport-visibility signals into rate-limited
// read receipts. Batching keeps it to one wire frame per burst; the
// invariant that matters is that every unread, visible message lands in
// exactly one outbound receipt.
package receipt

import (
	"sort"
	"sync"
	"time"

	"github.com/lumachat/lumasync/internal/logging"
)

// SendFunc transmits one receipt frame. A failed send keeps the ids unread
// so a later flush retries them.
type SendFunc func(messageIDs []int64) error

// MarkFunc applies the optimistic local read mark after a successful send.
type MarkFunc func(messageIDs []int64)

// Options tunes the engine; zero values are not usable, callers pass the
// config defaults.
type Options struct {
	VisibilityThreshold float64       // fraction at which a message counts as seen
	NearBottomPx        int           // scroll distance treated as "at the bottom"
	LoadFlushDelay      time.Duration // forced flush shortly after history load
}

// Engine tracks rendered-but-unread messages in the open conversation.
type Engine struct {
	opts Options
	log  *logging.Logger
	send SendFunc
	mark MarkFunc

	mu         sync.Mutex
	unread     map[int64]float64 // id → last seen visibility fraction
	distance   int               // px from bottom of the view
	loadTimer  *time.Timer
	generation int
}

// New creates an Engine. mark may be nil.
func New(opts Options, log *logging.Logger, send SendFunc, mark MarkFunc) *Engine {
	return &Engine{
		opts:   opts,
		log:    log.Sub("receipt"),
		send:   send,
		mark:   mark,
		unread: make(map[int64]float64),
	}
}

// Track registers a rendered unread message for visibility tracking.
func (e *Engine) Track(messageID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.unread[messageID]; !ok {
		e.unread[messageID] = 0
	}
}

// Observe applies a batch of visibility changes (message id → visible
// fraction) and flushes the ids that crossed the threshold as one receipt.
func (e *Engine) Observe(entries map[int64]float64) {
	e.mu.Lock()
	var ready []int64
	for id, fraction := range entries {
		if _, ok := e.unread[id]; !ok {
			continue
		}
		e.unread[id] = fraction
		if fraction >= e.opts.VisibilityThreshold {
			ready = append(ready, id)
		}
	}
	e.mu.Unlock()

	e.flush(ready)
}

// UpdateScroll records the viewer's distance from the bottom of the view.
func (e *Engine) UpdateScroll(distancePx int) {
	e.mu.Lock()
	e.distance = distancePx
	e.mu.Unlock()
}

// NewMessageArrived handles a freshly rendered inbound message: it is
// tracked, and if the viewer sits near the bottom every currently-visible
// unread message flushes at once, not just the new one.
func (e *Engine) NewMessageArrived(messageID int64) {
	e.Track(messageID)

	e.mu.Lock()
	near := e.distance <= e.opts.NearBottomPx
	var ready []int64
	if near {
		// a message that just arrived at the bottom of the view is visible
		e.unread[messageID] = 1
		for id, fraction := range e.unread {
			if fraction >= e.opts.VisibilityThreshold {
				ready = append(ready, id)
			}
		}
	}
	e.mu.Unlock()

	e.flush(ready)
}

// FlushAll emits a receipt for every tracked unread message, regardless of
// visibility. Used when the application regains focus and shortly after a
// conversation finishes loading.
func (e *Engine) FlushAll() {
	e.mu.Lock()
	ids := make([]int64, 0, len(e.unread))
	for id := range e.unread {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	e.flush(ids)
}

// ScheduleLoadFlush arms the post-load forced flush, covering messages
// already visible without any visibility-change event. A pending timer is
// replaced, never stacked.
func (e *Engine) ScheduleLoadFlush() {
	e.mu.Lock()
	if e.loadTimer != nil {
		e.loadTimer.Stop()
	}
	gen := e.generation
	e.loadTimer = time.AfterFunc(e.opts.LoadFlushDelay, func() {
		e.mu.Lock()
		stale := gen != e.generation
		e.loadTimer = nil
		e.mu.Unlock()
		if !stale {
			e.FlushAll()
		}
	})
	e.mu.Unlock()
}

// OnFocus flushes everything when the application regains user focus.
func (e *Engine) OnFocus() {
	e.FlushAll()
}

// Reset drops all tracking state and cancels the pending load flush.
// Called on conversation switch.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	if e.loadTimer != nil {
		e.loadTimer.Stop()
		e.loadTimer = nil
	}
	e.unread = make(map[int64]float64)
	e.distance = 0
}

// flush sends one receipt for ids and marks them read locally. Ids leave
// the unread set before the send so overlapping flushes cannot emit an id
// twice; a failed send puts them back for the next flush. A Reset during
// the send advances the generation and orphans the batch: it belongs to
// the previous conversation and must not re-enter the cleared set or mark
// the new view.
func (e *Engine) flush(ids []int64) {
	e.mu.Lock()
	gen := e.generation
	batch := make([]int64, 0, len(ids))
	fractions := make(map[int64]float64, len(ids))
	for _, id := range ids {
		if fraction, ok := e.unread[id]; ok {
			batch = append(batch, id)
			fractions[id] = fraction
			delete(e.unread, id)
		}
	}
	e.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i] < batch[j] })

	if err := e.send(batch); err != nil {
		e.mu.Lock()
		if gen == e.generation {
			for _, id := range batch {
				e.unread[id] = fractions[id]
			}
		}
		e.mu.Unlock()
		e.log.Debug().Err(err).Ints64("ids", batch).Msg("receipt not sent, keeping unread")
		return
	}

	e.mu.Lock()
	stale := gen != e.generation
	e.mu.Unlock()

	e.log.Debug().Ints64("ids", batch).Msg("read receipt sent")
	if e.mark != nil && !stale {
		e.mark(batch)
	}
}
