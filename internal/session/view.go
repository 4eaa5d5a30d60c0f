package session

import (
	"sync"

	"github.com/lumachat/lumasync/internal/domain"
)

// view is the ordered rendered surface of the open conversation. Messages
// enter in arrival order and never appear twice, keyed by canonical id once
// confirmed and by correlation id while provisional.
type view struct {
	mu     sync.Mutex
	order  []*domain.Message
	byID   map[int64]*domain.Message
	byCorr map[string]*domain.Message
}

func newView() *view {
	return &view{
		byID:   make(map[int64]*domain.Message),
		byCorr: make(map[string]*domain.Message),
	}
}

// append adds a message to the end of the surface. It reports false when a
// message with the same canonical or correlation id is already rendered.
func (v *view) append(m domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if m.ID != 0 {
		if _, ok := v.byID[m.ID]; ok {
			return false
		}
	}
	if m.CorrelationID != "" {
		if _, ok := v.byCorr[m.CorrelationID]; ok {
			return false
		}
	}

	stored := m
	v.order = append(v.order, &stored)
	if stored.ID != 0 {
		v.byID[stored.ID] = &stored
	}
	if stored.CorrelationID != "" {
		v.byCorr[stored.CorrelationID] = &stored
	}
	return true
}

// reconcile upgrades the provisional message with the given correlation id
// to its canonical server copy, in place. The rendered position is kept.
func (v *view) reconcile(correlationID string, canonical domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	m, ok := v.byCorr[correlationID]
	if !ok {
		return false
	}
	id := canonical.ID
	*m = canonical
	m.CorrelationID = correlationID
	if id != 0 {
		v.byID[id] = m
	}
	return true
}

// markRead flips the read flag on the given ids and returns the ids that
// actually changed.
func (v *view) markRead(ids []int64) []int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	var changed []int64
	for _, id := range ids {
		if m, ok := v.byID[id]; ok && !m.Read {
			m.Read = true
			m.Delivered = true
			changed = append(changed, id)
		}
	}
	return changed
}

// contains reports whether a message with the canonical id is rendered.
func (v *view) contains(id int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.byID[id]
	return ok
}

// messages returns a snapshot of the surface in render order.
func (v *view) messages() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Message, len(v.order))
	for i, m := range v.order {
		out[i] = *m
	}
	return out
}

func (v *view) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.order)
}
