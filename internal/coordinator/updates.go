package coordinator

import (
	"sync"
	"time"

	"chargeamps/internal/metrics"
)

// UpdateKind tells subscribers what produced an Update
type UpdateKind string

const (
	UpdateRefreshed UpdateKind = "refreshed"
	UpdateFailed    UpdateKind = "failed"
	UpdatePatched   UpdateKind = "patched"
)

// Update is delivered to subscribers after every refresh cycle and every
// optimistic patch. Snapshot is the live snapshot at that moment; on a failed
// refresh it is the retained previous one and Err is set.
type Update struct {
	Kind     UpdateKind
	Snapshot Snapshot
	Err      error
	Warnings []PartialDataWarning
	At       time.Time
}

// Subscribe registers for updates. Delivery never blocks the coordinator: when
// the buffer is full the update is dropped for that subscriber. cancel stops
// delivery and closes the channel; it is safe to call more than once.
func (c *Coordinator) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Coordinator) broadcast(u Update) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
			metrics.UpdatesDroppedTotal.Inc()
		}
	}
}
