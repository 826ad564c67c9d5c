package irisview

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/esimov/irisview/model"
)

// Status is a snapshot of the pipeline, published on every change.
type Status struct {
	State               State       `json:"state"`
	Session             string      `json:"session,omitempty"`
	DeviceID            string      `json:"device_id,omitempty"`
	FPS                 int         `json:"fps"`
	Detected            bool        `json:"detected"`
	Label               string      `json:"label,omitempty"`
	LastClassification  time.Time   `json:"last_classification,omitempty"`
	Tracking            model.State `json:"tracking"`
	Classification      model.State `json:"classification"`
	TrackingError       string      `json:"tracking_error,omitempty"`
	ClassificationError string      `json:"classification_error,omitempty"`
	Message             string      `json:"message,omitempty"`
}

// statusBus fans status snapshots out to its subscribers. Sends never
// block: a subscriber that is not keeping up misses updates.
type statusBus struct {
	mu      sync.RWMutex
	subs    map[int]chan Status
	next    int
	closed  bool
	dropped uint64
}

func newStatusBus() *statusBus {
	return &statusBus{subs: make(map[int]chan Status)}
}

func (b *statusBus) subscribe(buffer int) (<-chan Status, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Status, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *statusBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *statusBus) publish(s Status) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
	}
}

func (b *statusBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// drops returns the number of updates skipped for slow subscribers.
func (b *statusBus) drops() uint64 {
	return atomic.LoadUint64(&b.dropped)
}
