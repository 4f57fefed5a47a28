// Package progress publishes per-report fetch status changes.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/bookhealth/bookhealth/internal/models"
)

// Event is one report status transition.
type Event struct {
	FetchID string             `json:"fetch_id"`
	Report  models.ReportType  `json:"report"`
	Status  models.FetchStatus `json:"status"`
	Error   string             `json:"error,omitempty"`
	At      time.Time          `json:"at"`
}

// Observer receives progress events. Implementations must not block for
// long; events are delivered synchronously from the fetch goroutines.
type Observer interface {
	OnProgress(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnProgress(e Event) { f(e) }

var order = map[models.FetchStatus]int{
	models.FetchPending:   0,
	models.FetchImporting: 1,
	models.FetchCompleted: 2,
	models.FetchError:     2,
}

// Tracker holds the current status of every report in one fetch and
// fans valid transitions out to observers. Transitions must move forward:
// pending, importing, then completed or error.
type Tracker struct {
	mu        sync.Mutex
	fetchID   string
	statuses  map[models.ReportType]models.FetchStatus
	observers []Observer
	now       func() time.Time
}

// NewTracker starts every report in pending and announces it.
func NewTracker(fetchID string, reports []models.ReportType, observers ...Observer) *Tracker {
	t := &Tracker{
		fetchID:   fetchID,
		statuses:  make(map[models.ReportType]models.FetchStatus, len(reports)),
		observers: observers,
		now:       time.Now,
	}
	for _, r := range reports {
		t.statuses[r] = models.FetchPending
	}
	for _, r := range reports {
		t.publish(Event{FetchID: fetchID, Report: r, Status: models.FetchPending, At: t.now()})
	}
	return t
}

// Transition moves report to status. Backward moves, repeats and moves
// out of a terminal state are rejected.
func (t *Tracker) Transition(report models.ReportType, status models.FetchStatus, errText string) error {
	t.mu.Lock()
	current, ok := t.statuses[report]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("progress: unknown report %s", report)
	}
	if current.Terminal() || order[status] <= order[current] {
		t.mu.Unlock()
		return fmt.Errorf("progress: invalid transition %s -> %s for %s", current, status, report)
	}
	t.statuses[report] = status
	ev := Event{FetchID: t.fetchID, Report: report, Status: status, Error: errText, At: t.now()}
	t.mu.Unlock()

	t.publish(ev)
	return nil
}

// Status returns the current status of report.
func (t *Tracker) Status(report models.ReportType) models.FetchStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statuses[report]
}

// Done reports whether every report reached a terminal state.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.statuses {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

func (t *Tracker) publish(ev Event) {
	for _, o := range t.observers {
		if o != nil {
			o.OnProgress(ev)
		}
	}
}

// Broadcaster fans events out to subscribers over buffered channels. A
// slow subscriber drops events rather than stalling the fetch.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a cancel func.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// OnProgress implements Observer.
func (b *Broadcaster) OnProgress(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
