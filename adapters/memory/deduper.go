package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/creditgate/ports"
)

// EventDeduper remembers handled webhook event IDs in process memory.
// Entries expire after ttl so the map does not grow without bound.
type EventDeduper struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	handled map[string]time.Time
}

// NewEventDeduper creates an in-memory deduper.
func NewEventDeduper(ttl time.Duration) *EventDeduper {
	return &EventDeduper{
		ttl:     ttl,
		now:     time.Now,
		handled: make(map[string]time.Time),
	}
}

// Seen reports whether provider/eventID was remembered within ttl.
func (d *EventDeduper) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evict(d.now())
	_, ok := d.handled[provider+":"+eventID]
	return ok, nil
}

// Remember records provider/eventID as handled.
func (d *EventDeduper) Remember(ctx context.Context, provider, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evict(now)
	d.handled[provider+":"+eventID] = now.Add(d.ttl)
	return nil
}

func (d *EventDeduper) evict(now time.Time) {
	for k, expires := range d.handled {
		if now.After(expires) {
			delete(d.handled, k)
		}
	}
}

// Ensure interface compliance.
var _ ports.EventDeduper = (*EventDeduper)(nil)
