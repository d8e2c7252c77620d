// Package clock supplies ledger timestamps.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/creditgate/ports"
)

// Real reads the wall clock. Ledger rows are always stamped in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually driven clock for tests. With a non-zero step, every
// Now call moves time forward, so consecutive usage events get distinct,
// increasing timestamps.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// NewStepping returns a Fake that advances by step after each reading.
func NewStepping(start time.Time, step time.Duration) *Fake {
	return &Fake{now: start, step: step}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = f.now.Add(f.step)
	return t
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
