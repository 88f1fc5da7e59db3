package realtime

import (
	"sync"
	"time"

	"github.com/jag18729/guard-quote-sub000/internal/models"
)

// debouncer collapses bursts of input into a single computation after
// a quiet period. Each Schedule call bumps a generation counter; a
// firing timer that observes a stale generation no-ops, so a superseded
// computation can never run even if its timer already fired.
type debouncer struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
	delay time.Duration
	run   func(models.QuoteInput)
}

func newDebouncer(delay time.Duration, run func(models.QuoteInput)) *debouncer {
	return &debouncer{
		delay: delay,
		run:   run,
	}
}

// Schedule arms the timer with the given input, discarding any pending
// computation from earlier calls.
func (d *debouncer) Schedule(input models.QuoteInput) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		if !d.current(gen) {
			return
		}
		d.run(input)
	})
}

// Cancel invalidates any pending computation, typically because the
// connection closed.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *debouncer) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen == gen
}
