package history

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered func once the window has passed
// without another trigger.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer
	fn     func()
	gen    uint64
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Trigger cancels any pending call and schedules fn.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.fn = fn
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		f := d.fn
		d.fn, d.timer = nil, nil
		d.gen++
		d.mu.Unlock()

		if f != nil {
			f()
		}
	})
}

// Flush runs the pending func now, on the calling goroutine.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	f := d.fn
	d.stopLocked()
	d.mu.Unlock()

	if f == nil {
		return false
	}
	f()
	return true
}

// Cancel drops the pending func without running it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

// stopLocked also bumps the generation so a timer that already fired and is
// waiting on mu turns into a no-op.
func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer, d.fn = nil, nil
	d.gen++
}
