package formstate

import "time"

// DefaultDebounce is the quiet interval before a scheduled save runs.
const DefaultDebounce = 400 * time.Millisecond

// debouncer is a trailing-edge timer: every trigger restarts the window and
// the channel fires once the window passes without a new trigger. It is
// owned by a single goroutine and is not safe for concurrent use.
type debouncer struct {
	window  time.Duration
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &debouncer{window: window}
}

// trigger (re)starts the window.
func (d *debouncer) trigger() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
}

// pending reports whether a save is scheduled.
func (d *debouncer) pending() bool { return d.timerCh != nil }

// stop cancels a scheduled save.
func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.timerCh = nil
}

// timerC returns the channel that fires when the window expires. It is nil,
// and therefore blocks in a select, while nothing is scheduled.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// fired must be called after receiving from timerC.
func (d *debouncer) fired() {
	d.timer = nil
	d.timerCh = nil
}
