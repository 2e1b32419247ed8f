package formstate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultRestoreDelay lets the new route render before fields are resolved.
	DefaultRestoreDelay = 50 * time.Millisecond
	// DefaultScrollDelay lets restored content settle before scrolling.
	DefaultScrollDelay = 50 * time.Millisecond
)

// ErrTrackerStopped is returned by calls made after Run has returned.
var ErrTrackerStopped = errors.New("formstate: tracker stopped")

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Page         Page
	Store        *Store
	URL          string // page URL at attach time
	Debounce     time.Duration
	RestoreDelay time.Duration
	ScrollDelay  time.Duration
	Logger       *slog.Logger
}

func (c *TrackerConfig) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.RestoreDelay <= 0 {
		c.RestoreDelay = DefaultRestoreDelay
	}
	if c.ScrollDelay <= 0 {
		c.ScrollDelay = DefaultScrollDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type eventKind int

const (
	evField eventKind = iota
	evBefore
	evAfter
)

type trackerEvent struct {
	kind   eventKind
	url    string
	doc    *goquery.Document
	scroll Scroll
	done   chan error
}

// Tracker is the form-state loop of one page context. All state is owned by
// the Run goroutine; the exported methods only post events to it.
type Tracker struct {
	cfg    TrackerConfig
	events chan trackerEvent
	quit   chan struct{}
}

// NewTracker creates a Tracker. Call Run to start it.
func NewTracker(cfg TrackerConfig) *Tracker {
	cfg.defaults()
	return &Tracker{
		cfg:    cfg,
		events: make(chan trackerEvent, 64),
		quit:   make(chan struct{}),
	}
}

func (t *Tracker) post(ev trackerEvent) error {
	select {
	case <-t.quit:
		return ErrTrackerStopped
	default:
	}
	select {
	case t.events <- ev:
		return nil
	case <-t.quit:
		return ErrTrackerStopped
	}
}

// FieldChanged reports an input or change event on a form control and
// schedules a debounced save.
func (t *Tracker) FieldChanged() {
	t.post(trackerEvent{kind: evField})
}

// BeforeNavigate saves the current page immediately, cancelling any pending
// debounced save, and returns once the save has completed. doc may carry a
// snapshot taken synchronously by the page before the route changed; when
// nil the live page is read.
func (t *Tracker) BeforeNavigate(ctx context.Context, doc *goquery.Document, scroll Scroll) error {
	done := make(chan error, 1)
	if err := t.post(trackerEvent{kind: evBefore, doc: doc, scroll: scroll, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.quit:
		return ErrTrackerStopped
	}
}

// AfterNavigate switches the tracker to newURL and schedules a restore.
func (t *Tracker) AfterNavigate(newURL string) {
	t.post(trackerEvent{kind: evAfter, url: newURL})
}

// Run restores the attach-time page, then processes events until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.quit)

	deb := newDebouncer(t.cfg.Debounce)
	defer deb.stop()

	url := t.cfg.URL
	var (
		restoreC   <-chan time.Time
		scrollC    <-chan time.Time
		restoreTmr *time.Timer
		scrollTmr  *time.Timer
		scrollTo   Scroll
	)
	stopTimer := func(tm *time.Timer) {
		if tm != nil {
			tm.Stop()
		}
	}
	defer func() {
		stopTimer(restoreTmr)
		stopTimer(scrollTmr)
	}()

	restore := func() {
		state, err := t.cfg.Store.Restore(ctx, t.cfg.Page, url)
		if err != nil {
			t.cfg.Logger.Warn("formstate: restore failed", "url", url, "error", err)
			return
		}
		if state == nil {
			return
		}
		scrollTo = Scroll{X: state.ScrollX, Y: state.ScrollY}
		stopTimer(scrollTmr)
		scrollTmr = time.NewTimer(t.cfg.ScrollDelay)
		scrollC = scrollTmr.C
	}

	save := func(doc *goquery.Document, scroll Scroll) error {
		var err error
		if doc != nil {
			_, err = t.cfg.Store.SaveDocument(ctx, doc, url, scroll)
		} else {
			_, err = t.cfg.Store.Save(ctx, t.cfg.Page, url)
		}
		if err != nil {
			t.cfg.Logger.Warn("formstate: save failed", "url", url, "error", err)
		}
		return err
	}

	restore()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-t.events:
			switch ev.kind {
			case evField:
				deb.trigger()
			case evBefore:
				deb.stop()
				ev.done <- save(ev.doc, ev.scroll)
			case evAfter:
				// The previous route's DOM is gone; a pending save would
				// record the new route under the new key before restore.
				deb.stop()
				url = ev.url
				stopTimer(scrollTmr)
				scrollC = nil
				stopTimer(restoreTmr)
				restoreTmr = time.NewTimer(t.cfg.RestoreDelay)
				restoreC = restoreTmr.C
			}

		case <-deb.timerC():
			deb.fired()
			save(nil, Scroll{})

		case <-restoreC:
			restoreC, restoreTmr = nil, nil
			restore()

		case <-scrollC:
			scrollC, scrollTmr = nil, nil
			if err := t.cfg.Page.ScrollTo(ctx, scrollTo); err != nil {
				t.cfg.Logger.Debug("formstate: scroll restore failed", "url", url, "error", err)
			}
		}
	}
}
