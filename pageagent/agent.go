// Package pageagent is the page context of one tab. It turns navigation
// signals from the page into form saves and restores, asks the background
// to capture the page being left, and fetches the overlay snapshot after
// each route change. It reaches the background only through a
// protocol.Client.
package pageagent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/retrace/formstate"
	"github.com/hazyhaar/retrace/navhook"
	"github.com/hazyhaar/retrace/protocol"
	"github.com/hazyhaar/retrace/settings"
	"github.com/hazyhaar/retrace/snapshot"
)

// Tab is the live page an Agent is attached to.
type Tab interface {
	formstate.Page
	URL() (string, error)
	Hook(ctx context.Context, onSignal func(payload string)) error
}

// Overlay is what the page shows after a navigation.
type Overlay struct {
	Snapshot snapshot.PageSnapshot
	Caption  string
	Size     settings.Size
	Width    int
	Height   int
}

// Presenter displays an overlay. Rendering is up to the host.
type Presenter interface {
	ShowOverlay(ctx context.Context, o Overlay)
}

// Config wires an Agent.
type Config struct {
	Tab    Tab
	Client *protocol.Client
	Forms  *formstate.Store
	// Settings is this context's own cache; it is not refreshed by writes
	// made elsewhere.
	Settings  settings.Source
	Presenter Presenter // nil logs the overlay

	Debounce     time.Duration
	RestoreDelay time.Duration
	ScrollDelay  time.Duration
	Logger       *slog.Logger
}

// Agent is the page context of one tab.
type Agent struct {
	cfg     Config
	tracker *formstate.Tracker

	mu      sync.Mutex
	overlay *Overlay
}

// New creates an Agent. Call Run to attach it.
func New(cfg Config) *Agent {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Presenter == nil {
		cfg.Presenter = logPresenter{cfg.Logger}
	}
	return &Agent{cfg: cfg}
}

// Run hooks the page, restores its saved form state and requests the
// overlay, then serves signals until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	pageURL, err := a.cfg.Tab.URL()
	if err != nil {
		return err
	}
	a.tracker = formstate.NewTracker(formstate.TrackerConfig{
		Page:         a.cfg.Tab,
		Store:        a.cfg.Forms,
		URL:          pageURL,
		Debounce:     a.cfg.Debounce,
		RestoreDelay: a.cfg.RestoreDelay,
		ScrollDelay:  a.cfg.ScrollDelay,
		Logger:       a.cfg.Logger,
	})

	d := navhook.NewDispatcher(a, a.cfg.Logger)
	if err := a.cfg.Tab.Hook(ctx, func(payload string) { d.Dispatch(ctx, payload) }); err != nil {
		return err
	}
	go a.requestOverlay(ctx, pageURL)

	return a.tracker.Run(ctx)
}

// Overlay returns the overlay currently shown, if any.
func (a *Agent) Overlay() (Overlay, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.overlay == nil {
		return Overlay{}, false
	}
	return *a.overlay, true
}

// BeforeNavigate captures the page being left, then saves its form state
// from the snapshot carried by the signal.
func (a *Agent) BeforeNavigate(ctx context.Context, s navhook.Signal) {
	if s.Kind != navhook.KindUnload {
		a.capture(ctx, s.OldURL, s.Title)
	}

	var doc *goquery.Document
	if s.HTML != "" {
		d, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML))
		if err != nil {
			a.cfg.Logger.Warn("pageagent: parse snapshot", "url", s.OldURL, "error", err)
		} else {
			doc = d
		}
	}
	err := a.tracker.BeforeNavigate(ctx, doc, formstate.Scroll{X: s.ScrollX, Y: s.ScrollY})
	if err != nil && !errors.Is(err, formstate.ErrTrackerStopped) {
		a.cfg.Logger.Warn("pageagent: save before navigate", "url", s.OldURL, "error", err)
	}
}

// AfterNavigate restores form state and requests the overlay for the new route.
func (a *Agent) AfterNavigate(ctx context.Context, s navhook.Signal) {
	a.tracker.AfterNavigate(s.NewURL)
	a.requestOverlay(ctx, s.NewURL)
}

// LinkClick captures the page when the click will leave it in this tab.
func (a *Agent) LinkClick(ctx context.Context, s navhook.Signal) {
	if s.Click != nil && s.Click.ShouldCapture() {
		a.capture(ctx, s.OldURL, s.Title)
	}
}

// FieldChanged schedules a debounced save.
func (a *Agent) FieldChanged(context.Context, navhook.Signal) {
	a.tracker.FieldChanged()
}

func (a *Agent) capture(ctx context.Context, pageURL, title string) {
	resp, err := a.cfg.Client.CapturePreviousPage(ctx, pageURL, title)
	if err != nil {
		a.cfg.Logger.Debug("pageagent: capture unavailable", "url", pageURL, "error", err)
		return
	}
	if !resp.OK {
		a.cfg.Logger.Debug("pageagent: capture refused", "url", pageURL, "reason", resp.Error)
	}
}

func (a *Agent) requestOverlay(ctx context.Context, currentURL string) {
	cur, err := a.cfg.Settings.Settings(ctx)
	if err != nil {
		a.cfg.Logger.Warn("pageagent: settings", "error", err)
		return
	}
	if !cur.OverlayAllowed(currentURL) {
		return
	}
	resp, err := a.cfg.Client.RequestOverlay(ctx, currentURL)
	if err != nil {
		a.cfg.Logger.Debug("pageagent: overlay unavailable", "url", currentURL, "error", err)
		return
	}
	if !resp.OK || resp.Snapshot == nil {
		return
	}

	w, h := cur.OverlaySize.Dimensions()
	o := Overlay{
		Snapshot: *resp.Snapshot,
		Caption:  snapshot.Caption(resp.Snapshot),
		Size:     cur.OverlaySize,
		Width:    w,
		Height:   h,
	}
	a.mu.Lock()
	a.overlay = &o
	a.mu.Unlock()
	a.cfg.Presenter.ShowOverlay(ctx, o)
}

type logPresenter struct{ logger *slog.Logger }

func (p logPresenter) ShowOverlay(_ context.Context, o Overlay) {
	p.logger.Info("pageagent: overlay",
		"caption", o.Caption, "url", o.Snapshot.URL,
		"has_image", o.Snapshot.ImageData != nil,
		"width", o.Width, "height", o.Height)
}
