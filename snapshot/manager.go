package snapshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/retrace/idgen"
	"github.com/hazyhaar/retrace/kvstore"
	"github.com/hazyhaar/retrace/settings"
)

// KeyPrefix prefixes the session-scope key of every tab history.
const KeyPrefix = "snapshots:"

// DefaultQuality is the JPEG quality of visible-tab captures.
const DefaultQuality = 70

// PrivacyModeError is the reason recorded when privacy mode suppresses capture.
const PrivacyModeError = "Privacy mode enabled"

// ErrBlocked is returned when settings disallow capture on the page's origin.
var ErrBlocked = errors.New("snapshot: blocked by settings")

// Key returns the session-scope key of tabID's history.
func Key(tabID int) string {
	return KeyPrefix + strconv.Itoa(tabID)
}

// Capturer grabs the visible area of the requesting tab, shown in
// windowID, as JPEG bytes.
type Capturer interface {
	CaptureVisibleTab(ctx context.Context, tabID, windowID, quality int) ([]byte, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithCapacity sets the per-tab history size.
func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithQuality sets the JPEG quality.
func WithQuality(q int) Option {
	return func(m *Manager) {
		if q > 0 && q <= 100 {
			m.quality = q
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides the snapshot ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(m *Manager) { m.newID = gen }
}

// Manager owns every tab's snapshot history. Histories live in the session
// scope of the store and are written only by the Manager.
type Manager struct {
	kv       *kvstore.Store
	capturer Capturer
	policy   settings.Source
	capacity int
	quality  int
	now      func() time.Time
	newID    idgen.Generator
	logger   *slog.Logger

	mu    sync.Mutex
	tails map[int]chan struct{} // per tab, closed when the last queued mutation is done
}

// NewManager creates a Manager.
func NewManager(kv *kvstore.Store, capturer Capturer, policy settings.Source, opts ...Option) *Manager {
	m := &Manager{
		kv:       kv,
		capturer: capturer,
		policy:   policy,
		capacity: DefaultCapacity,
		quality:  DefaultQuality,
		now:      time.Now,
		newID:    idgen.Prefixed("snap_", idgen.Default),
		logger:   slog.Default(),
		tails:    make(map[int]chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// enqueue reserves tabID's next mutation slot. wait is closed once every
// earlier mutation of the tab is done (nil if there is none); release must
// be called exactly once when this mutation is done.
func (m *Manager) enqueue(tabID int) (wait <-chan struct{}, release func()) {
	next := make(chan struct{})
	m.mu.Lock()
	prev := m.tails[tabID]
	m.tails[tabID] = next
	m.mu.Unlock()

	return prev, func() {
		close(next)
		m.mu.Lock()
		if m.tails[tabID] == next {
			delete(m.tails, tabID)
		}
		m.mu.Unlock()
	}
}

// awaitTurn blocks until wait is closed. If ctx ends first, the slot is
// handed on once wait closes so later mutations keep their order.
func awaitTurn(ctx context.Context, wait <-chan struct{}, release func()) error {
	if wait == nil {
		return nil
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		go func() {
			<-wait
			release()
		}()
		return ctx.Err()
	}
}

// CaptureRequest captures tabID's visible area in windowID for the page at
// pageURL and prepends the result to tabID's history. Capture failures and
// privacy mode are recorded in the snapshot's Error, not returned. It
// returns ErrBlocked, and records nothing, when settings disallow the page.
//
// Requests for the same tab are appended in the order they arrived, even
// when a later capture finishes first.
func (m *Manager) CaptureRequest(ctx context.Context, tabID, windowID int, pageURL, title string) (PageSnapshot, error) {
	wait, release := m.enqueue(tabID)

	snap, err := m.capture(ctx, tabID, windowID, pageURL, title)
	if err != nil {
		if werr := awaitTurn(ctx, wait, release); werr == nil {
			release()
		}
		return PageSnapshot{}, err
	}

	if err := awaitTurn(ctx, wait, release); err != nil {
		return PageSnapshot{}, err
	}
	defer release()

	if err := m.push(ctx, tabID, snap); err != nil {
		return PageSnapshot{}, err
	}
	m.logger.Debug("snapshot: stored", "tab", tabID, "url", pageURL, "ok", snap.Error == nil)
	return snap, nil
}

func (m *Manager) capture(ctx context.Context, tabID, windowID int, pageURL, title string) (PageSnapshot, error) {
	cur, err := m.policy.Settings(ctx)
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("snapshot: settings: %w", err)
	}
	if !cur.Allowed(pageURL) {
		return PageSnapshot{}, ErrBlocked
	}

	snap := PageSnapshot{
		ID:           m.newID(),
		URL:          pageURL,
		Title:        title,
		CapturedAtMs: m.now().UnixMilli(),
	}
	if cur.PrivacyMode {
		reason := PrivacyModeError
		snap.Error = &reason
		return snap, nil
	}

	jpeg, err := m.capturer.CaptureVisibleTab(ctx, tabID, windowID, m.quality)
	if err != nil {
		m.logger.Warn("snapshot: capture failed", "tab", tabID, "window", windowID, "url", pageURL, "error", err)
		reason := err.Error()
		snap.Error = &reason
		return snap, nil
	}
	data := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
	snap.ImageData = &data
	return snap, nil
}

func (m *Manager) push(ctx context.Context, tabID int, snap PageSnapshot) error {
	h, err := m.History(ctx, tabID)
	if err != nil {
		return err
	}
	if err := m.kv.SetSession(ctx, Key(tabID), h.Push(snap, m.capacity)); err != nil {
		return fmt.Errorf("snapshot: store history: %w", err)
	}
	return nil
}

// History returns tabID's snapshots, newest first.
func (m *Manager) History(ctx context.Context, tabID int) (History, error) {
	var h History
	if _, err := m.kv.GetSession(ctx, Key(tabID), &h); err != nil {
		return nil, fmt.Errorf("snapshot: load history: %w", err)
	}
	return h, nil
}

// SelectSnapshot picks the snapshot to show on currentURL; see Select.
func (m *Manager) SelectSnapshot(ctx context.Context, tabID int, currentURL string) (*PageSnapshot, error) {
	h, err := m.History(ctx, tabID)
	if err != nil {
		return nil, err
	}
	return Select(h, currentURL), nil
}

// ClearHistory empties tabID's history. Clearing an empty history is a no-op.
func (m *Manager) ClearHistory(ctx context.Context, tabID int) error {
	wait, release := m.enqueue(tabID)
	if err := awaitTurn(ctx, wait, release); err != nil {
		return err
	}
	defer release()
	if err := m.kv.SetSession(ctx, Key(tabID), History{}); err != nil {
		return fmt.Errorf("snapshot: clear history: %w", err)
	}
	return nil
}

// Forget drops tabID's history entirely, for when the tab is closed.
func (m *Manager) Forget(ctx context.Context, tabID int) error {
	wait, release := m.enqueue(tabID)
	if err := awaitTurn(ctx, wait, release); err != nil {
		return err
	}
	defer release()
	return m.kv.RemoveSession(ctx, Key(tabID))
}
