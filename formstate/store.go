package formstate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/retrace/kvstore"
	"github.com/hazyhaar/retrace/pagekey"
	"github.com/hazyhaar/retrace/settings"
)

// KeyPrefix prefixes the durable key of every saved page.
const KeyPrefix = "forms:"

// Key returns the store key for pageURL.
func Key(pageURL string) string {
	return KeyPrefix + pagekey.Normalize(pageURL)
}

// Page is the live document a Store reads from and writes to.
type Page interface {
	// Document returns a snapshot of the DOM in which form controls carry
	// their live state as attributes (value, checked, selected, textarea text).
	Document(ctx context.Context) (*goquery.Document, error)
	Scroll(ctx context.Context) (Scroll, error)
	ApplyFields(ctx context.Context, fields []Applied) error
	ScrollTo(ctx context.Context, s Scroll) error
}

// Store persists PageFormState records behind the settings policy.
type Store struct {
	kv     *kvstore.Store
	policy settings.Source
	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates a Store. A nil logger means slog.Default().
func NewStore(kv *kvstore.Store, policy settings.Source, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, policy: policy, now: time.Now, logger: logger}
}

func (s *Store) allowed(ctx context.Context, pageURL string) (bool, error) {
	cur, err := s.policy.Settings(ctx)
	if err != nil {
		return false, fmt.Errorf("formstate: settings: %w", err)
	}
	return cur.Allowed(pageURL), nil
}

// Save captures page and overwrites the record for pageURL. It reports
// false, and writes nothing, when the policy blocks pageURL.
func (s *Store) Save(ctx context.Context, page Page, pageURL string) (bool, error) {
	ok, err := s.allowed(ctx, pageURL)
	if err != nil || !ok {
		return false, err
	}
	doc, err := page.Document(ctx)
	if err != nil {
		return false, fmt.Errorf("formstate: snapshot document: %w", err)
	}
	scroll, err := page.Scroll(ctx)
	if err != nil {
		s.logger.Debug("formstate: read scroll", "url", pageURL, "error", err)
	}
	return true, s.put(ctx, Capture(doc, pageURL, scroll, s.now()))
}

// SaveDocument is Save for a document snapshot taken by the caller, used
// when the page may already be gone by the time Save would read it.
func (s *Store) SaveDocument(ctx context.Context, doc *goquery.Document, pageURL string, scroll Scroll) (bool, error) {
	ok, err := s.allowed(ctx, pageURL)
	if err != nil || !ok {
		return false, err
	}
	return true, s.put(ctx, Capture(doc, pageURL, scroll, s.now()))
}

func (s *Store) put(ctx context.Context, state PageFormState) error {
	key := Key(state.URL)
	if err := s.kv.Set(ctx, key, state); err != nil {
		return fmt.Errorf("formstate: save %s: %w", key, err)
	}
	s.logger.Debug("formstate: saved", "key", key, "fields", len(state.Fields))
	return nil
}

// Load returns the saved record for pageURL.
func (s *Store) Load(ctx context.Context, pageURL string) (PageFormState, bool, error) {
	var state PageFormState
	ok, err := s.kv.Get(ctx, Key(pageURL), &state)
	if err != nil {
		return PageFormState{}, false, fmt.Errorf("formstate: load: %w", err)
	}
	return state, ok, nil
}

// Restore writes the saved values for pageURL into page. It returns the
// restored record, or nil when the policy blocks pageURL or nothing is saved.
// Scrolling is left to the caller.
func (s *Store) Restore(ctx context.Context, page Page, pageURL string) (*PageFormState, error) {
	ok, err := s.allowed(ctx, pageURL)
	if err != nil || !ok {
		return nil, err
	}
	state, found, err := s.Load(ctx, pageURL)
	if err != nil || !found {
		return nil, err
	}
	doc, err := page.Document(ctx)
	if err != nil {
		return nil, fmt.Errorf("formstate: snapshot document: %w", err)
	}
	applied := Restore(doc, state)
	if len(applied) > 0 {
		if err := page.ApplyFields(ctx, applied); err != nil {
			return nil, fmt.Errorf("formstate: apply fields: %w", err)
		}
	}
	s.logger.Debug("formstate: restored", "key", Key(pageURL), "saved", len(state.Fields), "applied", len(applied))
	return &state, nil
}
