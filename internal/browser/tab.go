package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/retrace/fieldid"
	"github.com/hazyhaar/retrace/formstate"
	"github.com/hazyhaar/retrace/navhook"
)

// Tab wraps a Rod page with a tab ID and window ID. It is the live Page
// behind a form tracker.
type Tab struct {
	Page     *rod.Page
	ID       int
	WindowID int
	manager  *Manager
}

// OpenTab creates a stealth tab, navigates it to pageURL and registers it.
func (m *Manager) OpenTab(ctx context.Context, pageURL string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(m.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, m.cfg.ResourceBlocking); err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	t := &Tab{Page: page, manager: m}
	if err := m.register(t); err != nil {
		page.Close()
		return nil, err
	}

	if pageURL != "" {
		if err := t.Navigate(ctx, pageURL); err != nil {
			m.CloseTab(t.ID)
			return nil, err
		}
	}
	return t, nil
}

// Navigate loads pageURL and waits for the load event.
func (t *Tab) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.manager.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// URL returns the page's current URL.
func (t *Tab) URL() (string, error) {
	info, err := t.Page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// Hook installs the navigation hook on the current and every future
// document of the tab and calls onSignal with each binding payload until
// ctx is done.
func (t *Tab) Hook(ctx context.Context, onSignal func(payload string)) error {
	if err := (proto.RuntimeAddBinding{Name: navhook.Binding}).Call(t.Page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}

	wait := t.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == navhook.Binding {
			onSignal(e.Payload)
		}
	})
	go wait()

	if _, err := t.Page.EvalOnNewDocument("(" + navhook.Script + ")(true)"); err != nil {
		return fmt.Errorf("browser: install hook for new documents: %w", err)
	}
	if _, err := t.Page.Context(ctx).Eval(navhook.Script, false); err != nil {
		return fmt.Errorf("browser: install hook: %w", err)
	}
	return nil
}

// Document snapshots the DOM with live form state copied into attributes.
func (t *Tab) Document(ctx context.Context) (*goquery.Document, error) {
	res, err := t.Page.Context(ctx).Eval(navhook.SnapshotExpr)
	if err != nil {
		return nil, fmt.Errorf("browser: snapshot DOM: %w", err)
	}
	return ParseDocument(res.Value.Str())
}

// ParseDocument parses serialized HTML into a goquery document.
func ParseDocument(src string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("browser: parse DOM: %w", err)
	}
	return doc, nil
}

// Scroll returns the window scroll offset.
func (t *Tab) Scroll(ctx context.Context) (formstate.Scroll, error) {
	res, err := t.Page.Context(ctx).Eval(`() => ({x: window.scrollX, y: window.scrollY})`)
	if err != nil {
		return formstate.Scroll{}, fmt.Errorf("browser: read scroll: %w", err)
	}
	return formstate.Scroll{X: res.Value.Get("x").Num(), Y: res.Value.Get("y").Num()}, nil
}

// shellsJS returns, for each path, the live element it selects cloned
// without children, or "" when nothing matches.
const shellsJS = `(paths) => paths.map((p) => {
	let el = null;
	try { el = document.querySelector(p); } catch (e) {}
	return el ? el.cloneNode(false).outerHTML : '';
})`

// applyFieldsJS writes saved values into live controls, following the same
// type rules as capture. It skips any element whose tag or control type
// differs from the one the field was resolved against, or that looks
// sensitive.
const applyFieldsJS = `(fields, keyPattern, acPattern) => {
	const key = new RegExp(keyPattern, 'i');
	const ac = new RegExp(acPattern, 'i');
	const controlType = (el, tag) => {
		if (tag === 'input') return (el.getAttribute('type') || '').trim().toLowerCase() || 'text';
		if (tag === 'textarea') return 'textarea';
		if (tag === 'select') return el.multiple ? 'select-multiple' : 'select-one';
		return '';
	};
	let n = 0;
	for (const f of fields) {
		let el = null;
		try { el = document.querySelector(f.path); } catch (e) {}
		if (!el) continue;
		const tag = el.tagName.toLowerCase();
		const type = controlType(el, tag);
		if (tag !== f.tag || type !== f.type) continue;
		if (type === 'password' || type === 'file') continue;
		if (key.test(el.id || '') || key.test(el.getAttribute('name') || '')) continue;
		if (ac.test(el.getAttribute('autocomplete') || '')) continue;
		const v = f.field;
		if (type === 'checkbox' || type === 'radio') {
			el.checked = !!v.checked;
		} else if (type === 'select-multiple') {
			if (!Array.isArray(v.selectedOptions)) continue;
			for (const o of Array.from(el.options)) o.selected = v.selectedOptions.includes(o.value);
		} else if (typeof v.value === 'string') {
			el.value = v.value;
		} else continue;
		n++;
	}
	return n;
}`

// ApplyFields writes restored values into the live page. Each target is
// re-checked against the live DOM first, since a path computed on the
// parsed snapshot can select a different element in the page.
func (t *Tab) ApplyFields(ctx context.Context, fields []formstate.Applied) error {
	if len(fields) == 0 {
		return nil
	}
	page := t.Page.Context(ctx)

	paths := make([]string, len(fields))
	for i, f := range fields {
		paths[i] = f.Path
	}
	res, err := page.Eval(shellsJS, paths)
	if err != nil {
		return fmt.Errorf("browser: inspect fields: %w", err)
	}
	var shells []string
	for _, v := range res.Value.Arr() {
		shells = append(shells, v.Str())
	}

	writable := writableFields(fields, shells)
	if skipped := len(fields) - len(writable); skipped > 0 {
		t.manager.cfg.Logger.Debug("browser: restore skipped fields", "tab", t.ID, "skipped", skipped)
	}
	if len(writable) == 0 {
		return nil
	}
	if _, err := page.Eval(applyFieldsJS, writable, fieldid.SensitiveKeyPattern, fieldid.SensitiveAutocompletePattern); err != nil {
		return fmt.Errorf("browser: apply fields: %w", err)
	}
	return nil
}

// writableFields keeps the fields whose live element, given as shells[i],
// may receive them.
func writableFields(fields []formstate.Applied, shells []string) []formstate.Applied {
	var out []formstate.Applied
	for i, f := range fields {
		if i >= len(shells) || shells[i] == "" {
			continue
		}
		doc, err := ParseDocument(shells[i])
		if err != nil {
			continue
		}
		if formstate.Writable(doc.Find("input, textarea, select").First(), f) {
			out = append(out, f)
		}
	}
	return out
}

// ScrollTo scrolls the window.
func (t *Tab) ScrollTo(ctx context.Context, s formstate.Scroll) error {
	if _, err := t.Page.Context(ctx).Eval(`(x, y) => window.scrollTo(x, y)`, s.X, s.Y); err != nil {
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
