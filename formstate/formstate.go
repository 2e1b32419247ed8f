// Package formstate saves the values of a page's form fields and puts them
// back when the user returns to the page.
//
// Capture and Restore are pure functions over a document snapshot. Store
// adds the policy gate and persistence, and Tracker drives both from page
// events with a trailing-edge debounce.
package formstate

import (
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/retrace/fieldid"
)

// FieldSnapshot is one serialized form field. Exactly one of Value,
// Checked and SelectedOptions is meaningful, depending on the control type.
type FieldSnapshot struct {
	Tag             string             `json:"tag"`
	Type            string             `json:"type"`
	Key             fieldid.Descriptor `json:"key"`
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Selector        string             `json:"selector"`
	Value           *string            `json:"value"`
	Checked         *bool              `json:"checked"`
	SelectedOptions []string           `json:"selectedOptions"`
	// Option is the value attribute of a checkbox or radio.
	Option string `json:"option,omitempty"`
}

// Locator returns the identity facets used to re-locate the field.
func (f FieldSnapshot) Locator() fieldid.Locator {
	return fieldid.Locator{ID: f.ID, Name: f.Name, Type: f.Type, Selector: f.Selector, Option: f.Option}
}

// Scroll is a window scroll offset in CSS pixels.
type Scroll struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PageFormState is everything saved for one page key. A save always
// replaces the whole record.
type PageFormState struct {
	URL          string          `json:"url"`
	CapturedAtMs int64           `json:"capturedAtMs"`
	ScrollX      float64         `json:"scrollX"`
	ScrollY      float64         `json:"scrollY"`
	Fields       []FieldSnapshot `json:"fields"`
}

// Applied is one restored field: the unique path of the element it
// resolved to, that element's tag and control type, and the saved value to
// write there.
type Applied struct {
	Path  string        `json:"path"`
	Tag   string        `json:"tag"`
	Type  string        `json:"type"`
	Field FieldSnapshot `json:"field"`
}

// Writable reports whether a live element may receive a: it must still be
// capturable and carry the tag and control type a was resolved against.
// The path in a is positional, so a live DOM that differs from the parsed
// snapshot can point it at some other control.
func Writable(live *goquery.Selection, a Applied) bool {
	if live == nil || live.Length() == 0 || !fieldid.IsCapturable(live) {
		return false
	}
	return fieldid.Tag(live) == a.Tag && fieldid.ControlType(live) == a.Type
}

// Capture scans doc for capturable controls and serializes them. Sensitive
// fields are never included.
func Capture(doc *goquery.Document, pageURL string, scroll Scroll, now time.Time) PageFormState {
	state := PageFormState{
		URL:          pageURL,
		CapturedAtMs: now.UnixMilli(),
		ScrollX:      scroll.X,
		ScrollY:      scroll.Y,
		Fields:       []FieldSnapshot{},
	}
	doc.Find("input, textarea, select").Each(func(_ int, el *goquery.Selection) {
		if fieldid.IsCapturable(el) {
			state.Fields = append(state.Fields, serialize(el))
		}
	})
	return state
}

func serialize(el *goquery.Selection) FieldSnapshot {
	f := FieldSnapshot{
		Tag:      fieldid.Tag(el),
		Type:     fieldid.ControlType(el),
		Key:      fieldid.Identify(el),
		ID:       el.AttrOr("id", ""),
		Name:     el.AttrOr("name", ""),
		Selector: fieldid.CSSPath(el),
		Option:   fieldid.CheckableValue(el),
	}
	switch f.Type {
	case "checkbox", "radio":
		_, checked := el.Attr("checked")
		f.Checked = &checked
	case "select-multiple":
		f.SelectedOptions = selectedValues(el)
	default:
		v := controlValue(el)
		f.Value = &v
	}
	return f
}

// Restore resolves each saved field in doc and writes its value into the
// snapshot. Fields that no longer resolve, or resolve to a field that is no
// longer capturable, are skipped.
func Restore(doc *goquery.Document, state PageFormState) []Applied {
	var applied []Applied
	for _, f := range state.Fields {
		el := fieldid.Resolve(f.Locator(), doc)
		if el == nil || !fieldid.IsCapturable(el) {
			continue
		}
		if !apply(el, f) {
			continue
		}
		applied = append(applied, Applied{
			Path:  fieldid.AbsolutePath(el),
			Tag:   fieldid.Tag(el),
			Type:  fieldid.ControlType(el),
			Field: f,
		})
	}
	return applied
}

// apply writes f into el following el's current control type. It reports
// false when f carries no payload for that type.
func apply(el *goquery.Selection, f FieldSnapshot) bool {
	switch fieldid.ControlType(el) {
	case "checkbox", "radio":
		if f.Checked != nil && *f.Checked {
			el.SetAttr("checked", "")
		} else {
			el.RemoveAttr("checked")
		}
	case "select-multiple":
		if f.SelectedOptions == nil {
			return false
		}
		el.Find("option").Each(func(_ int, o *goquery.Selection) {
			setSelected(o, slices.Contains(f.SelectedOptions, optionValue(o)))
		})
	case "select-one":
		if f.Value == nil {
			return false
		}
		el.Find("option").Each(func(_ int, o *goquery.Selection) {
			setSelected(o, optionValue(o) == *f.Value)
		})
	case "textarea":
		if f.Value == nil {
			return false
		}
		el.SetText(*f.Value)
	default:
		if f.Value == nil {
			return false
		}
		el.SetAttr("value", *f.Value)
	}
	return true
}

// controlValue reads the current value of a text-like control or a
// single-select. A single-select with nothing marked selected reports its
// first option, as browsers do.
func controlValue(el *goquery.Selection) string {
	switch fieldid.Tag(el) {
	case "textarea":
		return el.Text()
	case "select":
		opts := el.Find("option")
		if sel := opts.Filter("[selected]"); sel.Length() > 0 {
			return optionValue(sel.Last())
		}
		if opts.Length() > 0 {
			return optionValue(opts.First())
		}
		return ""
	}
	return el.AttrOr("value", "")
}

func selectedValues(el *goquery.Selection) []string {
	out := []string{}
	el.Find("option[selected]").Each(func(_ int, o *goquery.Selection) {
		out = append(out, optionValue(o))
	})
	return out
}

func optionValue(o *goquery.Selection) string {
	if v, ok := o.Attr("value"); ok {
		return v
	}
	return strings.Join(strings.Fields(o.Text()), " ")
}

func setSelected(o *goquery.Selection, selected bool) {
	if selected {
		o.SetAttr("selected", "")
	} else {
		o.RemoveAttr("selected")
	}
}
