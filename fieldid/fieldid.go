// CLAUDE:SUMMARY Stable form-field identity: id > name composite > structural CSS path, plus the sensitivity gate.
// CLAUDE:EXPORTS Descriptor, Locator, Identify, LocatorOf, CheckableValue, Resolve, CSSPath, AbsolutePath, IsCapturable
package fieldid

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Kind names the identity variant held by a Descriptor.
type Kind string

const (
	KindID       Kind = "id"
	KindName     Kind = "name"
	KindSelector Kind = "selector"
)

// Descriptor is the stored identity of one form field.
type Descriptor struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// Locator carries every identity facet of a field so resolution can fall
// back from id to name to selector.
type Locator struct {
	ID       string
	Name     string
	Type     string
	Selector string
	// Option is the value attribute of a checkbox or radio. It tells apart
	// same-named controls of one group.
	Option string
}

// Case-insensitive patterns for sensitive ids, names and autocomplete hints.
// Exported bare so page scripts can compile the same rules.
const (
	SensitiveKeyPattern          = `password|pass|card|cvc|cvv|otp`
	SensitiveAutocompletePattern = `cc-|cc_`
)

var (
	sensitiveKey          = regexp.MustCompile(`(?i)(` + SensitiveKeyPattern + `)`)
	sensitiveAutocomplete = regexp.MustCompile(`(?i)(` + SensitiveAutocompletePattern + `)`)
)

// Tag returns the lowercased element name of the first node in el.
func Tag(el *goquery.Selection) string {
	if el == nil || len(el.Nodes) == 0 || el.Nodes[0].Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(el.Nodes[0].Data)
}

// ControlType mirrors the DOM "type" property of a form control:
// the lowercased type attribute for inputs (default "text"), "textarea",
// or "select-one" / "select-multiple".
func ControlType(el *goquery.Selection) string {
	switch Tag(el) {
	case "input":
		t := strings.ToLower(strings.TrimSpace(el.AttrOr("type", "")))
		if t == "" {
			return "text"
		}
		return t
	case "textarea":
		return "textarea"
	case "select":
		if _, multiple := el.Attr("multiple"); multiple {
			return "select-multiple"
		}
		return "select-one"
	}
	return ""
}

// IsSensitive reports whether a field must never be captured or written:
// password and file inputs, ids or names that look like credentials or
// payment data, and payment autocomplete hints.
func IsSensitive(el *goquery.Selection) bool {
	if Tag(el) == "input" {
		switch ControlType(el) {
		case "password", "file":
			return true
		}
	}
	if sensitiveKey.MatchString(el.AttrOr("id", "")) || sensitiveKey.MatchString(el.AttrOr("name", "")) {
		return true
	}
	return sensitiveAutocomplete.MatchString(el.AttrOr("autocomplete", ""))
}

// IsCapturable is true for input, textarea and select elements that are
// not sensitive. It gates both capture and restore.
func IsCapturable(el *goquery.Selection) bool {
	switch Tag(el) {
	case "input", "textarea", "select":
		return !IsSensitive(el)
	}
	return false
}

// Identify returns the preferred identity of el: its id, else the
// name|tag|type|formIndex composite, else its structural CSS path.
func Identify(el *goquery.Selection) Descriptor {
	if id := el.AttrOr("id", ""); id != "" {
		return Descriptor{Kind: KindID, Value: id}
	}
	if name := el.AttrOr("name", ""); name != "" {
		return Descriptor{Kind: KindName, Value: nameKey(el, name)}
	}
	return Descriptor{Kind: KindSelector, Value: CSSPath(el)}
}

// LocatorOf collects all identity facets of el.
func LocatorOf(el *goquery.Selection) Locator {
	return Locator{
		ID:       el.AttrOr("id", ""),
		Name:     el.AttrOr("name", ""),
		Type:     ControlType(el),
		Selector: CSSPath(el),
		Option:   CheckableValue(el),
	}
}

// CheckableValue returns the value attribute of a checkbox or radio,
// defaulting to "on" as browsers do, and "" for any other control.
func CheckableValue(el *goquery.Selection) string {
	switch ControlType(el) {
	case "checkbox", "radio":
		return el.AttrOr("value", "on")
	}
	return ""
}

func nameKey(el *goquery.Selection, name string) string {
	return strings.Join([]string{
		name,
		Tag(el),
		ControlType(el),
		strconv.Itoa(FormIndex(el)),
	}, "|")
}

// FormIndex returns the index of el's owning form among all forms of the
// document, or -1 when el has no owning form. The form attribute wins over
// the enclosing form element.
func FormIndex(el *goquery.Selection) int {
	if len(el.Nodes) == 0 {
		return -1
	}
	forms := goquery.NewDocumentFromNode(root(el.Nodes[0])).Find("form")

	var owner *html.Node
	if ref := el.AttrOr("form", ""); ref != "" {
		forms.EachWithBreak(func(_ int, f *goquery.Selection) bool {
			if f.AttrOr("id", "") == ref {
				owner = f.Nodes[0]
				return false
			}
			return true
		})
	}
	if owner == nil {
		if closest := el.Closest("form"); closest.Length() > 0 {
			owner = closest.Nodes[0]
		}
	}
	if owner == nil {
		return -1
	}
	return forms.IndexOfNode(owner)
}

func root(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}
