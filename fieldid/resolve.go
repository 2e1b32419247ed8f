package fieldid

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Resolve re-locates a field in doc. It tries the id facet, then the name
// facet (preferring an element whose control type matches, and for
// checkables the one whose value matches too), then the
// selector facet, and returns the first hit. A miss, including an
// unparseable selector, yields nil.
func Resolve(loc Locator, doc *goquery.Document) *goquery.Selection {
	if doc == nil {
		return nil
	}
	if loc.ID != "" {
		if el := byAttr(doc, "id", loc.ID); el.Length() > 0 {
			return el.First()
		}
	}
	if loc.Name != "" {
		if el := byName(doc, loc.Name, loc.Type, loc.Option); el != nil {
			return el
		}
	}
	if loc.Selector != "" {
		return bySelector(doc, loc.Selector)
	}
	return nil
}

// ResolveDescriptor resolves a single stored Descriptor.
func ResolveDescriptor(d Descriptor, doc *goquery.Document) *goquery.Selection {
	switch d.Kind {
	case KindID:
		return Resolve(Locator{ID: d.Value}, doc)
	case KindName:
		name, typ := splitNameKey(d.Value)
		return Resolve(Locator{Name: name, Type: typ}, doc)
	case KindSelector:
		return Resolve(Locator{Selector: d.Value}, doc)
	}
	return nil
}

// splitNameKey parses name|tag|type|formIndex from the right so names
// containing '|' survive.
func splitNameKey(key string) (name, typ string) {
	parts := strings.Split(key, "|")
	if len(parts) < 4 {
		return key, ""
	}
	n := len(parts)
	return strings.Join(parts[:n-3], "|"), parts[n-2]
}

func byAttr(doc *goquery.Document, key, val string) *goquery.Selection {
	return doc.Find("[" + key + "]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.AttrOr(key, "") == val
	})
}

func byName(doc *goquery.Document, name, typ, option string) *goquery.Selection {
	els := byAttr(doc, "name", name)
	if els.Length() == 0 {
		return nil
	}
	if typ != "" {
		match := els.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return ControlType(s) == typ
		})
		if option != "" {
			if same := match.FilterFunction(func(_ int, s *goquery.Selection) bool {
				return CheckableValue(s) == option
			}); same.Length() > 0 {
				return same.First()
			}
		}
		if match.Length() > 0 {
			return match.First()
		}
	}
	return els.First()
}

func bySelector(doc *goquery.Document, selector string) *goquery.Selection {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	if el := doc.FindMatcher(sel); el.Length() > 0 {
		return el.First()
	}
	return nil
}
