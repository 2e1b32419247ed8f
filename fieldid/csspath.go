package fieldid

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CSSPath builds a structural selector for el, walking up to the nearest
// ancestor with an id or to <body>. Steps are tag names, with
// :nth-of-type(i) only when more than one sibling shares the tag.
func CSSPath(el *goquery.Selection) string {
	if el == nil || len(el.Nodes) == 0 {
		return ""
	}
	var parts []string
	for n := el.Nodes[0]; n != nil && n.Type == html.ElementNode && n.DataAtom != atom.Body; n = n.Parent {
		if id := attr(n, "id"); id != "" {
			parts = append(parts, "#"+EscapeIdent(id))
			break
		}
		tag := strings.ToLower(n.Data)
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			parts = append(parts, tag)
			break
		}
		idx, count := 0, 0
		for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, n.Data) {
				count++
				if c == n {
					idx = count
				}
			}
		}
		if count > 1 {
			tag = fmt.Sprintf("%s:nth-of-type(%d)", tag, idx)
		}
		parts = append(parts, tag)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// EscapeIdent escapes s for use as a CSS identifier, following the
// CSSOM serialize-an-identifier rules.
func EscapeIdent(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case (r >= 0x01 && r <= 0x1F) || r == 0x7F,
			i == 0 && r >= '0' && r <= '9',
			i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, `\%x `, r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80, r == '-', r == '_',
			r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// AbsolutePath returns a selector that matches el and nothing else: every
// step from <html> down carries :nth-of-type.
func AbsolutePath(el *goquery.Selection) string {
	if el == nil || len(el.Nodes) == 0 {
		return ""
	}
	var parts []string
	for n := el.Nodes[0]; n != nil && n.Type == html.ElementNode; n = n.Parent {
		tag := strings.ToLower(n.Data)
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			parts = append(parts, tag)
			break
		}
		idx := 0
		for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strings.EqualFold(c.Data, n.Data) {
				idx++
			}
			if c == n {
				break
			}
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", tag, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}
