// CLAUDE:SUMMARY Page key normalization for form-state persistence: strip tracking params, stable-sort the rest, keep the fragment.
// CLAUDE:EXPORTS Normalize, Origin, IsTracking
// Package pagekey maps page URLs to the canonical keys under which form
// state is persisted. Two URLs that differ only in tracking parameters or
// parameter order map to the same key.
package pagekey

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are stripped in addition to every utm_* parameter.
var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"ref_src": true,
}

// IsTracking reports whether a query parameter name is a tracking parameter.
func IsTracking(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "utm_") || trackingParams[lower]
}

type param struct{ key, value string }

// Normalize returns the canonical page key for rawURL: origin and path,
// the non-tracking query parameters sorted by name, and the fragment.
// Input that does not parse as an absolute URL is returned unchanged.
func Normalize(rawURL string) string {
	u, ok := parseAbsolute(rawURL)
	if !ok {
		return rawURL
	}

	params := parseQuery(u.RawQuery)
	kept := params[:0]
	for _, p := range params {
		if !IsTracking(p.key) {
			kept = append(kept, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].key < kept[j].key })

	var b strings.Builder
	b.WriteString(origin(u))
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)
	if len(kept) > 0 {
		b.WriteByte('?')
		for i, p := range kept {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(formEncode(p.key))
			b.WriteByte('=')
			b.WriteString(formEncode(p.value))
		}
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}
	return b.String()
}

// Origin returns scheme://host[:port] for rawURL, lowercased and without
// the scheme's default port. It returns "" when rawURL has no origin.
func Origin(rawURL string) string {
	u, ok := parseAbsolute(rawURL)
	if !ok {
		return ""
	}
	return origin(u)
}

func parseAbsolute(rawURL string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u, true
}

func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}

// parseQuery splits a raw query into ordered pairs. Unlike url.ParseQuery it
// keeps duplicate keys in their original order and never fails.
func parseQuery(raw string) []param {
	var out []param
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out = append(out, param{key: unescape(k), value: unescape(v)})
	}
	return out
}

func unescape(s string) string {
	if d, err := url.QueryUnescape(s); err == nil {
		return d
	}
	return strings.ReplaceAll(s, "+", " ")
}

// formEncode applies application/x-www-form-urlencoded serialisation:
// alphanumerics and *-._ pass through, space becomes '+', the rest is %XX.
func formEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '*', c == '-', c == '.', c == '_':
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&15])
		}
	}
	return b.String()
}
