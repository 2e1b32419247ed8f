// CLAUDE:SUMMARY Global settings record, partial-update merge, and the per-origin allow/block policy.
// CLAUDE:EXPORTS Settings, Patch, Size, Defaults, Allowed
package settings

import (
	"slices"

	"github.com/hazyhaar/retrace/pagekey"
)

// Size is the overlay size preset.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// Dimensions returns the overlay width and height in CSS pixels.
// Unknown sizes render as medium.
func (s Size) Dimensions() (width, height int) {
	switch s {
	case SizeSmall:
		return 220, 140
	case SizeLarge:
		return 420, 280
	}
	return 320, 200
}

// Settings is the single global settings record.
type Settings struct {
	Enabled      bool     `json:"enabled"`
	PrivacyMode  bool     `json:"privacyMode"`
	OverlaySize  Size     `json:"overlaySize"`
	Allowlist    []string `json:"allowlist"`
	Blocklist    []string `json:"blocklist"`
	SiteDisabled []string `json:"siteDisabled"`
}

// Defaults returns the settings used before anything is stored.
func Defaults() Settings {
	return Settings{
		Enabled:      true,
		OverlaySize:  SizeMedium,
		Allowlist:    []string{},
		Blocklist:    []string{},
		SiteDisabled: []string{},
	}
}

// Patch is a partial settings update. Nil fields are left untouched.
type Patch struct {
	Enabled      *bool    `json:"enabled,omitempty"`
	PrivacyMode  *bool    `json:"privacyMode,omitempty"`
	OverlaySize  *Size    `json:"overlaySize,omitempty"`
	Allowlist    []string `json:"allowlist,omitzero"`
	Blocklist    []string `json:"blocklist,omitzero"`
	SiteDisabled []string `json:"siteDisabled,omitzero"`
}

// Merge applies p over s and returns the result. A list present in p,
// even empty, replaces the current list.
func (s Settings) Merge(p Patch) Settings {
	out := s.clone()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.PrivacyMode != nil {
		out.PrivacyMode = *p.PrivacyMode
	}
	if p.OverlaySize != nil {
		out.OverlaySize = *p.OverlaySize
	}
	if p.Allowlist != nil {
		out.Allowlist = slices.Clone(p.Allowlist)
	}
	if p.Blocklist != nil {
		out.Blocklist = slices.Clone(p.Blocklist)
	}
	if p.SiteDisabled != nil {
		out.SiteDisabled = slices.Clone(p.SiteDisabled)
	}
	return out
}

// Allowed reports whether the features may run on rawURL: the record must
// be enabled, the origin must not be disabled or blocklisted, and a
// non-empty allowlist must contain it.
func (s Settings) Allowed(rawURL string) bool {
	origin := pagekey.Origin(rawURL)
	if !s.Enabled || origin == "" {
		return false
	}
	if slices.Contains(s.SiteDisabled, origin) || slices.Contains(s.Blocklist, origin) {
		return false
	}
	if len(s.Allowlist) > 0 && !slices.Contains(s.Allowlist, origin) {
		return false
	}
	return true
}

// OverlayAllowed is the page-side gate for requesting the overlay. It is
// Allowed, except that privacy mode skips the site lists so the overlay can
// explain the missing image.
func (s Settings) OverlayAllowed(rawURL string) bool {
	if !s.Enabled {
		return false
	}
	return s.PrivacyMode || s.Allowed(rawURL)
}

// WithSiteDisabled adds or removes site's origin from SiteDisabled. site may
// be a full URL or a bare origin.
func (s Settings) WithSiteDisabled(site string, disabled bool) Settings {
	origin := pagekey.Origin(site)
	if origin == "" {
		origin = site
	}
	out := s.clone()
	out.SiteDisabled = slices.DeleteFunc(out.SiteDisabled, func(o string) bool { return o == origin })
	if disabled {
		out.SiteDisabled = append(out.SiteDisabled, origin)
	}
	return out
}

func (s Settings) clone() Settings {
	out := s
	out.Allowlist = cloneList(s.Allowlist)
	out.Blocklist = cloneList(s.Blocklist)
	out.SiteDisabled = cloneList(s.SiteDisabled)
	return out
}

func cloneList(l []string) []string {
	if l == nil {
		return []string{}
	}
	return slices.Clone(l)
}
