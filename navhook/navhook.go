// Package navhook turns single-page-app route changes, link clicks and form
// edits inside a page into signals for the Go side. The injected script
// wraps history.pushState/replaceState and reports to a CDP binding;
// Dispatcher delivers each signal exactly once.
package navhook

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

// Binding is the name of the CDP runtime binding the script reports to.
const Binding = "__retrace_signal"

// Script is a JS function taking one boolean: whether to announce the
// document with a "load" signal once it is ready. Evaluate it with false on
// an already-loaded page and with true on new documents.
//
//go:embed hook.js
var Script string

// SnapshotExpr returns the current document with live control state, using
// the serializer installed by Script.
const SnapshotExpr = `() => window.__retraceSnapshot ? window.__retraceSnapshot() : document.documentElement.outerHTML`

// Phase orders a signal relative to the route change.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
	PhaseField  Phase = "field"
)

// Kind says what produced the signal.
type Kind string

const (
	KindPushState    Kind = "pushState"
	KindReplaceState Kind = "replaceState"
	KindPopState     Kind = "popstate"
	KindLoad         Kind = "load"
	KindUnload       Kind = "unload"
	KindClick        Kind = "click"
	KindInput        Kind = "input"
	KindChange       Kind = "change"
)

var validPhases = map[Kind][]Phase{
	KindPushState:    {PhaseBefore, PhaseAfter},
	KindReplaceState: {PhaseBefore, PhaseAfter},
	KindPopState:     {PhaseAfter},
	KindLoad:         {PhaseAfter},
	KindUnload:       {PhaseBefore},
	KindClick:        {PhaseBefore},
	KindInput:        {PhaseField},
	KindChange:       {PhaseField},
}

// Click describes a click on an a[href] element.
type Click struct {
	Href   string `json:"href"`
	Target string `json:"target"`
	Button int    `json:"button"`
	Meta   bool   `json:"meta"`
	Ctrl   bool   `json:"ctrl"`
	Shift  bool   `json:"shift"`
	Alt    bool   `json:"alt"`
}

// ShouldCapture reports whether the click leaves the page in the same tab:
// a plain primary-button click on a real link without a foreign target.
func (c Click) ShouldCapture() bool {
	if c.Href == "" || strings.HasPrefix(strings.ToLower(strings.TrimSpace(c.Href)), "javascript:") {
		return false
	}
	if c.Target != "" && c.Target != "_self" {
		return false
	}
	if c.Meta || c.Ctrl || c.Shift || c.Alt || c.Button != 0 {
		return false
	}
	return true
}

// Signal is one report from the page.
type Signal struct {
	Doc     string  `json:"doc"`
	Seq     uint64  `json:"seq"`
	Phase   Phase   `json:"phase"`
	Kind    Kind    `json:"kind"`
	OldURL  string  `json:"oldUrl"`
	NewURL  string  `json:"newUrl"`
	Title   string  `json:"title"`
	HTML    string  `json:"html,omitempty"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
	Click   *Click  `json:"click,omitempty"`
}

// Parse decodes and validates a binding payload.
func Parse(payload string) (Signal, error) {
	var s Signal
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return Signal{}, fmt.Errorf("navhook: decode signal: %w", err)
	}
	phases, ok := validPhases[s.Kind]
	if !ok {
		return Signal{}, fmt.Errorf("navhook: unknown signal kind %q", s.Kind)
	}
	valid := false
	for _, p := range phases {
		if p == s.Phase {
			valid = true
			break
		}
	}
	if !valid {
		return Signal{}, fmt.Errorf("navhook: %s signal cannot have phase %q", s.Kind, s.Phase)
	}
	if s.Seq == 0 {
		return Signal{}, fmt.Errorf("navhook: %s signal without sequence number", s.Kind)
	}
	if s.Kind == KindClick && s.Click == nil {
		return Signal{}, fmt.Errorf("navhook: click signal without click details")
	}
	return s, nil
}
