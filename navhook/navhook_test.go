package navhook

import (
	"context"
	"strings"
	"testing"
)

func TestScriptEmbedded(t *testing.T) {
	if !strings.HasPrefix(strings.TrimSpace(Script), "(announce) =>") {
		t.Fatal("hook script must be a one-argument function expression")
	}
	if !strings.Contains(Script, Binding) {
		t.Errorf("hook script does not report to %s", Binding)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"push before", `{"doc":"d","seq":1,"phase":"before","kind":"pushState","oldUrl":"https://a.com/","newUrl":"https://a.com/x"}`, false},
		{"popstate after", `{"doc":"d","seq":2,"phase":"after","kind":"popstate","newUrl":"https://a.com/"}`, false},
		{"popstate before", `{"doc":"d","seq":2,"phase":"before","kind":"popstate"}`, true},
		{"input", `{"doc":"d","seq":3,"phase":"field","kind":"input"}`, false},
		{"unknown kind", `{"doc":"d","seq":3,"phase":"after","kind":"hashchange"}`, true},
		{"no seq", `{"doc":"d","phase":"after","kind":"load"}`, true},
		{"click without details", `{"doc":"d","seq":4,"phase":"before","kind":"click"}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		_, err := Parse(tt.payload)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestClickShouldCapture(t *testing.T) {
	tests := []struct {
		c    Click
		want bool
	}{
		{Click{Href: "/next"}, true},
		{Click{Href: "/next", Target: "_self"}, true},
		{Click{Href: ""}, false},
		{Click{Href: "javascript:void(0)"}, false},
		{Click{Href: " JavaScript:go()"}, false},
		{Click{Href: "/next", Target: "_blank"}, false},
		{Click{Href: "/next", Ctrl: true}, false},
		{Click{Href: "/next", Meta: true}, false},
		{Click{Href: "/next", Shift: true}, false},
		{Click{Href: "/next", Alt: true}, false},
		{Click{Href: "/next", Button: 1}, false},
	}
	for _, tt := range tests {
		if got := tt.c.ShouldCapture(); got != tt.want {
			t.Errorf("%+v: got %v, want %v", tt.c, got, tt.want)
		}
	}
}

type recorder struct {
	events []string
}

func (r *recorder) BeforeNavigate(_ context.Context, s Signal) {
	r.events = append(r.events, "before:"+string(s.Kind))
}
func (r *recorder) AfterNavigate(_ context.Context, s Signal) {
	r.events = append(r.events, "after:"+string(s.Kind))
}
func (r *recorder) LinkClick(_ context.Context, s Signal) {
	r.events = append(r.events, "click:"+s.Click.Href)
}
func (r *recorder) FieldChanged(_ context.Context, s Signal) {
	r.events = append(r.events, "field:"+string(s.Kind))
}

func TestDispatcher_ExactlyOnce(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, nil)
	ctx := context.Background()

	payloads := []string{
		`{"doc":"d1","seq":1,"phase":"before","kind":"pushState"}`,
		`{"doc":"d1","seq":2,"phase":"after","kind":"pushState"}`,
		`{"doc":"d1","seq":2,"phase":"after","kind":"pushState"}`, // replay
		`{"doc":"d1","seq":3,"phase":"field","kind":"change"}`,
		`{"doc":"d1","seq":4,"phase":"before","kind":"click","click":{"href":"/x"}}`,
		`{"doc":"d2","seq":1,"phase":"after","kind":"load"}`, // new document restarts numbering
		`{"doc":"d2","seq":1,"phase":"after","kind":"load"}`, // replay
		`{"doc":"d2","seq":2,"phase":"after","kind":"popstate"}`,
	}
	delivered := 0
	for _, p := range payloads {
		if d.Dispatch(ctx, p) {
			delivered++
		}
	}
	want := []string{
		"before:pushState", "after:pushState", "field:change", "click:/x", "after:load", "after:popstate",
	}
	if delivered != len(want) || strings.Join(rec.events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v (delivered %d), want %v", rec.events, delivered, want)
	}
}
