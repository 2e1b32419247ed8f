package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/retrace/formstate"
)

func TestParseStealth(t *testing.T) {
	tests := []struct {
		in      string
		want    StealthLevel
		wantErr bool
	}{
		{"", LevelHeadless, false},
		{"headless", LevelHeadless, false},
		{" Headful ", LevelHeadful, false},
		{"http", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseStealth(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStealth(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestBlockSet(t *testing.T) {
	set, unknown := blockSet([]string{"Fonts", "media"})
	if len(unknown) != 0 {
		t.Fatalf("unknown = %v", unknown)
	}
	if !set[proto.NetworkResourceTypeFont] || !set[proto.NetworkResourceTypeMedia] {
		t.Errorf("set = %v", set)
	}
	if set[proto.NetworkResourceTypeImage] {
		t.Error("images must never be blocked")
	}

	_, unknown = blockSet([]string{"images", "stylesheets"})
	if len(unknown) != 2 {
		t.Errorf("images/stylesheets should be rejected, unknown = %v", unknown)
	}
}

func TestApplyResourceBlocking_RejectsUnblockable(t *testing.T) {
	err := applyResourceBlocking(nil, []string{"images"})
	var ub *ErrUnblockable
	if !errors.As(err, &ub) || ub.Names[0] != "images" {
		t.Fatalf("err = %v", err)
	}
	if err := applyResourceBlocking(nil, nil); err != nil {
		t.Errorf("empty list: %v", err)
	}
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument(`<html><body><input name="q" value="x"></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := doc.Find("input").Attr("value"); v != "x" {
		t.Errorf("value = %q", v)
	}
}

func TestWritableFields_LiveMismatch(t *testing.T) {
	// The parser drops the inner form, so the snapshot path of "q" selects
	// the password input in a page that kept it.
	doc, err := ParseDocument(`<html><body><form><form><input name="q" value="secret-search"></form><input type="password" id="pw"></form></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	saved := formstate.Capture(doc, "https://a.com/", formstate.Scroll{}, time.Now())
	applied := formstate.Restore(doc, saved)
	if len(applied) != 1 {
		t.Fatalf("applied %d fields, want 1", len(applied))
	}

	if got := writableFields(applied, []string{`<input type="password" id="pw">`}); len(got) != 0 {
		t.Errorf("password field kept: %+v", got)
	}
	if got := writableFields(applied, []string{`<textarea name="q"></textarea>`}); len(got) != 0 {
		t.Errorf("tag mismatch kept: %+v", got)
	}
	if got := writableFields(applied, []string{""}); len(got) != 0 {
		t.Errorf("missing element kept: %+v", got)
	}
	if got := writableFields(applied, nil); len(got) != 0 {
		t.Errorf("short shell list kept: %+v", got)
	}
	if got := writableFields(applied, []string{`<input name="q">`}); len(got) != 1 {
		t.Errorf("matching field dropped")
	}
}

func TestCaptureVisibleTab_RequiresRegisteredTab(t *testing.T) {
	m := NewManager(Config{})
	m.tabs[3] = &Tab{ID: 3, WindowID: 9, manager: m}

	if _, err := m.CaptureVisibleTab(context.Background(), 4, 9, 70); err == nil {
		t.Error("unknown tab should fail")
	}
	if _, err := m.CaptureVisibleTab(context.Background(), 3, 8, 70); err == nil {
		t.Error("tab in another window should fail")
	}
}
