package background

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/retrace/kvstore"
	"github.com/hazyhaar/retrace/protocol"
	"github.com/hazyhaar/retrace/settings"
	"github.com/hazyhaar/retrace/snapshot"
)

type fakeCapturer struct{ err error }

func (f *fakeCapturer) CaptureVisibleTab(context.Context, int, int, int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("jpeg"), nil
}

type tabCount int

func (n tabCount) Count() int { return int(n) }

func newService(t *testing.T, capt snapshot.Capturer, token string) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := kvstore.New(kvstore.NewMemory(), kvstore.WithSession(kvstore.NewMemory()))
	cache := settings.NewCache(settings.NewStore(kv))
	return New(Config{
		Settings:  cache,
		Snapshots: snapshot.NewManager(kv, capt, cache, snapshot.WithLogger(logger)),
		Router:    protocol.NewRouter(protocol.WithLogger(logger)),
		Tabs:      tabCount(2),
		Token:     token,
		Logger:    logger,
	})
}

func win(id int) *int { return &id }

func call(t *testing.T, s *Service, from protocol.Sender, typ protocol.Type, payload any) protocol.Response {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	reply, _ := s.Router().Dispatch(context.Background(), from, protocol.Envelope{Type: typ, Payload: raw})
	var resp protocol.Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		t.Fatalf("decode %s reply %s: %v", typ, reply, err)
	}
	return resp
}

func capture(t *testing.T, s *Service, url string) protocol.Response {
	t.Helper()
	return call(t, s, protocol.Sender{TabID: 3, WindowID: win(1)}, protocol.CapturePreviousPage,
		protocol.CapturePayload{URL: url, Title: "title of " + url})
}

func TestCapture_NoTabContext(t *testing.T) {
	s := newService(t, &fakeCapturer{}, "")
	for _, from := range []protocol.Sender{{}, {TabID: 3}, {WindowID: win(1)}} {
		resp := call(t, s, from, protocol.CapturePreviousPage, protocol.CapturePayload{URL: "https://a.example/"})
		if resp.OK || resp.Error != protocol.MsgNoTabContext {
			t.Errorf("sender %+v: got %+v", from, resp)
		}
	}
}

func TestCapture_ThenOverlay(t *testing.T) {
	s := newService(t, &fakeCapturer{}, "")
	if resp := capture(t, s, "https://a.example/one"); !resp.OK || resp.PrivacyMode {
		t.Fatalf("capture one: %+v", resp)
	}
	capture(t, s, "https://a.example/two")

	resp := call(t, s, protocol.Sender{TabID: 3}, protocol.RequestOverlay,
		protocol.OverlayPayload{CurrentURL: "https://a.example/two"})
	if !resp.OK || resp.Snapshot == nil {
		t.Fatalf("overlay: %+v", resp)
	}
	if resp.Snapshot.URL != "https://a.example/one" {
		t.Errorf("snapshot url: got %q, want page one", resp.Snapshot.URL)
	}
	if resp.Snapshot.ImageData == nil || !strings.HasPrefix(*resp.Snapshot.ImageData, "data:image/jpeg;base64,") {
		t.Errorf("image data: got %v", resp.Snapshot.ImageData)
	}

	other := call(t, s, protocol.Sender{TabID: 4}, protocol.RequestOverlay,
		protocol.OverlayPayload{CurrentURL: "https://a.example/two"})
	if other.OK || other.Error != protocol.MsgNoSnapshot {
		t.Errorf("other tab: got %+v", other)
	}
}

func TestCapture_FailureStillOK(t *testing.T) {
	s := newService(t, &fakeCapturer{err: errors.New("tab not visible")}, "")
	if resp := capture(t, s, "https://a.example/"); !resp.OK {
		t.Fatalf("capture: %+v", resp)
	}
	resp := call(t, s, protocol.Sender{TabID: 3}, protocol.RequestOverlay, protocol.OverlayPayload{})
	if resp.Snapshot == nil || resp.Snapshot.Error == nil || *resp.Snapshot.Error != "tab not visible" {
		t.Errorf("snapshot: %+v", resp.Snapshot)
	}
}

func TestCapture_BlockedBySettings(t *testing.T) {
	s := newService(t, &fakeCapturer{}, "")
	call(t, s, protocol.Sender{}, protocol.UpdateSettings, map[string]any{"blocklist": []string{"https://a.example"}})

	if resp := capture(t, s, "https://a.example/x"); resp.OK || resp.Error != protocol.MsgBlocked {
		t.Errorf("blocked: got %+v", resp)
	}
	if resp := capture(t, s, "https://b.example/x"); !resp.OK {
		t.Errorf("other site: got %+v", resp)
	}
}

func TestCapture_PrivacyMode(t *testing.T) {
	s := newService(t, &fakeCapturer{}, "")
	call(t, s, protocol.Sender{}, protocol.UpdateSettings, map[string]any{"privacyMode": true})

	resp := capture(t, s, "https://a.example/")
	if !resp.OK || !resp.PrivacyMode {
		t.Fatalf("capture: %+v", resp)
	}
	ov := call(t, s, protocol.Sender{TabID: 3}, protocol.RequestOverlay, protocol.OverlayPayload{})
	if ov.Snapshot == nil || ov.Snapshot.ImageData != nil || ov.Snapshot.Error == nil {
		t.Errorf("privacy snapshot: %+v", ov.Snapshot)
	}
}

func TestClearSnapshots(t *testing.T) {
	s := newService(t, &fakeCapturer{}, "")
	capture(t, s, "https://a.example/")

	if resp := call(t, s, protocol.Sender{}, protocol.ClearSnapshots, nil); resp.Error != protocol.MsgNoTabContext {
		t.Errorf("tabless clear: got %+v", resp)
	}
	for i := 0; i < 2; i++ {
		if resp := call(t, s, protocol.Sender{TabID: 3}, protocol.ClearSnapshots, nil); !resp.OK {
			t.Fatalf("clear %d: %+v", i, resp)
		}
	}
	if resp := call(t, s, protocol.Sender{TabID: 3}, protocol.RequestOverlay, protocol.OverlayPayload{}); resp.Error != protocol.MsgNoSnapshot {
		t.Errorf("after clear: got %+v", resp)
	}
}

func TestOverlay_NoTabContext(t *testing.T) {
	s := newService(t, &fakeCapturer{}, "")
	if resp := call(t, s, protocol.Sender{}, protocol.RequestOverlay, protocol.OverlayPayload{}); resp.Error != protocol.MsgNoTabContext {
		t.Errorf("got %+v", resp)
	}
}

// --- HTTP ---

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_Health(t *testing.T) {
	h := newService(t, &fakeCapturer{}, "secret").Handler(nil)
	rec := do(t, h, "GET", "/health", "", "")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `"tabs":2`) {
		t.Errorf("health: %d %s", rec.Code, rec.Body)
	}
}

func TestHTTP_Token(t *testing.T) {
	h := newService(t, &fakeCapturer{}, "secret").Handler(nil)
	if rec := do(t, h, "GET", "/v1/settings", "", ""); rec.Code != 401 {
		t.Errorf("no token: got %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/v1/settings", "", "wrong"); rec.Code != 401 {
		t.Errorf("wrong token: got %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/v1/settings", "", "secret"); rec.Code != 200 {
		t.Errorf("good token: got %d", rec.Code)
	}
}

func TestHTTP_Settings(t *testing.T) {
	h := newService(t, &fakeCapturer{}, "").Handler(nil)

	rec := do(t, h, "PATCH", "/v1/settings", `{"overlaySize":"large","allowlist":["https://a.example"]}`, "")
	var got settings.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body)
	}
	if got.OverlaySize != settings.SizeLarge || len(got.Allowlist) != 1 || !got.Enabled {
		t.Errorf("patched: %+v", got)
	}

	rec = do(t, h, "POST", "/v1/settings/sites", `{"origin":"https://B.example:443/path","disabled":true}`, "")
	if rec.Code != 200 {
		t.Fatalf("sites: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, h, "GET", "/v1/settings", "", "")
	got = settings.Settings{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.SiteDisabled) != 1 || got.SiteDisabled[0] != "https://b.example" {
		t.Errorf("siteDisabled: %v", got.SiteDisabled)
	}

	if rec := do(t, h, "POST", "/v1/settings/sites", `{"origin":"not a url"}`, ""); rec.Code != 400 {
		t.Errorf("bad origin: got %d", rec.Code)
	}
}

func TestHTTP_TabMessages(t *testing.T) {
	h := newService(t, &fakeCapturer{}, "").Handler(nil)

	rec := do(t, h, "POST", "/v1/tabs/5/messages?window=2",
		`{"type":"CAPTURE_PREVIOUS_PAGE","payload":{"url":"https://a.example/","title":"A"}}`, "")
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("capture: %s", rec.Body)
	}

	rec = do(t, h, "POST", "/v1/tabs/5/messages",
		`{"type":"CAPTURE_PREVIOUS_PAGE","payload":{"url":"https://a.example/"}}`, "")
	if !strings.Contains(rec.Body.String(), protocol.MsgNoTabContext) {
		t.Errorf("windowless capture: %s", rec.Body)
	}

	rec = do(t, h, "POST", "/v1/tabs/5/messages", `{"type":"REQUEST_OVERLAY","payload":{"currentUrl":"https://b.example/"}}`, "")
	var resp protocol.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Snapshot == nil || resp.Snapshot.Title != "A" {
		t.Errorf("overlay: %s", rec.Body)
	}

	rec = do(t, h, "POST", "/v1/tabs/5/messages", `{"type":"NOPE"}`, "")
	if !strings.Contains(rec.Body.String(), protocol.MsgUnknownType) {
		t.Errorf("unknown: %s", rec.Body)
	}
	if rec := do(t, h, "POST", "/v1/tabs/x/messages", `{}`, ""); rec.Code != 400 {
		t.Errorf("bad tab id: got %d", rec.Code)
	}
}

// --- MCP ---

var testMCPImpl = &mcp.Implementation{Name: "retrace-test", Version: "0.1.0"}

func mcpSession(t *testing.T, s *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	s.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_Settings(t *testing.T) {
	session := mcpSession(t, newService(t, &fakeCapturer{}, ""))

	var got settings.Settings
	json.Unmarshal([]byte(mcpCallTool(t, session, "retrace_get_settings", map[string]any{})), &got)
	if !got.Enabled || got.OverlaySize != settings.SizeMedium {
		t.Errorf("defaults: %+v", got)
	}

	json.Unmarshal([]byte(mcpCallTool(t, session, "retrace_update_settings", map[string]any{"privacyMode": true})), &got)
	if !got.PrivacyMode {
		t.Errorf("privacy not set: %+v", got)
	}

	got = settings.Settings{}
	json.Unmarshal([]byte(mcpCallTool(t, session, "retrace_disable_site",
		map[string]any{"origin": "https://a.example", "disabled": true})), &got)
	if len(got.SiteDisabled) != 1 || !got.PrivacyMode {
		t.Errorf("after disable: %+v", got)
	}
}

func TestMCP_Snapshots(t *testing.T) {
	s := newService(t, &fakeCapturer{}, "")
	session := mcpSession(t, s)
	capture(t, s, "https://a.example/")

	var resp protocol.Response
	json.Unmarshal([]byte(mcpCallTool(t, session, "retrace_request_overlay",
		map[string]any{"tab_id": 3, "current_url": "https://a.example/next"})), &resp)
	if !resp.OK || resp.Snapshot == nil {
		t.Fatalf("overlay: %+v", resp)
	}

	resp = protocol.Response{}
	json.Unmarshal([]byte(mcpCallTool(t, session, "retrace_clear_snapshots", map[string]any{"tab_id": 3})), &resp)
	if !resp.OK {
		t.Errorf("clear: %+v", resp)
	}
}

func TestHTTP_Middleware(t *testing.T) {
	h := newService(t, &fakeCapturer{}, "").Handler(nil)

	rec := do(t, h, "HEAD", "/health", "", "")
	if rec.Code != 200 {
		t.Errorf("HEAD /health: got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control: got %q", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	req := httptest.NewRequest("GET", "/v1/settings", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID: got %q, want req-42", got)
	}
}
