package background

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/retrace/kit"
	"github.com/hazyhaar/retrace/pagekey"
	"github.com/hazyhaar/retrace/protocol"
	"github.com/hazyhaar/retrace/settings"
)

// RegisterMCP registers the settings surface tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerGetSettingsTool(srv)
	s.registerUpdateSettingsTool(srv)
	s.registerDisableSiteTool(srv)
	s.registerRequestOverlayTool(srv)
	s.registerClearSnapshotsTool(srv)
}

// send dispatches env as if it came from tab and returns the raw reply.
func (s *Service) send(ctx context.Context, from protocol.Sender, t protocol.Type, payload any) (any, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	reply, err := s.router.Dispatch(ctx, from, protocol.Envelope{Type: t, Payload: raw})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

type siteToggle struct {
	Origin   string `json:"origin"`
	Disabled bool   `json:"disabled"`
}

func (s *Service) toggleSite(ctx context.Context, req siteToggle) (settings.Settings, error) {
	if pagekey.Origin(req.Origin) == "" {
		return settings.Settings{}, fmt.Errorf("background: invalid origin %q", req.Origin)
	}
	return s.settings.SetSiteDisabled(ctx, req.Origin, req.Disabled)
}

func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

// --- settings ---

type emptyReq struct{}

func (s *Service) registerGetSettingsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "retrace_get_settings",
		Description: "Return the current retrace settings record.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.send(ctx, protocol.Sender{}, protocol.GetSettings, nil)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[emptyReq])
}

func (s *Service) registerUpdateSettingsTool(srv *mcp.Server) {
	list := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	tool := &mcp.Tool{
		Name:        "retrace_update_settings",
		Description: "Merge a partial settings record over the current one. Lists replace the stored list.",
		InputSchema: kit.InputSchema(map[string]any{
			"enabled":      map[string]any{"type": "boolean"},
			"privacyMode":  map[string]any{"type": "boolean", "description": "Record snapshots without images"},
			"overlaySize":  map[string]any{"type": "string", "enum": []string{"small", "medium", "large"}},
			"allowlist":    list,
			"blocklist":    list,
			"siteDisabled": list,
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.send(ctx, protocol.Sender{}, protocol.UpdateSettings, req.(*settings.Patch))
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[settings.Patch])
}

func (s *Service) registerDisableSiteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "retrace_disable_site",
		Description: "Turn retrace off (or back on) for one site origin.",
		InputSchema: kit.InputSchema(map[string]any{
			"origin":   map[string]any{"type": "string", "description": "Site origin or any URL on it"},
			"disabled": map[string]any{"type": "boolean"},
		}, []string{"origin", "disabled"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.toggleSite(ctx, *req.(*siteToggle))
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[siteToggle])
}

// --- snapshots ---

type tabReq struct {
	TabID      int    `json:"tab_id"`
	CurrentURL string `json:"current_url"`
}

func (s *Service) registerRequestOverlayTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "retrace_request_overlay",
		Description: "Return the snapshot a tab's overlay would show for its current URL.",
		InputSchema: kit.InputSchema(map[string]any{
			"tab_id":      map[string]any{"type": "integer"},
			"current_url": map[string]any{"type": "string"},
		}, []string{"tab_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*tabReq)
		return s.send(ctx, protocol.Sender{TabID: r.TabID}, protocol.RequestOverlay,
			protocol.OverlayPayload{CurrentURL: r.CurrentURL})
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[tabReq])
}

func (s *Service) registerClearSnapshotsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "retrace_clear_snapshots",
		Description: "Empty a tab's snapshot history.",
		InputSchema: kit.InputSchema(map[string]any{
			"tab_id": map[string]any{"type": "integer"},
		}, []string{"tab_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.send(ctx, protocol.Sender{TabID: req.(*tabReq).TabID}, protocol.ClearSnapshots, nil)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[tabReq])
}
