// Package background is the process-wide context: it owns screenshot
// capture, the settings record and per-tab snapshot history, and serves
// page contexts only through protocol messages.
package background

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/retrace/protocol"
	"github.com/hazyhaar/retrace/settings"
	"github.com/hazyhaar/retrace/snapshot"
)

// TabCounter reports how many tabs are attached, for /health.
type TabCounter interface {
	Count() int
}

// Service registers the protocol handlers of the background context.
type Service struct {
	settings  *settings.Cache
	snapshots *snapshot.Manager
	router    *protocol.Router
	tabs      TabCounter
	token     string
	logger    *slog.Logger
}

// Config wires a Service.
type Config struct {
	Settings  *settings.Cache
	Snapshots *snapshot.Manager
	Router    *protocol.Router
	Tabs      TabCounter // optional
	Token     string     // bearer token for the HTTP surface; empty disables the check
	Logger    *slog.Logger
}

// New creates a Service and registers every handler on cfg.Router.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Service{
		settings:  cfg.Settings,
		snapshots: cfg.Snapshots,
		router:    cfg.Router,
		tabs:      cfg.Tabs,
		token:     cfg.Token,
		logger:    cfg.Logger,
	}
	s.router.Handle(protocol.GetSettings, s.getSettings)
	s.router.Handle(protocol.UpdateSettings, s.updateSettings)
	s.router.Handle(protocol.CapturePreviousPage, s.capturePreviousPage)
	s.router.Handle(protocol.RequestOverlay, s.requestOverlay)
	s.router.Handle(protocol.ClearSnapshots, s.clearSnapshots)
	return s
}

// Router returns the router the handlers are registered on.
func (s *Service) Router() *protocol.Router { return s.router }

func (s *Service) getSettings(ctx context.Context, _ protocol.Request) (any, error) {
	return s.settings.Settings(ctx)
}

func (s *Service) updateSettings(ctx context.Context, req protocol.Request) (any, error) {
	var p settings.Patch
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	return s.settings.Update(ctx, p)
}

func (s *Service) capturePreviousPage(ctx context.Context, req protocol.Request) (any, error) {
	if !req.From.HasWindow() {
		return protocol.Fail(protocol.MsgNoTabContext), nil
	}
	var p protocol.CapturePayload
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	snap, err := s.snapshots.CaptureRequest(ctx, req.From.TabID, *req.From.WindowID, p.URL, p.Title)
	if errors.Is(err, snapshot.ErrBlocked) {
		return protocol.Fail(protocol.MsgBlocked), nil
	}
	if err != nil {
		return nil, err
	}
	if snap.Error != nil && *snap.Error == snapshot.PrivacyModeError {
		return protocol.Response{OK: true, PrivacyMode: true}, nil
	}
	return protocol.Response{OK: true}, nil
}

func (s *Service) requestOverlay(ctx context.Context, req protocol.Request) (any, error) {
	if !req.From.HasTab() {
		return protocol.Fail(protocol.MsgNoTabContext), nil
	}
	var p protocol.OverlayPayload
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	snap, err := s.snapshots.SelectSnapshot(ctx, req.From.TabID, p.CurrentURL)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return protocol.Fail(protocol.MsgNoSnapshot), nil
	}
	return protocol.Response{OK: true, Snapshot: snap}, nil
}

func (s *Service) clearSnapshots(ctx context.Context, req protocol.Request) (any, error) {
	if !req.From.HasTab() {
		return protocol.Fail(protocol.MsgNoTabContext), nil
	}
	if err := s.snapshots.ClearHistory(ctx, req.From.TabID); err != nil {
		return nil, err
	}
	return protocol.Response{OK: true}, nil
}

// TabClosed drops the history of a closed tab.
func (s *Service) TabClosed(ctx context.Context, tabID int) {
	if err := s.snapshots.Forget(ctx, tabID); err != nil {
		s.logger.Warn("background: forget tab", "tab", tabID, "error", err)
	}
}
