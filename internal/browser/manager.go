// CLAUDE:SUMMARY Chrome lifecycle for the daemon: launch or connect via Rod, open stealth tabs, map tab and window IDs, capture the visible tab.
// Package browser is the platform layer: it drives Chrome through Rod and
// gives every open page a numeric tab ID and window ID, the way an extension
// host would.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// StealthLevel controls the browser automation mode.
type StealthLevel int

const (
	LevelHeadless StealthLevel = 1 // Rod headless + stealth
	LevelHeadful  StealthLevel = 2 // Rod headful + Xvfb
)

// ParseStealth maps a config value to a StealthLevel. Empty means headless.
func ParseStealth(s string) (StealthLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "headless":
		return LevelHeadless, nil
	case "headful":
		return LevelHeadful, nil
	}
	return 0, fmt.Errorf("browser: unknown stealth level %q", s)
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// ResourceBlocking lists resource types to block (fonts, media).
	// Images and stylesheets are needed for meaningful screenshots.
	ResourceBlocking []string

	Stealth StealthLevel

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Stealth == 0 {
		c.Stealth = LevelHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process and the tab registry.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
	nextTab int
	tabs    map[int]*Tab
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, tabs: make(map[int]*Tab)}
}

// Start launches Chrome, or connects to a remote instance.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	b, err := m.launch(ctx)
	if err != nil {
		return err
	}
	m.browser = b
	return nil
}

// Browser returns the current Rod browser handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Stealth == LevelHeadful {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if m.cfg.Stealth == LevelHeadful {
			l = l.Headless(false).Env("DISPLAY=" + m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "stealth", m.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// register assigns the next tab ID to t and looks up its window.
func (m *Manager) register(t *Tab) error {
	b := m.Browser()
	if b == nil {
		return fmt.Errorf("browser: no active browser")
	}
	res, err := proto.BrowserGetWindowForTarget{TargetID: t.Page.TargetID}.Call(b)
	if err != nil {
		return fmt.Errorf("browser: window for target: %w", err)
	}
	m.mu.Lock()
	m.nextTab++
	t.ID = m.nextTab
	t.WindowID = int(res.WindowID)
	m.tabs[t.ID] = t
	m.mu.Unlock()
	return nil
}

// Tab returns the open tab with the given ID.
func (m *Manager) Tab(id int) (*Tab, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[id]
	return t, ok
}

// CloseTab closes and forgets a tab.
func (m *Manager) CloseTab(id int) error {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return t.Close()
}

// CaptureVisibleTab brings tabID to the front of windowID and screenshots
// its viewport as a JPEG.
func (m *Manager) CaptureVisibleTab(ctx context.Context, tabID, windowID, quality int) ([]byte, error) {
	target, ok := m.Tab(tabID)
	if !ok {
		return nil, fmt.Errorf("no tab %d", tabID)
	}
	if target.WindowID != windowID {
		return nil, fmt.Errorf("tab %d is not in window %d", tabID, windowID)
	}

	page := target.Page.Context(ctx)
	if _, err := page.Activate(); err != nil {
		m.cfg.Logger.Warn("browser: activate tab", "tab", tabID, "error", err)
	}
	img, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return nil, fmt.Errorf("capture tab %d: %w", tabID, err)
	}
	return img, nil
}

// Close closes every tab and shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, t := range m.tabs {
		t.Close()
		delete(m.tabs, id)
	}
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return nil
}
