// CLAUDE:SUMMARY Wires SQLite storage, Chrome, the background service and one page agent per tab; owns start/stop.
// Package daemon wires the browser, the background context and one page
// agent per tab into a running retrace instance.
package daemon

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/retrace/background"
	"github.com/hazyhaar/retrace/dbopen"
	"github.com/hazyhaar/retrace/formstate"
	"github.com/hazyhaar/retrace/internal/browser"
	"github.com/hazyhaar/retrace/internal/config"
	"github.com/hazyhaar/retrace/kvstore"
	"github.com/hazyhaar/retrace/pageagent"
	"github.com/hazyhaar/retrace/protocol"
	"github.com/hazyhaar/retrace/settings"
	"github.com/hazyhaar/retrace/snapshot"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

type attached struct {
	tab    *browser.Tab
	agent  *pageagent.Agent
	cancel context.CancelFunc
	done   chan struct{}
}

// Daemon is one retrace instance.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	mgr    *browser.Manager

	db       *sql.DB
	kv       *kvstore.Store
	settings *settings.Store
	svc      *background.Service
	mcp      *mcp.Server
	bus      chan protocol.Inbound

	mu   sync.Mutex
	tabs map[int]*attached
}

// New creates a Daemon from configuration. Call Start to run it.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stealth, err := browser.ParseStealth(cfg.Browser.Stealth)
	if err != nil {
		return nil, err
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          stealth,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	return &Daemon{
		cfg:    cfg,
		logger: logger,
		mgr:    mgr,
		bus:    make(chan protocol.Inbound),
		tabs:   make(map[int]*attached),
	}, nil
}

// OpenStore opens the durable SQLite store and picks the session backend.
// With session "durable", session keys fall back to SQLite and survive
// restarts.
func OpenStore(cfg config.StoreConfig, logger *slog.Logger) (*sql.DB, *kvstore.Store, error) {
	db, err := dbopen.Open(cfg.Path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, nil, err
	}
	durable, err := kvstore.NewSQLite(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	opts := []kvstore.Option{kvstore.WithLogger(logger)}
	if cfg.Session == "memory" {
		opts = append(opts, kvstore.WithSession(kvstore.NewMemory()))
	}
	return db, kvstore.New(durable, opts...), nil
}

// Start opens storage, launches the browser, starts the background
// context and attaches an agent to every configured tab.
func (d *Daemon) Start(ctx context.Context) error {
	db, kv, err := OpenStore(d.cfg.Store, d.logger)
	if err != nil {
		return fmt.Errorf("daemon: open store: %w", err)
	}
	d.db, d.kv = db, kv
	d.settings = settings.NewStore(kv)

	bgSettings := settings.NewCache(d.settings)
	snaps := snapshot.NewManager(kv, d.mgr, bgSettings,
		snapshot.WithCapacity(d.cfg.Snapshots.Capacity),
		snapshot.WithQuality(d.cfg.Snapshots.JPEGQuality),
		snapshot.WithLogger(d.logger),
	)
	d.svc = background.New(background.Config{
		Settings:  bgSettings,
		Snapshots: snaps,
		Router:    protocol.NewRouter(protocol.WithLogger(d.logger)),
		Tabs:      d,
		Token:     d.cfg.HTTP.Token,
		Logger:    d.logger,
	})
	d.mcp = mcp.NewServer(&mcp.Implementation{Name: "retrace", Version: Version}, nil)
	d.svc.RegisterMCP(d.mcp)

	if err := d.mgr.Start(ctx); err != nil {
		return fmt.Errorf("daemon: start browser: %w", err)
	}
	go d.svc.Router().Serve(ctx, d.bus)

	for _, t := range d.cfg.Tabs {
		if _, err := d.OpenTab(ctx, t.URL); err != nil {
			d.logger.Error("daemon: failed to open tab", "url", t.URL, "error", err)
		}
	}
	return nil
}

// Handler returns the settings surface served over HTTP.
func (d *Daemon) Handler() http.Handler {
	return d.svc.Handler(d.mcp)
}

// OpenTab opens pageURL in a new tab and attaches a page agent to it.
func (d *Daemon) OpenTab(ctx context.Context, pageURL string) (int, error) {
	tab, err := d.mgr.OpenTab(ctx, pageURL)
	if err != nil {
		return 0, err
	}

	window := tab.WindowID
	pageSettings := settings.NewCache(d.settings)
	agent := pageagent.New(pageagent.Config{
		Tab:          tab,
		Client:       protocol.NewClient(d.bus, protocol.Sender{TabID: tab.ID, WindowID: &window}, d.cfg.Protocol.Timeout),
		Forms:        formstate.NewStore(d.kv, pageSettings, d.logger),
		Settings:     pageSettings,
		Debounce:     d.cfg.Forms.Debounce,
		RestoreDelay: d.cfg.Forms.RestoreDelay,
		ScrollDelay:  d.cfg.Forms.ScrollDelay,
		Logger:       d.logger.With("tab", tab.ID),
	})

	actx, cancel := context.WithCancel(ctx)
	a := &attached{tab: tab, agent: agent, cancel: cancel, done: make(chan struct{})}
	d.mu.Lock()
	d.tabs[tab.ID] = a
	d.mu.Unlock()

	go func() {
		defer close(a.done)
		if err := agent.Run(actx); err != nil {
			d.logger.Error("daemon: agent stopped", "tab", tab.ID, "error", err)
		}
	}()
	d.logger.Info("daemon: tab attached", "tab", tab.ID, "window", tab.WindowID, "url", pageURL)
	return tab.ID, nil
}

// CloseTab detaches the agent, closes the tab and drops its history.
func (d *Daemon) CloseTab(ctx context.Context, id int) error {
	d.mu.Lock()
	a, ok := d.tabs[id]
	delete(d.tabs, id)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("daemon: no tab %d", id)
	}
	a.cancel()
	<-a.done
	err := d.mgr.CloseTab(id)
	d.svc.TabClosed(ctx, id)
	return err
}

// Count reports the number of attached tabs.
func (d *Daemon) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tabs)
}

// Stop detaches every agent and shuts down the browser and the store.
func (d *Daemon) Stop() {
	d.mu.Lock()
	tabs := d.tabs
	d.tabs = make(map[int]*attached)
	d.mu.Unlock()

	for id, a := range tabs {
		a.cancel()
		<-a.done
		d.logger.Info("daemon: tab detached", "tab", id)
	}
	d.mgr.Close()
	if d.db != nil {
		d.db.Close()
	}
}
