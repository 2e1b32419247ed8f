package browser

import (
	"fmt"
	"os/exec"
	"time"
)

// xvfbScreen bounds what a visible-tab capture can show in headful mode.
const xvfbScreen = "1366x768x24"

func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", xvfbScreen, "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start Xvfb on %s: %w", display, err)
	}
	m.xvfb = cmd
	// Chrome fails to open the display if it is not accepting yet.
	time.Sleep(500 * time.Millisecond)
	m.cfg.Logger.Info("browser: xvfb up", "display", display, "screen", xvfbScreen, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	cmd := m.xvfb
	if cmd == nil {
		return
	}
	m.xvfb = nil
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb down", "display", m.cfg.XvfbDisplay)
}
