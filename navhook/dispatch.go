package navhook

import (
	"context"
	"log/slog"
	"sync"
)

// Handler receives dispatched signals.
type Handler interface {
	BeforeNavigate(ctx context.Context, s Signal)
	AfterNavigate(ctx context.Context, s Signal)
	LinkClick(ctx context.Context, s Signal)
	FieldChanged(ctx context.Context, s Signal)
}

// Dispatcher routes binding payloads to a Handler, dropping replays. A
// signal is a replay when it comes from the current document with a
// sequence number already seen.
type Dispatcher struct {
	h      Handler
	logger *slog.Logger

	mu   sync.Mutex
	doc  string
	last uint64
}

// NewDispatcher creates a Dispatcher. A nil logger means slog.Default().
func NewDispatcher(h Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{h: h, logger: logger}
}

// Dispatch parses payload and hands it to the Handler. It reports whether
// the signal was delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, payload string) bool {
	s, err := Parse(payload)
	if err != nil {
		d.logger.Warn("navhook: bad signal", "error", err)
		return false
	}
	if !d.claim(s) {
		d.logger.Debug("navhook: replayed signal dropped", "kind", s.Kind, "seq", s.Seq)
		return false
	}

	switch s.Phase {
	case PhaseBefore:
		if s.Kind == KindClick {
			d.h.LinkClick(ctx, s)
		} else {
			d.h.BeforeNavigate(ctx, s)
		}
	case PhaseAfter:
		d.h.AfterNavigate(ctx, s)
	case PhaseField:
		d.h.FieldChanged(ctx, s)
	}
	return true
}

func (d *Dispatcher) claim(s Signal) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.Doc != d.doc {
		d.doc = s.Doc
		d.last = 0
	}
	if s.Seq <= d.last {
		return false
	}
	d.last = s.Seq
	return true
}
