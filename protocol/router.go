package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/retrace/idgen"
	"github.com/hazyhaar/retrace/kit"
)

// Request is what a Handler receives.
type Request struct {
	From    Sender
	Type    Type
	Payload json.RawMessage
}

// Decode unmarshals the payload into dst. An empty payload leaves dst as is.
func (r Request) Decode(dst any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Payload, dst); err != nil {
		return &ErrBadPayload{Type: r.Type, Cause: err}
	}
	return nil
}

// Handler serves one request type. The returned value is marshalled as the
// reply; a returned error becomes a failed Response.
type Handler func(ctx context.Context, req Request) (any, error)

// Inbound is a request travelling on the bus together with its reply channel.
// Reply should be buffered so the router never blocks on a gone caller.
type Inbound struct {
	From     Sender
	Envelope Envelope
	Reply    chan<- json.RawMessage
}

// Router is the single dispatch point of the background context.
type Router struct {
	mu       sync.RWMutex
	handlers map[Type]kit.Endpoint
	mws      []kit.Middleware
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every handler registered afterwards.
func WithMiddleware(mws ...Middleware) Option {
	return func(r *Router) { r.mws = append(r.mws, mws...) }
}

// Middleware is kit.Middleware, re-exported for callers of WithMiddleware.
type Middleware = kit.Middleware

// NewRouter creates a Router with no handlers.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[Type]kit.Endpoint),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle registers h for t, replacing any previous handler. Registering a
// type outside the protocol panics.
func (r *Router) Handle(t Type, h Handler) {
	if !t.Valid() {
		panic(fmt.Sprintf("protocol: Handle: unknown type %q", t))
	}
	ep := func(ctx context.Context, req any) (any, error) {
		return h(ctx, req.(Request))
	}
	mws := append([]kit.Middleware{kit.Logging(r.logger, string(t))}, r.mws...)

	r.mu.Lock()
	r.handlers[t] = kit.Chain(mws...)(ep)
	r.mu.Unlock()
}

// Dispatch runs the handler for env and returns the marshalled reply. It
// always produces a reply: unknown types, handler errors and panics turn
// into a failed Response. The error return reports what went wrong for
// logging only.
func (r *Router) Dispatch(ctx context.Context, from Sender, env Envelope) (reply json.RawMessage, err error) {
	r.mu.RLock()
	ep, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		return mustMarshal(Fail(MsgUnknownType)), &ErrUnknownType{Type: env.Type}
	}

	ctx = kit.WithTabID(ctx, from.TabID)
	if kit.GetRequestID(ctx) == "" {
		ctx = kit.WithRequestID(ctx, idgen.New())
	}

	defer func() {
		if p := recover(); p != nil {
			reply = mustMarshal(Fail(fmt.Sprint(p)))
			err = fmt.Errorf("protocol: %s handler panicked: %v", env.Type, p)
		}
	}()

	resp, err := ep(ctx, Request{From: from, Type: env.Type, Payload: env.Payload})
	if err != nil {
		return mustMarshal(Fail(err.Error())), err
	}
	data, merr := json.Marshal(resp)
	if merr != nil {
		return mustMarshal(Fail("internal error")), fmt.Errorf("protocol: marshal %s reply: %w", env.Type, merr)
	}
	return data, nil
}

// Serve handles requests from in until ctx is done or in is closed. Each
// request runs on its own goroutine, so a slow handler does not hold up
// the others.
func (r *Router) Serve(ctx context.Context, in <-chan Inbound) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				reply, err := r.Dispatch(ctx, msg.From, msg.Envelope)
				if err != nil {
					r.logger.Debug("protocol: request failed", "type", msg.Envelope.Type, "tab", msg.From.TabID, "error", err)
				}
				select {
				case msg.Reply <- reply:
				default:
					r.logger.Debug("protocol: reply dropped", "type", msg.Envelope.Type, "tab", msg.From.TabID)
				}
			}()
		}
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
