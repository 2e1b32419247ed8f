package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/retrace/settings"
)

// DefaultTimeout bounds how long a Client waits for a reply.
const DefaultTimeout = 5 * time.Second

// Client sends requests from one page context onto the bus.
type Client struct {
	bus     chan<- Inbound
	from    Sender
	timeout time.Duration
}

// NewClient creates a Client that sends as from.
func NewClient(bus chan<- Inbound, from Sender, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{bus: bus, from: from, timeout: timeout}
}

// Send issues one request and decodes the reply into out (which may be nil).
// It returns *ErrNoResponse when the request could not be delivered or no
// reply came back in time.
func (c *Client) Send(ctx context.Context, t Type, payload, out any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("protocol: marshal %s payload: %w", t, err)
		}
		raw = data
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	reply := make(chan json.RawMessage, 1)
	select {
	case c.bus <- Inbound{From: c.from, Envelope: Envelope{Type: t, Payload: raw}, Reply: reply}:
	case <-timer.C:
		return &ErrNoResponse{Type: t}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case data := <-reply:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("protocol: decode %s reply: %w", t, err)
		}
		return nil
	case <-timer.C:
		return &ErrNoResponse{Type: t}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSettings fetches the settings record.
func (c *Client) GetSettings(ctx context.Context) (settings.Settings, error) {
	var s settings.Settings
	err := c.Send(ctx, GetSettings, nil, &s)
	return s, err
}

// UpdateSettings merges p into the stored settings.
func (c *Client) UpdateSettings(ctx context.Context, p settings.Patch) (settings.Settings, error) {
	var s settings.Settings
	err := c.Send(ctx, UpdateSettings, p, &s)
	return s, err
}

// CapturePreviousPage asks the background to capture the page before it is left.
func (c *Client) CapturePreviousPage(ctx context.Context, pageURL, title string) (Response, error) {
	var r Response
	err := c.Send(ctx, CapturePreviousPage, CapturePayload{URL: pageURL, Title: title}, &r)
	return r, err
}

// RequestOverlay asks for the snapshot to show on currentURL.
func (c *Client) RequestOverlay(ctx context.Context, currentURL string) (Response, error) {
	var r Response
	err := c.Send(ctx, RequestOverlay, OverlayPayload{CurrentURL: currentURL}, &r)
	return r, err
}

// ClearSnapshots empties the sender tab's history.
func (c *Client) ClearSnapshots(ctx context.Context) (Response, error) {
	var r Response
	err := c.Send(ctx, ClearSnapshots, nil, &r)
	return r, err
}
