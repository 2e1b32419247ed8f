// Package protocol is the message protocol between page contexts and the
// background context. Requests form a closed set of tagged types; every
// request gets exactly one response.
//
//	router := protocol.NewRouter()
//	router.Handle(protocol.RequestOverlay, svc.requestOverlay)
//	go router.Serve(ctx, bus)
//
//	client := protocol.NewClient(bus, protocol.Sender{TabID: 7}, 5*time.Second)
//	resp, err := client.RequestOverlay(ctx, "https://example.com/item")
//
// A client that hears nothing back within its timeout gets ErrNoResponse,
// which callers treat as "feature unavailable" rather than a user-facing error.
package protocol

import (
	"encoding/json"

	"github.com/hazyhaar/retrace/snapshot"
)

// Type tags a request.
type Type string

const (
	GetSettings         Type = "GET_SETTINGS"
	UpdateSettings      Type = "UPDATE_SETTINGS"
	CapturePreviousPage Type = "CAPTURE_PREVIOUS_PAGE"
	RequestOverlay      Type = "REQUEST_OVERLAY"
	ClearSnapshots      Type = "CLEAR_SNAPSHOTS"
)

// Types lists every request type in the protocol.
var Types = []Type{GetSettings, UpdateSettings, CapturePreviousPage, RequestOverlay, ClearSnapshots}

// Valid reports whether t is part of the protocol.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Failure messages carried in Response.Error.
const (
	MsgNoTabContext = "No tab context"
	MsgBlocked      = "Blocked by settings"
	MsgNoSnapshot   = "No snapshot"
	MsgUnknownType  = "Unknown message type"
)

// Envelope is a request on the wire.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CapturePayload is the CAPTURE_PREVIOUS_PAGE request body.
type CapturePayload struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// OverlayPayload is the REQUEST_OVERLAY request body.
type OverlayPayload struct {
	CurrentURL string `json:"currentUrl"`
}

// Sender identifies the page context a request came from. The host fills
// it in; it is never part of the payload.
type Sender struct {
	TabID    int  `json:"tabId,omitempty"`
	WindowID *int `json:"windowId,omitempty"`
}

// HasTab reports whether the request carries a tab.
func (s Sender) HasTab() bool { return s.TabID > 0 }

// HasWindow reports whether the request carries both a tab and a window.
func (s Sender) HasWindow() bool { return s.HasTab() && s.WindowID != nil }

// Response is the reply to every request except the settings requests,
// which reply with the settings record itself.
type Response struct {
	OK          bool                   `json:"ok"`
	Error       string                 `json:"error,omitempty"`
	PrivacyMode bool                   `json:"privacyMode,omitempty"`
	Snapshot    *snapshot.PageSnapshot `json:"snapshot,omitempty"`
}

// Fail builds a failed Response.
func Fail(msg string) Response { return Response{OK: false, Error: msg} }
