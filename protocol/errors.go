package protocol

import "fmt"

// ErrUnknownType is returned when a request's type is not in the protocol
// or has no registered handler.
type ErrUnknownType struct {
	Type Type
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("protocol: unknown message type %q", e.Type)
}

// ErrNoResponse is returned by a Client when no reply arrived in time.
type ErrNoResponse struct {
	Type Type
}

func (e *ErrNoResponse) Error() string {
	return fmt.Sprintf("protocol: no response to %s", e.Type)
}

// ErrBadPayload is returned when a request payload does not decode.
type ErrBadPayload struct {
	Type  Type
	Cause error
}

func (e *ErrBadPayload) Error() string {
	return fmt.Sprintf("protocol: bad %s payload: %v", e.Type, e.Cause)
}

func (e *ErrBadPayload) Unwrap() error { return e.Cause }
