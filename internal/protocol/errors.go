package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers of session operations.
var (
	// ErrSessionClosed is returned by any operation on a disconnected
	// session, and is the rejection value for pending requests when a
	// session is torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrTimeout is the rejection value for a pending request that
	// outlived its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrDuplicateRequest is returned when a caller issues a second
	// request for a resource key that already has one outstanding.
	ErrDuplicateRequest = errors.New("duplicate request for pending key")

	// ErrTransferAborted is returned when a file transfer was cancelled
	// or failed mid-chunk. The session itself stays connected.
	ErrTransferAborted = errors.New("transfer aborted")

	// ErrUploadInProgress is returned when an upload is requested while
	// another upload owns the session's outbound binary channel.
	ErrUploadInProgress = errors.New("upload already in progress")

	// ErrTransferInProgress is returned when an upload and a download
	// would overlap on one session; the engine serializes them so every
	// binary frame has an unambiguous owner.
	ErrTransferInProgress = errors.New("another transfer is in progress")
)

// TransportError wraps a connection-level failure: connect refused,
// mid-session close, or a failed frame write. It always terminates the
// session and is never retried by the engine.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError carries an error message reported by the backend in a
// structured `error` frame, kept distinct from TransportError so callers
// can tell "the proxy rejected this" from "the network dropped".
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string { return e.Message }

// ProtocolError marks a malformed or unexpected message. A single
// ProtocolError is logged and the frame dropped; it never terminates an
// otherwise healthy session.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }
