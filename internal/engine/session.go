// Package engine hosts the session registry and the state/event
// tracking shared by both session kinds. Session implementations live
// in internal/terminal and internal/filebrowser; the registry only sees
// the Session interface.
package engine

// Status is a session's connection state. Disconnected is terminal;
// a new connect always produces a new session.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Kind distinguishes the two session variants.
type Kind string

const (
	KindTerminal    Kind = "terminal"
	KindFileBrowser Kind = "file_browser"
)

// Session is the registry's view of one live connection.
type Session interface {
	ID() string
	ServerID() uint
	Kind() Kind
	Status() Status

	// Close tears the session down: active transfers fail, pending
	// requests reject, the transport closes. Idempotent.
	Close()
}
