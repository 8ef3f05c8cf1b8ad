package mud

import (
	"errors"
	"fmt"
)

// Sentinel errors for routing and state failures. All are non-fatal to the
// process; they surface to the user as command results or error dialogs.
var (
	ErrNotConnected  = errors.New("session is not connected")
	ErrNoSuchSession = errors.New("no such session")
	ErrNoSuchMud     = errors.New("no such MUD")
	ErrNoSuchBuffer  = errors.New("no such buffer name")
	ErrDuplicateName = errors.New("name already in use")
)

// TelnetError is a codec invariant violation. Fatal for the connection that
// produced it, but not for the app.
type TelnetError struct {
	Reason string
}

func (e *TelnetError) Error() string {
	return fmt.Sprintf("telnet: %s", e.Reason)
}

// GmcpError is a per-message GMCP failure (invalid UTF-8, invalid JSON, or
// a state violation). The offending payload is dropped.
type GmcpError struct {
	Reason string
}

func (e *GmcpError) Error() string {
	return fmt.Sprintf("gmcp: %s", e.Reason)
}

// ScriptError wraps a failure from a script callback or handler. Reported
// to the user, never fatal.
type ScriptError struct {
	Context string
	Err     error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Context, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// InternalError is an invariant violation in the coordinator or a session.
// The only error kind that is fatal to the process.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal: %s", e.Reason)
}
