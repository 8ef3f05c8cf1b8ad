// Package command defines the tagged commands scripts (and other front
// ends) send to the app coordinator. Write operations are fire-and-forget;
// read operations carry a one-shot reply channel.
package command

import (
	"github.com/drake/mudlark/config"
	"github.com/drake/mudlark/mud"
	"github.com/drake/mudlark/session"
)

// Command is a request for the app coordinator.
type Command interface {
	command()
}

// --- Session lifecycle ---

// NewSession creates a session for a configured character. When Connect is
// set the session dials immediately. Reply, if non-nil, receives the result.
type NewSession struct {
	Character string
	Connect   bool
	Reply     chan NewSessionResult
}

// NewSessionResult reports the created session or the failure.
type NewSessionResult struct {
	ID  mud.SessionId
	Err error
}

// Connect dials a session's MUD.
type Connect struct {
	Session mud.SessionId
}

// Disconnect cleanly closes a session's connection.
type Disconnect struct {
	Session mud.SessionId
}

// CloseSession destroys a session, aborting its connection task.
type CloseSession struct {
	Session mud.SessionId
}

// SetActiveSession changes which session has focus.
type SetActiveSession struct {
	Session mud.SessionId
}

// --- Input/output ---

// SendLine transmits text through a session, optionally skipping aliases.
type SendLine struct {
	Session     mud.SessionId
	Text        string
	SkipAliases bool
	Scripted    bool
}

// SetInput replaces a session's input line.
type SetInput struct {
	Session mud.SessionId
	Text    string
	Cursor  int
}

// GetInput reads a session's input line.
type GetInput struct {
	Session mud.SessionId
	Reply   chan InputState
}

// InputState is the reply to GetInput.
type InputState struct {
	Text   string
	Cursor int
}

// Output appends an item to a session's buffer.
type Output struct {
	Session mud.SessionId
	Buffer  string
	Item    session.OutputItem
}

// --- Prompt ---

// GetPrompt reads a session's current prompt content.
type GetPrompt struct {
	Session mud.SessionId
	Reply   chan string
}

// SetPrompt replaces a session's prompt content.
type SetPrompt struct {
	Session mud.SessionId
	Text    string
}

// SetPromptMode switches a session's prompt detection mode.
type SetPromptMode struct {
	Session mud.SessionId
	Mode    session.PromptMode
}

// --- Telnet / GMCP ---

// RequestOption asks the peer to enable or disable a telnet option.
type RequestOption struct {
	Session mud.SessionId
	Option  byte
	Enable  bool
}

// SendSubnegotiation transmits a raw subnegotiation.
type SendSubnegotiation struct {
	Session mud.SessionId
	Option  byte
	Data    []byte
}

// GmcpRegister registers a GMCP package.
type GmcpRegister struct {
	Session mud.SessionId
	Package string
}

// GmcpUnregister removes a GMCP package registration.
type GmcpUnregister struct {
	Session mud.SessionId
	Package string
}

// GmcpSend transmits a GMCP message.
type GmcpSend struct {
	Session mud.SessionId
	Package string
	JSON    string
}

// --- Triggers / aliases / timers ---

// AddTrigger appends a trigger to a session.
type AddTrigger struct {
	Session mud.SessionId
	Trigger *session.Trigger
}

// RemoveTrigger deletes a trigger by name.
type RemoveTrigger struct {
	Session mud.SessionId
	Name    string
}

// SetTriggerEnabled toggles a trigger.
type SetTriggerEnabled struct {
	Session mud.SessionId
	Name    string
	Enabled bool
}

// AddAlias appends an alias to a session.
type AddAlias struct {
	Session mud.SessionId
	Alias   *session.Alias
}

// RemoveAlias deletes an alias by name.
type RemoveAlias struct {
	Session mud.SessionId
	Name    string
}

// SetAliasEnabled toggles an alias.
type SetAliasEnabled struct {
	Session mud.SessionId
	Name    string
	Enabled bool
}

// AddTimer registers a timer, optionally starting it immediately.
type AddTimer struct {
	Session mud.SessionId
	Timer   *session.Timer
	Start   bool
}

// RemoveTimer stops and deletes a timer.
type RemoveTimer struct {
	Session mud.SessionId
	Name    string
}

// StartTimer starts a registered timer.
type StartTimer struct {
	Session mud.SessionId
	Name    string
}

// StopTimer stops a registered timer.
type StopTimer struct {
	Session mud.SessionId
	Name    string
}

// --- Buffers ---

// CreateBuffer adds a named extra buffer to a session.
type CreateBuffer struct {
	Session mud.SessionId
	Name    string
}

// RemoveBuffer deletes a named extra buffer.
type RemoveBuffer struct {
	Session mud.SessionId
	Name    string
}

// --- Coordinator ---

// SetSlashCommand registers a scripted "/name" command. Fn runs on the
// coordinator loop with the active session and the argument text.
type SetSlashCommand struct {
	Name string
	Fn   func(id mud.SessionId, args string) error
}

// RemoveSlashCommand unregisters a scripted slash command.
type RemoveSlashCommand struct {
	Name string
}

// ReloadScripts tears down and re-runs the script runtime.
type ReloadScripts struct{}

// GetConfig reads the live configuration.
type GetConfig struct {
	Reply chan *config.Config
}

// SetGlobalShortcut binds a key chord to a shortcut action.
type SetGlobalShortcut struct {
	Key    string
	Action string
}

// Quit shuts the app down cleanly.
type Quit struct{}

func (NewSession) command()         {}
func (Connect) command()            {}
func (Disconnect) command()         {}
func (CloseSession) command()       {}
func (SetActiveSession) command()   {}
func (SendLine) command()           {}
func (SetInput) command()           {}
func (GetInput) command()           {}
func (Output) command()             {}
func (GetPrompt) command()          {}
func (SetPrompt) command()          {}
func (SetPromptMode) command()      {}
func (RequestOption) command()      {}
func (SendSubnegotiation) command() {}
func (GmcpRegister) command()       {}
func (GmcpUnregister) command()     {}
func (GmcpSend) command()           {}
func (AddTrigger) command()         {}
func (RemoveTrigger) command()      {}
func (SetTriggerEnabled) command()  {}
func (AddAlias) command()           {}
func (RemoveAlias) command()        {}
func (SetAliasEnabled) command()    {}
func (AddTimer) command()           {}
func (RemoveTimer) command()        {}
func (StartTimer) command()         {}
func (StopTimer) command()          {}
func (CreateBuffer) command()       {}
func (RemoveBuffer) command()       {}
func (SetSlashCommand) command()    {}
func (RemoveSlashCommand) command() {}
func (ReloadScripts) command()      {}
func (GetConfig) command()          {}
func (SetGlobalShortcut) command()  {}
func (Quit) command()               {}
