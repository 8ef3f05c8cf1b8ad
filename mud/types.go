// Package mud holds the shared model types for the client core: session
// identity, received and sent lines, and the per-MUD connection descriptor.
package mud

import (
	"fmt"
	"strings"
)

// SessionId identifies a session. Ids are assigned monotonically by the app
// coordinator and never reused within a process lifetime.
type SessionId uint32

// SessionInfo pairs a session id with the name of the MUD it is bound to.
type SessionInfo struct {
	ID      SessionId
	MudName string
}

func (s SessionInfo) String() string {
	return fmt.Sprintf("Session(%d, %s)", s.ID, s.MudName)
}

// Tls describes how a MUD connection is (or isn't) encrypted.
type Tls int

const (
	TlsDisabled Tls = iota
	TlsEnabled
	// TlsInsecureSkipVerify enables TLS but accepts any certificate. The
	// skipped verification is surfaced on the ConnectionInfo so the UI can
	// flag it.
	TlsInsecureSkipVerify
)

func (t Tls) String() string {
	switch t {
	case TlsEnabled:
		return "enabled"
	case TlsInsecureSkipVerify:
		return "insecure-skip-verify"
	default:
		return "disabled"
	}
}

// UnmarshalText parses the TOML representation of a Tls mode.
func (t *Tls) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "disabled":
		*t = TlsDisabled
	case "enabled":
		*t = TlsEnabled
	case "insecure-skip-verify", "insecureskipverify":
		*t = TlsInsecureSkipVerify
	default:
		return fmt.Errorf("unknown tls mode %q", text)
	}
	return nil
}

// MarshalText renders the TOML representation of a Tls mode.
func (t Tls) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Mud describes a game server and the per-session settings used when
// connecting to it.
type Mud struct {
	Name string `toml:"name"`
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
	Tls  Tls    `toml:"tls"`

	// NoTcpKeepalive disables the keepalive probes configured on connect.
	NoTcpKeepalive bool `toml:"no_tcp_keepalive"`

	// HoldPrompt records detected prompts as held-prompt items instead of
	// ordinary prompt items; the TUI shows a held prompt on its prompt row
	// rather than in the scrollback. Each one is appended to the output
	// buffer like any other item, and earlier held prompts stay in it.
	// Defaults to on.
	HoldPrompt *bool `toml:"hold_prompt"`

	// EchoInput appends sent input lines to the output buffer. Defaults to
	// on.
	EchoInput *bool `toml:"echo_input"`

	// DebugGmcp echoes received GMCP messages as debug output items.
	DebugGmcp bool `toml:"debug_gmcp"`

	// CommandSeparator overrides the global separator used to split one
	// input line into multiple commands. Empty means use the default.
	CommandSeparator string `toml:"command_separator"`
}

func (m Mud) String() string {
	return fmt.Sprintf("%s (%s:%d)", m.Name, m.Host, m.Port)
}

// HoldPromptEnabled resolves the hold_prompt setting, on when unset.
func (m Mud) HoldPromptEnabled() bool {
	return m.HoldPrompt == nil || *m.HoldPrompt
}

// EchoInputEnabled resolves the echo_input setting, on when unset.
func (m Mud) EchoInputEnabled() bool {
	return m.EchoInput == nil || *m.EchoInput
}

// ConnectionInfo describes an established connection.
type ConnectionInfo struct {
	IP   string
	Port uint16
	Tls  bool
	// VerifySkipped is true when the connection is TLS but certificate
	// verification was skipped.
	VerifySkipped bool
}

func (i ConnectionInfo) String() string {
	scheme := "telnet"
	if i.Tls {
		scheme = "telnets"
		if i.VerifySkipped {
			scheme = "telnets(unverified)"
		}
	}
	return fmt.Sprintf("%s://%s:%d", scheme, i.IP, i.Port)
}

// MudLine is a line received from the game. Raw preserves ANSI escape
// sequences exactly as received.
type MudLine struct {
	Raw []byte

	// Prompt marks a line that was interpreted as a prompt rather than a
	// terminated line.
	Prompt bool

	// Gag suppresses display of the line.
	Gag bool
}

// NewMudLine wraps raw bytes as a received line.
func NewMudLine(raw []byte) MudLine {
	return MudLine{Raw: raw}
}

// PromptLine wraps raw bytes as a prompt line.
func PromptLine(raw []byte) MudLine {
	return MudLine{Raw: raw, Prompt: true}
}

func (l MudLine) String() string {
	return string(l.Raw)
}

// Stripped returns the line text with ANSI escape sequences removed.
func (l MudLine) Stripped() string {
	return StripANSI(string(l.Raw))
}

// EchoState controls how typed input is displayed.
type EchoState int

const (
	EchoNormal EchoState = iota
	// EchoPassword obscures the input for display. Password lines are never
	// retained in history.
	EchoPassword
)

func (e EchoState) String() string {
	if e == EchoPassword {
		return "password"
	}
	return "normal"
}

// InputLine is a line of outgoing input.
type InputLine struct {
	// Sent is the text that will be (or was) transmitted.
	Sent string

	// Original holds the pre-alias text when an alias rewrote the line.
	// Empty when the line was not rewritten.
	Original string

	Echo EchoState

	// Scripted is true when the line originated from a script rather than
	// user keystrokes.
	Scripted bool
}

// NewInputLine creates an input line typed by the user.
func NewInputLine(sent string, echo EchoState) InputLine {
	return InputLine{Sent: sent, Echo: echo}
}

// ScriptedLine creates an input line originated by a script.
func ScriptedLine(sent string) InputLine {
	return InputLine{Sent: sent, Scripted: true}
}

// OriginalText returns the pre-alias text, falling back to the sent text
// when no alias rewrote the line.
func (l InputLine) OriginalText() string {
	if l.Original != "" {
		return l.Original
	}
	return l.Sent
}

// Masked returns the display form of the line, obscured for password echo.
func (l InputLine) Masked() string {
	if l.Echo == EchoPassword {
		return strings.Repeat("*", len([]rune(l.Sent)))
	}
	return l.Sent
}

// StripANSI removes ANSI escape codes from a string.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}
