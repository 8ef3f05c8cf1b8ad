// Package session implements the per-connection engine: the session actor
// coordinating the telnet codec and negotiation table, GMCP state, prompt
// detection, trigger/alias evaluation, timers, and output buffering.
package session

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/drake/mudlark/event"
	"github.com/drake/mudlark/gmcp"
	"github.com/drake/mudlark/mud"
	"github.com/drake/mudlark/network"
	"github.com/drake/mudlark/telnet"
)

// DefaultCommandSeparator splits one input line into multiple commands.
const DefaultCommandSeparator = ";;"

// ClientName is sent in the GMCP Core.Hello handshake.
const ClientName = "mudlark"

// ConnState is the connection lifecycle state of a session.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Hooks connect a session to its surroundings. Emit fans an event out to
// script handlers; Schedule queues a script callback onto the coordinator
// loop, where its error (if any) is reported to the user.
type Hooks struct {
	Emit     func(event.Event)
	Schedule func(func() error)
}

// Session is the actor owning everything for one connection. All methods
// must be called from the coordinator loop; the session shares no state
// with other sessions.
type Session struct {
	info    mud.SessionInfo
	mudCfg  mud.Mud
	sep     string
	version string

	state    ConnState
	connInfo *mud.ConnectionInfo
	conn     *network.Conn
	// netEvents is the coordinator's inbound connection-event channel,
	// handed to each connection task this session spawns.
	netEvents chan<- network.Event

	table  *telnet.Table
	gmcp   *gmcp.State
	prompt *Prompt
	input  *Input
	output *Buffer
	extra  map[string]*Buffer

	triggers *Triggers
	aliases  *Aliases
	timers   map[string]*Timer

	hooks Hooks
}

// New creates a disconnected session bound to a MUD.
func New(info mud.SessionInfo, mudCfg mud.Mud, version string, netEvents chan<- network.Event, hooks Hooks) *Session {
	sep := mudCfg.CommandSeparator
	if sep == "" {
		sep = DefaultCommandSeparator
	}
	return &Session{
		info:      info,
		mudCfg:    mudCfg,
		sep:       sep,
		version:   version,
		netEvents: netEvents,
		gmcp:      gmcp.NewState(),
		prompt:    NewPrompt(),
		input:     NewInput(),
		output:    NewBuffer("output"),
		extra:     make(map[string]*Buffer),
		triggers:  &Triggers{},
		aliases:   &Aliases{},
		timers:    make(map[string]*Timer),
		hooks:     hooks,
	}
}

// Info returns the session identity.
func (s *Session) Info() mud.SessionInfo {
	return s.info
}

// MudConfig returns the MUD descriptor the session was created for.
func (s *Session) MudConfig() mud.Mud {
	return s.mudCfg
}

// State returns the connection state.
func (s *Session) State() ConnState {
	return s.state
}

// ConnectionInfo returns details of the live connection, or nil.
func (s *Session) ConnectionInfo() *mud.ConnectionInfo {
	return s.connInfo
}

// Input returns the editable input model.
func (s *Session) Input() *Input {
	return s.input
}

// Prompt returns the prompt state.
func (s *Session) Prompt() *Prompt {
	return s.prompt
}

// Output returns the primary output buffer.
func (s *Session) Output() *Buffer {
	return s.output
}

// Triggers returns the ordered trigger list.
func (s *Session) Triggers() *Triggers {
	return s.triggers
}

// Aliases returns the ordered alias list.
func (s *Session) Aliases() *Aliases {
	return s.aliases
}

// --- Connection lifecycle ---

// Connect spawns the connection task. No-op error when not disconnected.
func (s *Session) Connect(ctx context.Context) error {
	if s.state != StateDisconnected {
		return fmt.Errorf("session %d: already %s", s.info.ID, s.state)
	}
	s.state = StateConnecting
	s.emit(event.SessionConnecting, nil)
	s.addOutput(ConnectionItem(fmt.Sprintf("Connecting to %s...", s.mudCfg), nil))
	s.conn = network.Dial(ctx, s.info.ID, s.mudCfg, s.netEvents)
	return nil
}

// Disconnect asks the connection task for a clean shutdown.
func (s *Session) Disconnect() error {
	if s.state == StateDisconnected || s.conn == nil {
		return mud.ErrNotConnected
	}
	s.conn.Disconnect()
	return nil
}

// Close tears the session down: the connection task is aborted and all
// timers stop. The session must not be used afterwards.
func (s *Session) Close() {
	if s.conn != nil {
		s.conn.Stop()
		s.conn = nil
	}
	s.prompt.Stop()
	for _, t := range s.timers {
		t.Stop()
	}
	s.state = StateDisconnected
	s.emit(event.SessionClosed, nil)
}

// --- Outbound path ---

// SendLine splits the text by the command separator and transmits each
// non-empty fragment, running aliases unless skipAliases is set.
func (s *Session) SendLine(text string, skipAliases bool) error {
	return s.send(text, skipAliases, false)
}

// SendScripted transmits a line originated by a script (or a trigger
// reaction). Aliases still apply.
func (s *Session) SendScripted(text string) error {
	return s.send(text, false, true)
}

func (s *Session) send(text string, skipAliases, scripted bool) error {
	if s.state != StateConnected {
		return mud.ErrNotConnected
	}

	for _, fragment := range strings.Split(text, s.sep) {
		if fragment == "" {
			continue
		}
		line := mud.InputLine{Sent: fragment, Echo: s.input.Echo(), Scripted: scripted}

		if !skipAliases {
			result := s.aliases.Evaluate(fragment)
			for _, cb := range result.Callbacks {
				s.schedule(cb)
			}
			if result.Consumed {
				// The alias ate the input: nothing is transmitted - including
				// any remaining fragments of this line - but scripts still
				// observe the original text.
				line.Sent = ""
				line.Original = fragment
				s.emit(event.InputLine, event.InputPayload{Line: line})
				return nil
			}
			if result.Text != fragment {
				line.Original = fragment
				line.Sent = result.Text
			}
		}

		s.conn.Send(telnet.Line([]byte(line.Sent)))
		if s.mudCfg.EchoInputEnabled() && line.Echo != mud.EchoPassword {
			s.addOutput(InputItem(line))
		}
		s.emit(event.InputLine, event.InputPayload{Line: line})
	}
	return nil
}

// RequestEnableOption proactively asks the peer to enable an option.
func (s *Session) RequestEnableOption(opt byte) error {
	if s.state != StateConnected {
		return mud.ErrNotConnected
	}
	if n := s.table.RequestEnable(opt); n != nil {
		s.conn.Send(*n)
	}
	return nil
}

// RequestDisableOption asks the peer to disable an option.
func (s *Session) RequestDisableOption(opt byte) error {
	if s.state != StateConnected {
		return mud.ErrNotConnected
	}
	if n := s.table.RequestDisable(opt); n != nil {
		s.conn.Send(*n)
	}
	return nil
}

// SendSubnegotiation transmits a raw subnegotiation.
func (s *Session) SendSubnegotiation(opt byte, data []byte) error {
	if s.state != StateConnected {
		return mud.ErrNotConnected
	}
	s.conn.Send(telnet.Subnegotiation{Option: opt, Data: data})
	return nil
}

// --- GMCP ---

// GmcpRegister registers a package, queueing it until GMCP is negotiated.
func (s *Session) GmcpRegister(pkg string) {
	if payload := s.gmcp.Register(pkg); payload != nil && s.state == StateConnected {
		s.conn.Send(telnet.Subnegotiation{Option: gmcp.Option, Data: payload})
	}
}

// GmcpUnregister removes a package registration.
func (s *Session) GmcpUnregister(pkg string) {
	if payload := s.gmcp.Unregister(pkg); payload != nil && s.state == StateConnected {
		s.conn.Send(telnet.Subnegotiation{Option: gmcp.Option, Data: payload})
	}
}

// GmcpSend transmits a GMCP message with a pre-encoded JSON value.
func (s *Session) GmcpSend(pkg, rawJSON string) error {
	if s.state != StateConnected {
		return mud.ErrNotConnected
	}
	if !s.gmcp.Ready() {
		return &mud.GmcpError{Reason: "not negotiated"}
	}
	s.conn.Send(telnet.Subnegotiation{Option: gmcp.Option, Data: gmcp.EncodeRaw(pkg, rawJSON)})
	return nil
}

// --- Buffers ---

// Buffer returns a named extra buffer, or the output buffer for "".
func (s *Session) Buffer(name string) (*Buffer, error) {
	if name == "" || name == "output" {
		return s.output, nil
	}
	if b, ok := s.extra[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%q: %w", name, mud.ErrNoSuchBuffer)
}

// CreateBuffer adds a named extra buffer.
func (s *Session) CreateBuffer(name string) (*Buffer, error) {
	if _, ok := s.extra[name]; ok || name == "" || name == "output" {
		return nil, fmt.Errorf("buffer %q: %w", name, mud.ErrDuplicateName)
	}
	b := NewBuffer(name)
	s.extra[name] = b
	return b, nil
}

// RemoveBuffer deletes a named extra buffer.
func (s *Session) RemoveBuffer(name string) error {
	if _, ok := s.extra[name]; !ok {
		return fmt.Errorf("%q: %w", name, mud.ErrNoSuchBuffer)
	}
	delete(s.extra, name)
	return nil
}

// --- Timers ---

// AddTimer registers a timer with the session. Names are unique.
func (s *Session) AddTimer(t *Timer) error {
	if _, ok := s.timers[t.Name]; ok {
		return fmt.Errorf("timer %q: %w", t.Name, mud.ErrDuplicateName)
	}
	s.timers[t.Name] = t
	return nil
}

// Timer returns a registered timer by name.
func (s *Session) Timer(name string) (*Timer, bool) {
	t, ok := s.timers[name]
	return t, ok
}

// RemoveTimer stops and deletes a timer.
func (s *Session) RemoveTimer(name string) error {
	t, ok := s.timers[name]
	if !ok {
		return fmt.Errorf("timer %q: not found", name)
	}
	t.Stop()
	delete(s.timers, name)
	return nil
}

// StartTimer starts a registered timer. Ticks are routed back through the
// coordinator loop: the callback is scheduled and the reaction is sent as
// scripted input.
func (s *Session) StartTimer(name string) error {
	t, ok := s.timers[name]
	if !ok {
		return fmt.Errorf("timer %q: not found", name)
	}
	t.Start(func(fired *Timer) {
		s.schedule(func() error {
			if fired.Reaction != "" {
				if err := s.SendScripted(fired.Reaction); err != nil {
					log.WithError(err).WithField("timer", fired.Name).Warn("timer reaction failed")
				}
			}
			if fired.Callback != nil {
				return fired.Callback()
			}
			return nil
		})
	})
	return nil
}

// ClearScriptState drops all triggers, aliases and timers. Used on script
// reload.
func (s *Session) ClearScriptState() {
	s.triggers.Clear()
	s.aliases.Clear()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]*Timer)
}

// --- Inbound path ---

// ProcessEvent dispatches one connection event on the coordinator loop.
func (s *Session) ProcessEvent(ev network.Event) {
	switch ev.Kind {
	case network.EventConnected:
		s.handleConnected(ev.Info)
	case network.EventDisconnected:
		s.handleDisconnected("Disconnected")
	case network.EventError:
		s.addOutput(ErrorItem(ev.Err.Error()))
		s.handleDisconnected("Disconnected: " + ev.Err.Error())
	case network.EventTelnet:
		s.handleTelnet(ev.Item)
	case network.EventPartialLine:
		s.handlePartialLine(ev.Partial)
	}
}

func (s *Session) handleConnected(info mud.ConnectionInfo) {
	s.state = StateConnected
	s.connInfo = &info

	// Fresh negotiation table for each connection. GMCP goes back to not
	// ready; registrations queued before the connection stay queued.
	s.table = telnet.NewTable(telnet.OptEcho, telnet.OptEOR, telnet.OptGMCP)
	s.gmcp.Disable()
	s.prompt.Start(s.conn.Flush)

	s.addOutput(ConnectionItem("Connected", &info))
	s.emit(event.SessionConnected, event.ConnectedPayload{Info: info})

	// Proactively ask for GMCP; many servers only offer it on request.
	if n := s.table.RequestEnable(telnet.OptGMCP); n != nil {
		s.conn.Send(*n)
	}
}

func (s *Session) handleDisconnected(message string) {
	if s.state == StateDisconnected {
		return
	}
	s.state = StateDisconnected
	s.connInfo = nil
	s.prompt.Stop()
	if s.conn != nil {
		s.conn.Stop()
		s.conn = nil
	}
	s.addOutput(ConnectionItem(message, nil))
	s.emit(event.SessionDisconnected, nil)
}

func (s *Session) handleTelnet(item telnet.Item) {
	switch it := item.(type) {
	case telnet.Line:
		s.handleLine([]byte(it))
	case telnet.Negotiation:
		s.handleNegotiation(it)
	case telnet.IacCommand:
		s.handleIacCommand(byte(it))
	case telnet.Subnegotiation:
		s.handleSubnegotiation(it)
	}
}

func (s *Session) handleLine(raw []byte) {
	s.prompt.ExtendTimeout()

	line := mud.NewMudLine(raw)
	result := s.triggers.Evaluate(&line)
	for _, cb := range result.Callbacks {
		s.schedule(cb)
	}

	if !line.Gag {
		s.addOutput(MudItem(line))
	}
	s.emit(event.Line, event.LinePayload{Line: line})

	// Reactions are sent after evaluation so a reaction's own alias pass
	// never observes a half-evaluated trigger list.
	for _, reaction := range result.Reactions {
		if err := s.SendScripted(reaction); err != nil {
			log.WithError(err).WithField("session", s.info.ID).Warn("trigger reaction failed")
		}
	}
}

func (s *Session) handleNegotiation(n telnet.Negotiation) {
	switch n.Command {
	case telnet.CmdWILL, telnet.CmdDO:
		reply := s.table.ReplyEnableIfSupported(n.Option, n.Command == telnet.CmdWILL)
		if reply == nil {
			return
		}
		s.conn.Send(*reply)
		s.optionEnabled(n.Option)

	case telnet.CmdWONT, telnet.CmdDONT:
		reply := s.table.ReplyDisableIfEnabled(n.Option, n.Command == telnet.CmdWONT)
		if reply == nil {
			return
		}
		s.conn.Send(*reply)
		s.optionDisabled(n.Option)
	}
}

func (s *Session) optionEnabled(opt byte) {
	switch opt {
	case telnet.OptEcho:
		// The server echoes now; obscure local input.
		s.input.SetTelnetEcho(true)
	case telnet.OptEOR:
		s.setPromptMode(SignalledMode(SignalEndOfRecord))
	case telnet.OptGMCP:
		for _, payload := range s.gmcp.Enable(ClientName, s.version) {
			s.conn.Send(telnet.Subnegotiation{Option: gmcp.Option, Data: payload})
		}
		s.emit(event.GmcpEnabled, nil)
	}
	s.emit(event.TelnetOptionEnabled, event.OptionPayload{Option: opt})
}

func (s *Session) optionDisabled(opt byte) {
	switch opt {
	case telnet.OptEcho:
		s.input.SetTelnetEcho(false)
	case telnet.OptEOR:
		s.setPromptMode(DefaultPromptMode())
	case telnet.OptGMCP:
		s.gmcp.Disable()
		s.emit(event.GmcpDisabled, nil)
	}
	s.emit(event.TelnetOptionDisabled, event.OptionPayload{Option: opt})
}

// SetPromptContent replaces the prompt content on behalf of a script.
func (s *Session) SetPromptContent(text string) {
	old, changed := s.prompt.SetContent(text)
	if changed {
		s.emit(event.PromptChanged, event.ChangePayload{From: old, To: text})
	}
}

// SetInput replaces the input line on behalf of a script. A negative
// cursor leaves it at the end of the new text.
func (s *Session) SetInput(text string, cursor int) {
	s.input.SetValue(text)
	if cursor >= 0 {
		s.input.SetCursor(cursor)
	}
	s.emit(event.InputChanged, event.InputChangedPayload{Text: s.input.Value(), Cursor: s.input.Cursor()})
}

// SetPromptMode switches prompt detection and reports the transition.
func (s *Session) SetPromptMode(mode PromptMode) {
	s.setPromptMode(mode)
}

func (s *Session) setPromptMode(mode PromptMode) {
	old := s.prompt.SetMode(mode)
	if old != mode {
		s.emit(event.PromptModeChanged, event.ChangePayload{From: old.String(), To: mode.String()})
	}
}

func (s *Session) handleIacCommand(cmd byte) {
	mode := s.prompt.Mode()
	if mode.Kind == PromptSignalled && cmd == mode.Signal.Byte() && s.conn != nil {
		s.conn.Flush()
	}
	s.emit(event.TelnetIacCommand, event.IacPayload{Command: cmd})
}

func (s *Session) handleSubnegotiation(sub telnet.Subnegotiation) {
	if sub.Option != gmcp.Option {
		s.emit(event.TelnetSubnegotiation, event.SubnegotiationPayload{Option: sub.Option, Data: sub.Data})
		return
	}

	msg, err := gmcp.Decode(sub.Data)
	if err != nil {
		log.WithError(err).WithField("session", s.info.ID).Warn("dropping GMCP payload")
		s.addOutput(ErrorItem(err.Error()))
		return
	}
	if s.mudCfg.DebugGmcp {
		s.addOutput(DebugItem(fmt.Sprintf("GMCP: %s %s", msg.Package, msg.JSON)))
	}
	s.emit(event.GmcpMessage, event.GmcpPayload{Package: msg.Package, JSON: msg.JSON})
}

func (s *Session) handlePartialLine(partial []byte) {
	content := string(partial)
	old, changed := s.prompt.SetContent(content)
	if changed {
		s.emit(event.PromptChanged, event.ChangePayload{From: old, To: content})
	}

	line := mud.PromptLine(partial)
	if s.mudCfg.HoldPromptEnabled() {
		s.addOutput(HeldPromptItem(line))
	} else {
		s.addOutput(PromptItem(line))
	}
}

// --- Plumbing ---

func (s *Session) addOutput(item OutputItem) {
	s.output.Add(item)
}

func (s *Session) emit(t event.Type, payload event.Payload) {
	if s.hooks.Emit == nil {
		return
	}
	s.hooks.Emit(event.Event{Type: t, Session: s.info.ID, Payload: payload})
}

func (s *Session) schedule(cb func() error) {
	if s.hooks.Schedule == nil {
		// No coordinator (tests): run inline.
		if err := cb(); err != nil {
			log.WithError(err).Warn("callback failed")
		}
		return
	}
	s.hooks.Schedule(cb)
}
