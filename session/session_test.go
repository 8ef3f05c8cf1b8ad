package session

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/drake/mudlark/event"
	"github.com/drake/mudlark/mud"
	"github.com/drake/mudlark/network"
	"github.com/drake/mudlark/telnet"
)

type sessionHarness struct {
	session *Session
	server  net.Conn
	events  chan network.Event
	emitted []event.Event
}

// startSession dials a session against an in-test TCP server and pumps the
// connection handshake.
func startSession(t *testing.T, tweak func(*mud.Mud)) *sessionHarness {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	mudCfg := mud.Mud{
		Name: "testmud",
		Host: "127.0.0.1",
		Port: port,
	}
	if tweak != nil {
		tweak(&mudCfg)
	}

	h := &sessionHarness{events: make(chan network.Event, 256)}
	hooks := Hooks{
		Emit:     func(ev event.Event) { h.emitted = append(h.emitted, ev) },
		Schedule: func(cb func() error) { cb() },
	}
	h.session = New(mud.SessionInfo{ID: 1, MudName: mudCfg.Name}, mudCfg, "test", h.events, hooks)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := h.session.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	h.server, err = listener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { h.server.Close() })

	h.pumpUntil(t, func(ev network.Event) bool { return ev.Kind == network.EventConnected })

	// The session proactively negotiates GMCP on connect.
	if got := h.read(t, 3); !bytes.Equal(got, []byte{telnet.CmdIAC, telnet.CmdDO, telnet.OptGMCP}) {
		t.Fatalf("expected proactive DO GMCP, got %v", got)
	}
	return h
}

// pumpUntil feeds connection events into the session until match succeeds.
func (h *sessionHarness) pumpUntil(t *testing.T, match func(network.Event) bool) network.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			h.session.ProcessEvent(ev)
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for connection event")
		}
	}
}

// read reads exactly n bytes from the server side of the connection.
func (h *sessionHarness) read(t *testing.T, n int) []byte {
	t.Helper()
	h.server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := h.server.Read(buf[read:])
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		read += m
	}
	return buf
}

func (h *sessionHarness) eventsOfType(t event.Type) []event.Event {
	var out []event.Event
	for _, ev := range h.emitted {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestSessionSendLineAliasSplit(t *testing.T) {
	h := startSession(t, nil)

	kick, err := NewAlias("kick", `^k\b`)
	if err != nil {
		t.Fatal(err)
	}
	kick.SetExpansion("kick")
	h.session.Aliases().Add(kick)

	if err := h.session.SendLine("k orc;;k troll", false); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := string(h.read(t, len("kick orc\r\nkick troll\r\n")))
	if got != "kick orc\r\nkick troll\r\n" {
		t.Fatalf("wire %q", got)
	}

	inputs := h.eventsOfType(event.InputLine)
	if len(inputs) != 2 {
		t.Fatalf("input events %d", len(inputs))
	}
	first := inputs[0].Payload.(event.InputPayload).Line
	second := inputs[1].Payload.(event.InputPayload).Line
	if first.Sent != "kick orc" || first.Original != "k orc" {
		t.Fatalf("first %+v", first)
	}
	if second.Sent != "kick troll" || second.Original != "k troll" {
		t.Fatalf("second %+v", second)
	}
}

func TestSessionConsumedInputAbortsRemainingFragments(t *testing.T) {
	h := startSession(t, nil)

	eater, err := NewAlias("note", `^note .*$`)
	if err != nil {
		t.Fatal(err)
	}
	eater.SetExpansion("")
	h.session.Aliases().Add(eater)

	if err := h.session.SendLine("note buy sword;;say hi", false); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Nothing reaches the wire - not even the fragments after the eaten one.
	h.server.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 64)
	if n, err := h.server.Read(buf); err == nil {
		t.Fatalf("unexpected wire data %q", buf[:n])
	}

	// The consumed fragment still surfaces as an InputLine event, and the
	// later fragment never produces one.
	inputs := h.eventsOfType(event.InputLine)
	if len(inputs) != 1 {
		t.Fatalf("input events %d", len(inputs))
	}
	line := inputs[0].Payload.(event.InputPayload).Line
	if line.Sent != "" || line.Original != "note buy sword" {
		t.Fatalf("line %+v", line)
	}
}

func TestSessionSkipAliases(t *testing.T) {
	h := startSession(t, nil)

	kick, _ := NewAlias("kick", `^k\b`)
	kick.SetExpansion("kick")
	h.session.Aliases().Add(kick)

	if err := h.session.SendLine("k orc", true); err != nil {
		t.Fatal(err)
	}
	got := string(h.read(t, len("k orc\r\n")))
	if got != "k orc\r\n" {
		t.Fatalf("wire %q", got)
	}
}

func TestSessionNotConnectedSend(t *testing.T) {
	events := make(chan network.Event, 1)
	s := New(mud.SessionInfo{ID: 9, MudName: "x"}, mud.Mud{Host: "h", Port: 1}, "test", events, Hooks{})
	if err := s.SendLine("north", false); err != mud.ErrNotConnected {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestSessionTriggerGagsLine(t *testing.T) {
	h := startSession(t, nil)

	gag, err := NewTrigger("gag", `^You see (\w+)\.$`)
	if err != nil {
		t.Fatal(err)
	}
	gag.Gag = true
	h.session.Triggers().Add(gag)

	h.server.Write([]byte("You see elf.\r\nAn orc arrives.\r\n"))

	h.pumpUntil(t, func(ev network.Event) bool {
		if ev.Kind != network.EventTelnet {
			return false
		}
		line, ok := ev.Item.(telnet.Line)
		return ok && string(line) == "An orc arrives."
	})

	if gag.HitCount != 1 {
		t.Fatalf("hit count %d", gag.HitCount)
	}

	// The gagged line never reaches the buffer; the ungagged one does.
	var mudLines []string
	for _, item := range h.session.Output().Items() {
		if item.Kind == OutputMud {
			mudLines = append(mudLines, item.Line.String())
		}
	}
	if len(mudLines) != 1 || mudLines[0] != "An orc arrives." {
		t.Fatalf("buffer lines %v", mudLines)
	}

	// The Line event still fires for the gagged line, flagged as gagged.
	lines := h.eventsOfType(event.Line)
	if len(lines) != 2 {
		t.Fatalf("line events %d", len(lines))
	}
	if !lines[0].Payload.(event.LinePayload).Line.Gag {
		t.Fatal("first line event should be gagged")
	}
}

func TestSessionGmcpHandshake(t *testing.T) {
	h := startSession(t, nil)
	h.session.GmcpRegister("Char.Vitals")

	// Server agrees to GMCP.
	h.server.Write([]byte{telnet.CmdIAC, telnet.CmdWILL, telnet.OptGMCP})
	h.pumpUntil(t, func(ev network.Event) bool {
		n, ok := ev.Item.(telnet.Negotiation)
		return ok && n.Command == telnet.CmdWILL && n.Option == telnet.OptGMCP
	})

	// Reply DO 201, then Core.Hello, then the queued registration.
	if got := h.read(t, 3); !bytes.Equal(got, []byte{telnet.CmdIAC, telnet.CmdDO, telnet.OptGMCP}) {
		t.Fatalf("expected DO GMCP reply, got %v", got)
	}

	// The hello and registration arrive as separate writes; accumulate
	// until both are visible.
	var wire string
	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) && !strings.Contains(wire, "Core.Supports.Add") {
		h.server.SetReadDeadline(deadline)
		n, err := h.server.Read(buf)
		if err != nil {
			t.Fatalf("read subnegotiations: %v", err)
		}
		wire += string(buf[:n])
	}
	helloIdx := strings.Index(wire, "Core.Hello ")
	supportsIdx := strings.Index(wire, `Core.Supports.Add ["Char.Vitals"]`)
	if helloIdx < 0 || supportsIdx < 0 || supportsIdx < helloIdx {
		t.Fatalf("handshake wire %q", wire)
	}
	if !strings.Contains(wire, `"client":"mudlark"`) {
		t.Fatalf("hello missing client key: %q", wire)
	}

	if len(h.eventsOfType(event.GmcpEnabled)) != 1 {
		t.Fatal("GmcpEnabled event missing")
	}

	// Incoming GMCP payload surfaces as a message event.
	payload := []byte("Char.Vitals {\"hp\":10}")
	sub := append([]byte{telnet.CmdIAC, telnet.CmdSB, telnet.OptGMCP}, payload...)
	sub = append(sub, telnet.CmdIAC, telnet.CmdSE)
	h.server.Write(sub)
	h.pumpUntil(t, func(ev network.Event) bool {
		_, ok := ev.Item.(telnet.Subnegotiation)
		return ok
	})

	msgs := h.eventsOfType(event.GmcpMessage)
	if len(msgs) != 1 {
		t.Fatalf("gmcp events %d", len(msgs))
	}
	msg := msgs[0].Payload.(event.GmcpPayload)
	if msg.Package != "Char.Vitals" || msg.JSON != `{"hp":10}` {
		t.Fatalf("got %+v", msg)
	}
}

func TestSessionEchoOptionSwitchesInput(t *testing.T) {
	h := startSession(t, nil)

	h.server.Write([]byte{telnet.CmdIAC, telnet.CmdWILL, telnet.OptEcho})
	h.pumpUntil(t, func(ev network.Event) bool {
		n, ok := ev.Item.(telnet.Negotiation)
		return ok && n.Option == telnet.OptEcho
	})

	if h.session.Input().Echo() != mud.EchoPassword {
		t.Fatal("ECHO enable should switch input to password echo")
	}

	h.server.Write([]byte{telnet.CmdIAC, telnet.CmdWONT, telnet.OptEcho})
	h.pumpUntil(t, func(ev network.Event) bool {
		n, ok := ev.Item.(telnet.Negotiation)
		return ok && n.Command == telnet.CmdWONT
	})

	if h.session.Input().Echo() != mud.EchoNormal {
		t.Fatal("ECHO disable should restore normal echo")
	}
}

func TestSessionEorSwitchesPromptMode(t *testing.T) {
	h := startSession(t, nil)

	h.server.Write([]byte{telnet.CmdIAC, telnet.CmdWILL, telnet.OptEOR})
	h.pumpUntil(t, func(ev network.Event) bool {
		n, ok := ev.Item.(telnet.Negotiation)
		return ok && n.Option == telnet.OptEOR
	})

	mode := h.session.Prompt().Mode()
	if mode.Kind != PromptSignalled || mode.Signal != SignalEndOfRecord {
		t.Fatalf("mode %v", mode)
	}
	if len(h.eventsOfType(event.PromptModeChanged)) == 0 {
		t.Fatal("PromptModeChanged event missing")
	}
}

func TestSessionPromptFlush(t *testing.T) {
	noHold := false
	h := startSession(t, func(m *mud.Mud) { m.HoldPrompt = &noHold })

	// An unterminated line sits in the codec; the flusher converts it into
	// a prompt via the connection's partial-line drain.
	h.server.Write([]byte("Enter your name: "))

	h.pumpUntil(t, func(ev network.Event) bool { return ev.Kind == network.EventPartialLine })

	if h.session.Prompt().Content() != "Enter your name: " {
		t.Fatalf("prompt content %q", h.session.Prompt().Content())
	}

	changed := h.eventsOfType(event.PromptChanged)
	if len(changed) != 1 {
		t.Fatalf("prompt events %d", len(changed))
	}
	payload := changed[0].Payload.(event.ChangePayload)
	if payload.From != "" || payload.To != "Enter your name: " {
		t.Fatalf("payload %+v", payload)
	}

	var prompts []string
	for _, item := range h.session.Output().Items() {
		if item.Kind == OutputPrompt {
			prompts = append(prompts, item.Line.String())
		}
	}
	if len(prompts) != 1 || prompts[0] != "Enter your name: " {
		t.Fatalf("prompt items %v", prompts)
	}
}

func TestSessionDisconnect(t *testing.T) {
	h := startSession(t, nil)

	if err := h.session.Disconnect(); err != nil {
		t.Fatal(err)
	}
	h.pumpUntil(t, func(ev network.Event) bool { return ev.Kind == network.EventDisconnected })

	if h.session.State() != StateDisconnected {
		t.Fatalf("state %v", h.session.State())
	}
	if len(h.eventsOfType(event.SessionDisconnected)) != 1 {
		t.Fatal("SessionDisconnected event missing")
	}
}
