// Package network owns the per-session connection task: dialing (TCP with
// dual-stack fallback, optional TLS), keepalive configuration, the framed
// read loop, and the action channel the session drives writes through.
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/drake/mudlark/mud"
	"github.com/drake/mudlark/telnet"
)

// readBufferSize is the framed read buffer.
const readBufferSize = 32 * 1024

const (
	dialTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Second

	keepaliveIdle     = 30 * time.Second
	keepaliveInterval = 5 * time.Second
	keepaliveProbes   = 5
)

// ActionKind identifies a session-to-connection request.
type ActionKind int

const (
	// ActionSend encodes and writes an item.
	ActionSend ActionKind = iota
	// ActionFlush drains the codec's partial line back to the session.
	ActionFlush
	// ActionDisconnect closes the connection cleanly.
	ActionDisconnect
)

// Action is a request sent from the session to its connection task.
type Action struct {
	Kind ActionKind
	Item telnet.Item
}

// EventKind identifies a connection-to-session notification.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
	EventTelnet
	EventPartialLine
)

// Event is a notification from a connection task to the app coordinator,
// tagged with the owning session.
type Event struct {
	Session mud.SessionId
	Kind    EventKind
	Info    mud.ConnectionInfo // Connected
	Err     error              // Error
	Item    telnet.Item        // Telnet
	Partial []byte             // PartialLine
}

// Conn is the handle a session holds on its connection task. Dropping the
// handle (via Stop) aborts the task.
type Conn struct {
	id      mud.SessionId
	actions chan Action
	events  chan<- Event
	cancel  context.CancelFunc

	mu    sync.Mutex
	codec *telnet.Codec
}

// Dial spawns a connection task for the session. The task dials, reports
// EventConnected (or EventError), then multiplexes reads against actions
// until disconnected.
func Dial(ctx context.Context, id mud.SessionId, m mud.Mud, events chan<- Event) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		id:      id,
		actions: make(chan Action, 256),
		events:  events,
		cancel:  cancel,
		codec:   telnet.NewCodec(),
	}
	go c.run(ctx, m)
	return c
}

// Send queues an item for encoding and transmission.
func (c *Conn) Send(item telnet.Item) {
	c.enqueue(Action{Kind: ActionSend, Item: item})
}

// Flush asks the task to report the codec's partial line.
func (c *Conn) Flush() {
	c.enqueue(Action{Kind: ActionFlush})
}

// Disconnect requests a clean shutdown.
func (c *Conn) Disconnect() {
	c.enqueue(Action{Kind: ActionDisconnect})
}

// Stop aborts the task without the disconnect handshake. Used when the
// session itself is being closed.
func (c *Conn) Stop() {
	c.cancel()
}

func (c *Conn) enqueue(action Action) {
	select {
	case c.actions <- action:
	default:
		log.WithField("session", c.id).Warn("connection action queue full, dropping")
	}
}

func (c *Conn) emit(ev Event) {
	ev.Session = c.id
	c.events <- ev
}

// run is the connection task body.
func (c *Conn) run(ctx context.Context, m mud.Mud) {
	stream, info, err := dial(ctx, m)
	if err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		return
	}
	c.emit(Event{Kind: EventConnected, Info: info})

	readerDone := make(chan error, 1)
	go c.readLoop(stream, readerDone)

	defer stream.Close()
	for {
		select {
		case <-ctx.Done():
			return

		case action := <-c.actions:
			switch action.Kind {
			case ActionSend:
				stream.SetWriteDeadline(time.Now().Add(writeTimeout))
				_, werr := stream.Write(telnet.Encode(action.Item))
				stream.SetWriteDeadline(time.Time{})
				if werr != nil {
					c.emit(Event{Kind: EventError, Err: werr})
					return
				}

			case ActionFlush:
				c.mu.Lock()
				partial := c.codec.PartialLine()
				c.mu.Unlock()
				if len(partial) > 0 && mud.StripANSI(string(partial)) != "" {
					c.emit(Event{Kind: EventPartialLine, Partial: partial})
				}

			case ActionDisconnect:
				c.emit(Event{Kind: EventDisconnected})
				return
			}

		case rerr := <-readerDone:
			if rerr == nil || errors.Is(rerr, io.EOF) || errors.Is(rerr, net.ErrClosed) {
				c.emit(Event{Kind: EventDisconnected})
			} else {
				c.emit(Event{Kind: EventError, Err: rerr})
			}
			return
		}
	}
}

// readLoop decodes inbound bytes into items and forwards them. It exits on
// read or codec error, reporting the cause to the task loop.
func (c *Conn) readLoop(stream net.Conn, done chan<- error) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			c.mu.Lock()
			items, derr := c.codec.Decode(buf[:n])
			c.mu.Unlock()
			for _, item := range items {
				c.emit(Event{Kind: EventTelnet, Item: item})
			}
			if derr != nil {
				done <- derr
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				done <- nil
			} else {
				done <- err
			}
			return
		}
	}
}

// dial opens the TCP (and optionally TLS) stream for a MUD. Go's dialer
// performs RFC 6555 dual-stack fallback when the host resolves to both
// address families.
func dial(ctx context.Context, m mud.Mud) (net.Conn, mud.ConnectionInfo, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	if m.NoTcpKeepalive {
		dialer.KeepAlive = -1
	} else {
		cfg := net.KeepAliveConfig{
			Enable:   true,
			Idle:     keepaliveIdle,
			Interval: keepaliveInterval,
		}
		if runtime.GOOS != "windows" {
			cfg.Count = keepaliveProbes
		}
		dialer.KeepAliveConfig = cfg
	}

	addr := net.JoinHostPort(m.Host, strconv.Itoa(int(m.Port)))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, mud.ConnectionInfo{}, err
	}

	info := mud.ConnectionInfo{Port: m.Port}
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		info.IP = tcpAddr.IP.String()
	}

	if m.Tls == mud.TlsDisabled {
		return conn, info, nil
	}

	tlsConfig := &tls.Config{
		ServerName: m.Host,
		MinVersion: tls.VersionTLS12,
	}
	if m.Tls == mud.TlsInsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, mud.ConnectionInfo{}, err
	}

	info.Tls = true
	info.VerifySkipped = m.Tls == mud.TlsInsecureSkipVerify
	return tlsConn, info, nil
}
