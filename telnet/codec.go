package telnet

import "errors"

// Codec decode errors. Both indicate a peer violating the subnegotiation
// framing; the connection that produced them should be torn down.
var (
	ErrNestedSubnegotiation   = errors.New("telnet: IAC SB inside subnegotiation")
	ErrStraySubnegotiationEnd = errors.New("telnet: IAC SE outside subnegotiation")
)

type codecState int

const (
	// stateLine buffers ordinary data until a line terminator.
	stateLine codecState = iota
	// stateSubnegOption has seen IAC SB and awaits the option byte.
	stateSubnegOption
	// stateSubneg accumulates subnegotiation payload until IAC SE.
	stateSubneg
)

// Codec is a stateful telnet de/encoder. Decode consumes read chunks and
// yields typed Items; partial content (unterminated lines, incomplete IAC
// sequences, open subnegotiations) is carried across calls.
//
// The line deframer is intentionally permissive: both "\r\n" and "\n\r"
// terminate a line (the latter for compatibility with Aardwolf-style
// servers). A bare "\n" does NOT terminate a line; it stays in the buffered
// content until a recognised terminator or a prompt flush drains it.
type Codec struct {
	state      codecState
	lineBuffer []byte
	subOption  byte
	subBuffer  []byte
	// iacTail holds an incomplete IAC sequence split across reads.
	iacTail []byte
}

// NewCodec creates a codec buffering from a clean state.
func NewCodec() *Codec {
	return &Codec{lineBuffer: make([]byte, 0, 1024)}
}

// Decode consumes a chunk of received bytes and returns the completed items.
func (c *Codec) Decode(src []byte) ([]Item, error) {
	data := src
	if len(c.iacTail) > 0 {
		data = append(c.iacTail, src...)
		c.iacTail = nil
	}

	var items []Item
	i := 0
	for i < len(data) {
		b := data[i]
		if b != CmdIAC {
			if line, ok := c.bufferData(b); ok {
				items = append(items, line)
			}
			i++
			continue
		}

		// IAC sequences need at least the command byte, and negotiations an
		// option byte after it. Stash the tail until more data arrives.
		if i+1 >= len(data) {
			c.stash(data[i:])
			return items, nil
		}
		cmd := data[i+1]
		switch cmd {
		case CmdIAC:
			// Escaped literal 0xFF.
			c.bufferData(CmdIAC)
			i += 2

		case CmdWILL, CmdWONT, CmdDO, CmdDONT:
			if i+2 >= len(data) {
				c.stash(data[i:])
				return items, nil
			}
			items = append(items, Negotiation{Command: cmd, Option: data[i+2]})
			i += 3

		case CmdSB:
			if c.state != stateLine {
				return items, ErrNestedSubnegotiation
			}
			c.state = stateSubnegOption
			i += 2

		case CmdSE:
			if c.state != stateSubneg {
				return items, ErrStraySubnegotiationEnd
			}
			payload := make([]byte, len(c.subBuffer))
			copy(payload, c.subBuffer)
			c.subBuffer = c.subBuffer[:0]
			c.state = stateLine
			items = append(items, Subnegotiation{Option: c.subOption, Data: payload})
			i += 2

		default:
			items = append(items, IacCommand(cmd))
			i += 2
		}
	}
	return items, nil
}

// PartialLine returns and clears any currently-buffered unterminated line
// content. Returns nil when nothing is buffered.
func (c *Codec) PartialLine() []byte {
	if len(c.lineBuffer) == 0 {
		return nil
	}
	partial := make([]byte, len(c.lineBuffer))
	copy(partial, c.lineBuffer)
	c.lineBuffer = c.lineBuffer[:0]
	return partial
}

func (c *Codec) stash(tail []byte) {
	c.iacTail = append([]byte(nil), tail...)
}

// bufferData routes a data byte to the line or subnegotiation buffer and
// returns a completed Line when the byte terminates one.
func (c *Codec) bufferData(b byte) (Item, bool) {
	switch c.state {
	case stateSubnegOption:
		c.subOption = b
		c.subBuffer = c.subBuffer[:0]
		c.state = stateSubneg
	case stateSubneg:
		c.subBuffer = append(c.subBuffer, b)
	default:
		c.lineBuffer = append(c.lineBuffer, b)
		return c.deframeLine()
	}
	return nil, false
}

// deframeLine completes a line when the buffer now ends with a terminator.
// Terminators only ever complete at the buffer tail because every data byte
// is checked as it is appended.
func (c *Codec) deframeLine() (Item, bool) {
	n := len(c.lineBuffer)
	if n < 2 {
		return nil, false
	}
	a, b := c.lineBuffer[n-2], c.lineBuffer[n-1]
	if !(a == '\r' && b == '\n') && !(a == '\n' && b == '\r') {
		return nil, false
	}
	line := make([]byte, n-2)
	copy(line, c.lineBuffer[:n-2])
	c.lineBuffer = c.lineBuffer[:0]
	return Line(line), true
}

// Encode serializes an item to wire bytes, doubling IAC bytes inside Line
// and Subnegotiation payloads.
func Encode(item Item) []byte {
	switch it := item.(type) {
	case Line:
		out := EscapeIAC(it)
		return append(out, '\r', '\n')
	case Negotiation:
		return []byte{CmdIAC, it.Command, it.Option}
	case IacCommand:
		return []byte{CmdIAC, byte(it)}
	case Subnegotiation:
		escaped := EscapeIAC(it.Data)
		out := make([]byte, 0, 5+len(escaped))
		out = append(out, CmdIAC, CmdSB, it.Option)
		out = append(out, escaped...)
		return append(out, CmdIAC, CmdSE)
	}
	return nil
}

// EscapeIAC doubles IAC bytes for outbound payload data.
func EscapeIAC(data []byte) []byte {
	out := make([]byte, 0, len(data)+2)
	for _, b := range data {
		out = append(out, b)
		if b == CmdIAC {
			out = append(out, CmdIAC)
		}
	}
	return out
}
