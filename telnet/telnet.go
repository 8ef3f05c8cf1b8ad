// Package telnet implements the Telnet wire protocol for MUD connections: a
// stateful byte codec producing typed items, and the per-option negotiation
// table driving WILL/WONT/DO/DONT replies.
package telnet

// Telnet command codes (RFC 854).
const (
	CmdIAC  byte = 255 // Interpret As Command
	CmdWILL byte = 251 // Will use option
	CmdWONT byte = 252 // Won't use option
	CmdDO   byte = 253 // Do use option
	CmdDONT byte = 254 // Don't use option
	CmdSB   byte = 250 // Subnegotiation begin
	CmdSE   byte = 240 // Subnegotiation end
	CmdNOP  byte = 241 // No operation
	CmdGA   byte = 249 // Go ahead
	CmdEOR  byte = 239 // End of record
)

// Telnet option codes of interest to MUD clients.
const (
	OptBinary byte = 0
	OptEcho   byte = 1
	OptSGA    byte = 3 // Suppress Go Ahead
	OptTTYPE  byte = 24
	OptEOR    byte = 25
	OptNAWS   byte = 31
	OptMSSP   byte = 70
	OptMCCP2  byte = 86
	OptMCCP3  byte = 87
	OptGMCP   byte = 201
)

// Item is a typed protocol element produced by decoding or consumed by
// encoding. The concrete types are Line, Negotiation, IacCommand and
// Subnegotiation.
type Item interface {
	telnetItem()
}

// Line is a terminated line of data, terminator stripped, ANSI preserved.
type Line []byte

func (Line) telnetItem() {}

// Negotiation is a WILL/WONT/DO/DONT command for an option.
type Negotiation struct {
	Command byte
	Option  byte
}

func (Negotiation) telnetItem() {}

// Will creates a WILL negotiation for opt.
func Will(opt byte) Negotiation { return Negotiation{Command: CmdWILL, Option: opt} }

// Wont creates a WONT negotiation for opt.
func Wont(opt byte) Negotiation { return Negotiation{Command: CmdWONT, Option: opt} }

// Do creates a DO negotiation for opt.
func Do(opt byte) Negotiation { return Negotiation{Command: CmdDO, Option: opt} }

// Dont creates a DONT negotiation for opt.
func Dont(opt byte) Negotiation { return Negotiation{Command: CmdDONT, Option: opt} }

// IacCommand is any IAC-prefixed command byte that is not a negotiation or
// subnegotiation delimiter (GA, EOR, NOP, ...).
type IacCommand byte

func (IacCommand) telnetItem() {}

// Subnegotiation is the payload between IAC SB opt and IAC SE, with IAC
// escapes already collapsed.
type Subnegotiation struct {
	Option byte
	Data   []byte
}

func (Subnegotiation) telnetItem() {}
