package telnet

import (
	"bytes"
	"reflect"
	"testing"
)

func decodeAll(t *testing.T, c *Codec, chunks ...[]byte) []Item {
	t.Helper()
	var items []Item
	for _, chunk := range chunks {
		out, err := c.Decode(chunk)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		items = append(items, out...)
	}
	return items
}

func TestDeframeLineTerminators(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []Item
	}{
		{"crlf", []byte("Hello, world!\r\n"), []Item{Line("Hello, world!")}},
		{"lfcr", []byte("Hello, world!\n\r"), []Item{Line("Hello, world!")}},
		{"bare lf does not terminate", []byte("Hello\n"), nil},
		{"two lines", []byte("one\r\ntwo\r\n"), []Item{Line("one"), Line("two")}},
		{"empty line", []byte("\r\n"), []Item{Line("")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeAll(t, NewCodec(), tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDeframeSplitAcrossReads(t *testing.T) {
	c := NewCodec()
	items := decodeAll(t, c, []byte("Hel"), []byte("lo\r"), []byte("\n"))
	want := []Item{Line("Hello")}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("want %v, got %v", want, items)
	}
}

func TestIacEscapeRoundTrip(t *testing.T) {
	encoded := Encode(Line([]byte{0x61, 0xFF, 0x62}))
	want := []byte{0x61, 0xFF, 0xFF, 0x62, 0x0D, 0x0A}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("encode: want %v, got %v", want, encoded)
	}

	items := decodeAll(t, NewCodec(), encoded)
	if len(items) != 1 {
		t.Fatalf("expected one item, got %v", items)
	}
	line, ok := items[0].(Line)
	if !ok || !bytes.Equal(line, []byte{0x61, 0xFF, 0x62}) {
		t.Fatalf("unexpected item: %v", items[0])
	}
}

// Every literal 0xFF in a payload adds exactly one extra IAC on the wire.
func TestEscapeIACCount(t *testing.T) {
	payloads := [][]byte{
		{},
		{0xFF},
		{0xFF, 0xFF, 0xFF},
		{0x01, 0xFF, 0x02, 0xFF},
		[]byte("no escapes here"),
	}
	for _, payload := range payloads {
		escaped := EscapeIAC(payload)
		literals := bytes.Count(payload, []byte{CmdIAC})
		got := bytes.Count(escaped, []byte{CmdIAC})
		if got != literals*2 {
			t.Fatalf("payload %v: want %d IACs, got %d", payload, literals*2, got)
		}
	}
}

func TestDecodeNegotiationSplit(t *testing.T) {
	c := NewCodec()

	// IAC WILL with the option byte missing emits nothing yet.
	items := decodeAll(t, c, []byte{CmdIAC, CmdWILL})
	if len(items) != 0 {
		t.Fatalf("expected no items yet, got %v", items)
	}

	items = decodeAll(t, c, []byte{OptGMCP})
	want := []Item{Will(OptGMCP)}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("want %v, got %v", want, items)
	}
}

func TestDecodeIacCommand(t *testing.T) {
	items := decodeAll(t, NewCodec(), []byte{CmdIAC, CmdGA, CmdIAC, CmdEOR, CmdIAC, CmdNOP})
	want := []Item{IacCommand(CmdGA), IacCommand(CmdEOR), IacCommand(CmdNOP)}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("want %v, got %v", want, items)
	}
}

func TestSubnegotiationRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0xFF, 0x02}
	encoded := Encode(Subnegotiation{Option: OptGMCP, Data: payload})
	wantWire := []byte{CmdIAC, CmdSB, OptGMCP, 0x01, 0xFF, 0xFF, 0x02, CmdIAC, CmdSE}
	if !bytes.Equal(encoded, wantWire) {
		t.Fatalf("encode: want %v, got %v", wantWire, encoded)
	}

	items := decodeAll(t, NewCodec(), encoded)
	want := []Item{Subnegotiation{Option: OptGMCP, Data: payload}}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("decode: want %v, got %v", want, items)
	}
}

func TestSubnegotiationSplitAcrossReads(t *testing.T) {
	c := NewCodec()
	items := decodeAll(t, c,
		[]byte{CmdIAC, CmdSB},
		[]byte{OptGMCP, 'a', 'b'},
		[]byte{CmdIAC},
		[]byte{CmdSE})
	want := []Item{Subnegotiation{Option: OptGMCP, Data: []byte("ab")}}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("want %v, got %v", want, items)
	}
}

func TestStraySubnegotiationEnd(t *testing.T) {
	c := NewCodec()
	if _, err := c.Decode([]byte{CmdIAC, CmdSE}); err != ErrStraySubnegotiationEnd {
		t.Fatalf("want ErrStraySubnegotiationEnd, got %v", err)
	}
}

func TestNestedSubnegotiationBegin(t *testing.T) {
	c := NewCodec()
	if _, err := c.Decode([]byte{CmdIAC, CmdSB, OptGMCP, 'x', CmdIAC, CmdSB}); err != ErrNestedSubnegotiation {
		t.Fatalf("want ErrNestedSubnegotiation, got %v", err)
	}
}

func TestPartialLine(t *testing.T) {
	c := NewCodec()
	decodeAll(t, c, []byte("prompt> "))

	partial := c.PartialLine()
	if string(partial) != "prompt> " {
		t.Fatalf("unexpected partial %q", partial)
	}

	// Cleared after the first take.
	if again := c.PartialLine(); again != nil {
		t.Fatalf("expected empty partial, got %q", again)
	}
}

// Re-decoding the re-encoded items of a decode produces the same items.
func TestDecodeEncodeDecodeRoundTrip(t *testing.T) {
	inputs := [][]byte{
		[]byte("plain line\r\n"),
		{CmdIAC, CmdWILL, OptEcho, 'h', 'i', '\r', '\n'},
		append([]byte("data\r\n"), CmdIAC, CmdSB, OptGMCP, 'p', CmdIAC, CmdSE),
		{'a', CmdIAC, CmdIAC, 'b', '\r', '\n', CmdIAC, CmdGA},
	}

	for _, input := range inputs {
		first := decodeAll(t, NewCodec(), input)

		var wire []byte
		for _, item := range first {
			wire = append(wire, Encode(item)...)
		}
		second := decodeAll(t, NewCodec(), wire)

		if !reflect.DeepEqual(first, second) {
			t.Fatalf("input %v: first %v != second %v", input, first, second)
		}
	}
}
