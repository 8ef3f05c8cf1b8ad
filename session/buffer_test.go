package session

import (
	"testing"

	"github.com/drake/mudlark/mud"
)

func TestBufferNewDataCounter(t *testing.T) {
	b := NewBuffer("output")

	b.Add(MudItem(mud.NewMudLine([]byte("one"))))
	b.AddMultiple(
		MudItem(mud.NewMudLine([]byte("two"))),
		PromptItem(mud.PromptLine([]byte("> "))),
	)

	if b.NewData() != 3 || b.Len() != 3 {
		t.Fatalf("new %d len %d", b.NewData(), b.Len())
	}

	received := b.TakeReceived()
	if len(received) != 3 {
		t.Fatalf("drained %d items", len(received))
	}
	if b.NewData() != 0 {
		t.Fatalf("counter should reset, got %d", b.NewData())
	}

	// Draining again yields nothing new; items are retained.
	if again := b.TakeReceived(); again != nil {
		t.Fatalf("expected nil, got %d items", len(again))
	}
	if b.Len() != 3 {
		t.Fatalf("items should be retained, len %d", b.Len())
	}
}

func TestBufferDrainThenAdd(t *testing.T) {
	b := NewBuffer("output")
	b.Add(DebugItem("first"))
	b.TakeReceived()

	b.Add(DebugItem("second"))
	received := b.TakeReceived()
	if len(received) != 1 || received[0].Message != "second" {
		t.Fatalf("got %+v", received)
	}
}

func TestBufferTrim(t *testing.T) {
	b := NewBuffer("output")
	for i := 0; i < maxBufferItems+50; i++ {
		b.Add(DebugItem("x"))
	}
	if b.Len() != maxBufferItems {
		t.Fatalf("len %d, want %d", b.Len(), maxBufferItems)
	}
}
