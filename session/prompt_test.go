package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFlusherFiresAfterQuiet(t *testing.T) {
	var fired atomic.Int32
	f := NewFlusher(20*time.Millisecond, func() { fired.Add(1) })
	defer f.Stop()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("fired %d times", fired.Load())
	}
}

func TestFlusherExtendPostpones(t *testing.T) {
	var fired atomic.Int32
	f := NewFlusher(60*time.Millisecond, func() { fired.Add(1) })
	defer f.Stop()

	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		f.ExtendTimeout()
	}
	if fired.Load() != 0 {
		t.Fatal("flusher fired despite activity")
	}

	time.Sleep(150 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("fired %d times", fired.Load())
	}
}

func TestFlusherStop(t *testing.T) {
	var fired atomic.Int32
	f := NewFlusher(20*time.Millisecond, func() { fired.Add(1) })
	f.Stop()

	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("stopped flusher fired")
	}

	// Extend after stop must not rearm.
	f.ExtendTimeout()
	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("extend rearmed a stopped flusher")
	}
}

func TestPromptContentChange(t *testing.T) {
	p := NewPrompt()

	old, changed := p.SetContent("HP: 10> ")
	if !changed || old != "" {
		t.Fatalf("changed=%v old=%q", changed, old)
	}
	if _, changed := p.SetContent("HP: 10> "); changed {
		t.Fatal("identical content should not report a change")
	}
	old, changed = p.SetContent("HP: 9> ")
	if !changed || old != "HP: 10> " {
		t.Fatalf("changed=%v old=%q", changed, old)
	}
}

func TestPromptModeSwitchStopsFlusher(t *testing.T) {
	var flushes atomic.Int32
	p := NewPrompt()
	p.Start(func() { flushes.Add(1) })

	// Unsignalled default: flusher armed with the default timeout.
	if p.flusher == nil {
		t.Fatal("unsignalled mode should arm a flusher")
	}

	// Switch to signalled: flusher stops, one delayed flush is scheduled so
	// content buffered before the negotiation is not lost.
	p.SetMode(SignalledMode(SignalEndOfRecord))
	if p.flusher != nil {
		t.Fatal("signalled mode should not keep a flusher")
	}
	time.Sleep(3 * DefaultPromptTimeout)
	if flushes.Load() < 1 {
		t.Fatal("expected the one-shot flush after the mode switch")
	}

	// Back to unsignalled: a fresh flusher is armed.
	p.SetMode(UnsignalledMode(50 * time.Millisecond))
	if p.flusher == nil {
		t.Fatal("unsignalled mode should re-arm the flusher")
	}
}

func TestPromptSignalBytes(t *testing.T) {
	if SignalEndOfRecord.Byte() != 239 || SignalGoAhead.Byte() != 249 {
		t.Fatalf("signal bytes %d %d", SignalEndOfRecord.Byte(), SignalGoAhead.Byte())
	}
}
