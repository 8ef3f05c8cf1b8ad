package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/drake/mudlark/telnet"
)

// DefaultPromptTimeout is the unsignalled-mode flush timeout.
const DefaultPromptTimeout = 200 * time.Millisecond

// PromptSignal is the telnet command a server uses to terminate prompts.
type PromptSignal int

const (
	SignalEndOfRecord PromptSignal = iota
	SignalGoAhead
)

// Byte returns the IAC command byte for the signal.
func (s PromptSignal) Byte() byte {
	if s == SignalGoAhead {
		return telnet.CmdGA
	}
	return telnet.CmdEOR
}

func (s PromptSignal) String() string {
	if s == PromptSignal(SignalGoAhead) {
		return "go ahead (GA)"
	}
	return "end of record (EOR)"
}

// PromptModeKind discriminates the prompt detection strategy.
type PromptModeKind int

const (
	// PromptUnsignalled uses the inactivity-timeout heuristic: buffered
	// content that sits unterminated past the timeout is flushed as a
	// prompt.
	PromptUnsignalled PromptModeKind = iota
	// PromptSignalled relies on the server terminating prompts with EOR or
	// GA.
	PromptSignalled
)

// PromptMode describes how prompts are detected for a session.
type PromptMode struct {
	Kind    PromptModeKind
	Timeout time.Duration // Unsignalled
	Signal  PromptSignal  // Signalled
}

// UnsignalledMode creates the heuristic mode with the given flush timeout.
func UnsignalledMode(timeout time.Duration) PromptMode {
	return PromptMode{Kind: PromptUnsignalled, Timeout: timeout}
}

// SignalledMode creates the explicit-signal mode.
func SignalledMode(signal PromptSignal) PromptMode {
	return PromptMode{Kind: PromptSignalled, Signal: signal}
}

// DefaultPromptMode is unsignalled with the default timeout.
func DefaultPromptMode() PromptMode {
	return UnsignalledMode(DefaultPromptTimeout)
}

func (m PromptMode) String() string {
	if m.Kind == PromptSignalled {
		return fmt.Sprintf("signalled prompt mode (%s)", m.Signal)
	}
	return fmt.Sprintf("unsignalled prompt mode (%s flush timeout)", m.Timeout)
}

// Flusher fires a flush callback after a quiet period. Every received full
// line extends the countdown; when it expires the session asks the codec
// for its partial line and treats the content as a prompt.
type Flusher struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	stopped bool
}

// NewFlusher arms a flusher that calls fire after timeout of inactivity.
func NewFlusher(timeout time.Duration, fire func()) *Flusher {
	f := &Flusher{timeout: timeout}
	f.timer = time.AfterFunc(timeout, fire)
	return f
}

// ExtendTimeout restarts the countdown.
func (f *Flusher) ExtendTimeout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.timer.Reset(f.timeout)
}

// Stop aborts the flusher. Safe to call more than once.
func (f *Flusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.timer.Stop()
}

// Prompt tracks a session's prompt mode and current content, owning the
// flusher when the mode requires one.
type Prompt struct {
	mode    PromptMode
	content string
	flusher *Flusher

	// fire delivers a flush request to the connection task. Set once the
	// session connects.
	fire func()
}

// NewPrompt creates a prompt in the default unsignalled mode with no
// flusher; the flusher starts on connect.
func NewPrompt() *Prompt {
	return &Prompt{mode: DefaultPromptMode()}
}

// Mode returns the current prompt mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}

// Content returns the current prompt content.
func (p *Prompt) Content() string {
	return p.content
}

// SetContent updates the prompt content, returning the previous content and
// whether it changed.
func (p *Prompt) SetContent(content string) (string, bool) {
	if p.content == content {
		return content, false
	}
	old := p.content
	p.content = content
	return old, true
}

// Start binds the prompt to a connection's flush delivery and arms the
// flusher when the mode requires one.
func (p *Prompt) Start(fire func()) {
	p.fire = fire
	p.startFlusher()
}

// Stop tears down the flusher and connection binding on disconnect.
func (p *Prompt) Stop() {
	if p.flusher != nil {
		p.flusher.Stop()
		p.flusher = nil
	}
	p.fire = nil
}

// ExtendTimeout postpones the heuristic flush; called for every full line.
func (p *Prompt) ExtendTimeout() {
	if p.flusher != nil {
		p.flusher.ExtendTimeout()
	}
}

// SetMode switches prompt detection, returning the previous mode. Switching
// from unsignalled to signalled schedules one delayed flush so content
// buffered before the negotiation isn't lost.
func (p *Prompt) SetMode(mode PromptMode) PromptMode {
	old := p.mode
	p.mode = mode

	hadFlusher := p.flusher != nil
	if p.flusher != nil {
		p.flusher.Stop()
		p.flusher = nil
	}
	if p.fire == nil {
		return old
	}

	p.startFlusher()
	if hadFlusher && p.flusher == nil {
		fire := p.fire
		time.AfterFunc(DefaultPromptTimeout, fire)
	}
	return old
}

func (p *Prompt) startFlusher() {
	if p.fire == nil || p.mode.Kind != PromptUnsignalled {
		return
	}
	p.flusher = NewFlusher(p.mode.Timeout, p.fire)
}
