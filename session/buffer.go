package session

import "github.com/drake/mudlark/mud"

// OutputKind identifies the variant of an OutputItem.
type OutputKind int

const (
	// OutputMud is a received, terminated line.
	OutputMud OutputKind = iota
	// OutputInput is an echoed input line.
	OutputInput
	// OutputPrompt is a detected prompt line.
	OutputPrompt
	// OutputHeldPrompt is a prompt line recorded in place of OutputPrompt
	// when hold_prompt is set for the MUD.
	OutputHeldPrompt
	// OutputConnection is a connection lifecycle message.
	OutputConnection
	// OutputCommandResult is the outcome of a slash or script command.
	OutputCommandResult
	// OutputDebug is diagnostic output (e.g. echoed GMCP traffic).
	OutputDebug
	// OutputError is a user-visible error message.
	OutputError
)

// OutputItem is one entry in a session's output buffer.
type OutputItem struct {
	Kind    OutputKind
	Line    mud.MudLine   // Mud, Prompt, HeldPrompt
	Input   mud.InputLine // Input
	Message string        // Connection, CommandResult, Debug, Error
	Info    *mud.ConnectionInfo
	// Failed marks a CommandResult that reports an error.
	Failed bool
}

// MudItem wraps a received line as a buffer item.
func MudItem(line mud.MudLine) OutputItem {
	return OutputItem{Kind: OutputMud, Line: line}
}

// InputItem wraps a sent input line as a buffer item.
func InputItem(line mud.InputLine) OutputItem {
	return OutputItem{Kind: OutputInput, Input: line}
}

// PromptItem wraps a prompt line as a buffer item.
func PromptItem(line mud.MudLine) OutputItem {
	return OutputItem{Kind: OutputPrompt, Line: line}
}

// HeldPromptItem wraps a held prompt line as a buffer item.
func HeldPromptItem(line mud.MudLine) OutputItem {
	return OutputItem{Kind: OutputHeldPrompt, Line: line}
}

// ConnectionItem creates a connection lifecycle message item.
func ConnectionItem(message string, info *mud.ConnectionInfo) OutputItem {
	return OutputItem{Kind: OutputConnection, Message: message, Info: info}
}

// CommandResultItem creates a command outcome item.
func CommandResultItem(failed bool, message string) OutputItem {
	return OutputItem{Kind: OutputCommandResult, Failed: failed, Message: message}
}

// DebugItem creates a diagnostic output item.
func DebugItem(message string) OutputItem {
	return OutputItem{Kind: OutputDebug, Message: message}
}

// ErrorItem creates a user-visible error item.
func ErrorItem(message string) OutputItem {
	return OutputItem{Kind: OutputError, Message: message}
}

// maxBufferItems bounds buffer growth; the oldest items are dropped first.
const maxBufferItems = 10000

// Buffer is an append-only log of output items with an advisory counter of
// items added since the last drain. The consumer (the TUI) uses the counter
// to preserve scroll position when new data arrives while scrolled back.
type Buffer struct {
	name    string
	items   []OutputItem
	newData int
}

// NewBuffer creates an empty buffer with the given name.
func NewBuffer(name string) *Buffer {
	return &Buffer{name: name, items: make([]OutputItem, 0, 256)}
}

// Name returns the buffer's name.
func (b *Buffer) Name() string {
	return b.name
}

// Add appends one item.
func (b *Buffer) Add(item OutputItem) {
	b.items = append(b.items, item)
	b.newData++
	b.trim()
}

// AddMultiple appends several items.
func (b *Buffer) AddMultiple(items ...OutputItem) {
	b.items = append(b.items, items...)
	b.newData += len(items)
	b.trim()
}

// Len returns the number of retained items.
func (b *Buffer) Len() int {
	return len(b.items)
}

// Items returns all retained items, oldest first.
func (b *Buffer) Items() []OutputItem {
	return b.items
}

// NewData returns the count of items added since the last TakeReceived.
func (b *Buffer) NewData() int {
	return b.newData
}

// TakeReceived returns the items added since the last drain and resets the
// counter.
func (b *Buffer) TakeReceived() []OutputItem {
	n := b.newData
	b.newData = 0
	if n == 0 {
		return nil
	}
	if n > len(b.items) {
		n = len(b.items)
	}
	return b.items[len(b.items)-n:]
}

func (b *Buffer) trim() {
	if len(b.items) <= maxBufferItems {
		return
	}
	overflow := len(b.items) - maxBufferItems
	b.items = append(b.items[:0], b.items[overflow:]...)
	if b.newData > len(b.items) {
		b.newData = len(b.items)
	}
}
