package session

import (
	"unicode"

	"github.com/mattn/go-runewidth"

	"github.com/drake/mudlark/mud"
)

const historyLimit = 1000

// Input is the editable input line for a session. The cursor is
// char-indexed; visual positions are computed separately so wide (CJK)
// characters render correctly in fixed-width terminals.
type Input struct {
	value  []rune
	cursor int
	echo   mud.EchoState

	history    []string
	historyPos int
}

// NewInput creates an empty input model with normal echo.
func NewInput() *Input {
	return &Input{historyPos: -1}
}

// Value returns the current line content.
func (in *Input) Value() string {
	return string(in.value)
}

// Cursor returns the char-indexed cursor position, always in
// [0, char_count].
func (in *Input) Cursor() int {
	return in.cursor
}

// Echo returns the current telnet-driven echo state.
func (in *Input) Echo() mud.EchoState {
	return in.echo
}

// SetTelnetEcho switches between normal and password echo. Driven by the
// server's ECHO option negotiation.
func (in *Input) SetTelnetEcho(password bool) {
	if password {
		in.echo = mud.EchoPassword
	} else {
		in.echo = mud.EchoNormal
	}
}

// Insert adds a character at the cursor.
func (in *Input) Insert(r rune) {
	in.value = append(in.value[:in.cursor], append([]rune{r}, in.value[in.cursor:]...)...)
	in.cursor++
}

// SetValue replaces the line content, clamping the cursor to the end.
func (in *Input) SetValue(s string) {
	in.value = []rune(s)
	in.cursor = len(in.value)
}

// SetCursor moves the cursor, clamped to [0, char_count].
func (in *Input) SetCursor(pos int) {
	in.cursor = clamp(pos, 0, len(in.value))
}

// DeletePrev removes the character before the cursor.
func (in *Input) DeletePrev() {
	if in.cursor == 0 {
		return
	}
	in.value = append(in.value[:in.cursor-1], in.value[in.cursor:]...)
	in.cursor--
}

// DeleteNext removes the character at the cursor.
func (in *Input) DeleteNext() {
	if in.cursor >= len(in.value) {
		return
	}
	in.value = append(in.value[:in.cursor], in.value[in.cursor+1:]...)
}

// DeleteWordLeft removes from the start of the previous word to the cursor.
func (in *Input) DeleteWordLeft() {
	start := in.prevWordBoundary()
	in.value = append(in.value[:start], in.value[in.cursor:]...)
	in.cursor = start
}

// DeleteWordRight removes from the cursor to the end of the next word.
func (in *Input) DeleteWordRight() {
	end := in.nextWordBoundary()
	in.value = append(in.value[:in.cursor], in.value[end:]...)
}

// DeleteToEnd removes everything from the cursor to the end of the line.
func (in *Input) DeleteToEnd() {
	in.value = in.value[:in.cursor]
}

// CursorLeft moves the cursor one character left.
func (in *Input) CursorLeft() {
	if in.cursor > 0 {
		in.cursor--
	}
}

// CursorRight moves the cursor one character right.
func (in *Input) CursorRight() {
	if in.cursor < len(in.value) {
		in.cursor++
	}
}

// CursorWordLeft moves the cursor to the start of the previous word.
func (in *Input) CursorWordLeft() {
	in.cursor = in.prevWordBoundary()
}

// CursorWordRight moves the cursor past the end of the next word.
func (in *Input) CursorWordRight() {
	in.cursor = in.nextWordBoundary()
}

// CursorStart moves the cursor to the beginning of the line.
func (in *Input) CursorStart() {
	in.cursor = 0
}

// CursorEnd moves the cursor past the last character.
func (in *Input) CursorEnd() {
	in.cursor = len(in.value)
}

// Reset clears the line and cursor, preserving the echo state.
func (in *Input) Reset() {
	in.value = in.value[:0]
	in.cursor = 0
	in.historyPos = -1
}

// Pop yields the current line and resets the model. Password-echo lines
// are never retained in history.
func (in *Input) Pop() mud.InputLine {
	line := mud.NewInputLine(string(in.value), in.echo)
	if line.Sent != "" && in.echo == mud.EchoNormal {
		in.history = append(in.history, line.Sent)
		if len(in.history) > historyLimit {
			in.history = in.history[len(in.history)-historyLimit:]
		}
	}
	in.Reset()
	return line
}

// HistoryPrev replaces the line with the previous history entry.
func (in *Input) HistoryPrev() {
	if len(in.history) == 0 {
		return
	}
	if in.historyPos == -1 {
		in.historyPos = len(in.history) - 1
	} else if in.historyPos > 0 {
		in.historyPos--
	}
	in.value = []rune(in.history[in.historyPos])
	in.cursor = len(in.value)
}

// HistoryNext replaces the line with the next history entry, clearing the
// line when walking past the newest entry.
func (in *Input) HistoryNext() {
	if in.historyPos == -1 {
		return
	}
	in.historyPos++
	if in.historyPos >= len(in.history) {
		in.historyPos = -1
		in.value = in.value[:0]
		in.cursor = 0
		return
	}
	in.value = []rune(in.history[in.historyPos])
	in.cursor = len(in.value)
}

// Display returns the text to render, obscured under password echo.
func (in *Input) Display() string {
	if in.echo == mud.EchoPassword {
		masked := make([]rune, len(in.value))
		for i := range masked {
			masked[i] = '*'
		}
		return string(masked)
	}
	return string(in.value)
}

// VisualCursor returns the display column of the cursor, accounting for
// East-Asian wide characters.
func (in *Input) VisualCursor() int {
	width := 0
	for _, r := range in.value[:in.cursor] {
		width += runewidth.RuneWidth(r)
	}
	return width
}

// VisualScroll returns the display columns to skip so the cursor stays
// visible in a viewport of the given width.
func (in *Input) VisualScroll(viewWidth int) int {
	if viewWidth <= 0 {
		return 0
	}
	cursor := in.VisualCursor()
	if cursor < viewWidth {
		return 0
	}
	return cursor - viewWidth + 1
}

// prevWordBoundary returns the index of the start of the word before the
// cursor. Word characters are alphanumeric.
func (in *Input) prevWordBoundary() int {
	i := in.cursor
	for i > 0 && !isWordRune(in.value[i-1]) {
		i--
	}
	for i > 0 && isWordRune(in.value[i-1]) {
		i--
	}
	return i
}

// nextWordBoundary returns the index just past the word after the cursor.
func (in *Input) nextWordBoundary() int {
	i := in.cursor
	for i < len(in.value) && !isWordRune(in.value[i]) {
		i++
	}
	for i < len(in.value) && isWordRune(in.value[i]) {
		i++
	}
	return i
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
