// Package ui defines the boundary between the core and the terminal front
// end, plus two implementations: a headless UI for scripted/automated runs
// and a minimal bubbletea TUI.
package ui

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/drake/mudlark/session"
)

// UI is what the app coordinator drives. The core never renders; it hands
// buffer items and prompt updates across this interface and receives
// submitted input lines back.
type UI interface {
	// Run blocks until the UI exits or ctx is cancelled.
	Run(ctx context.Context) error

	// Input yields lines the user submitted.
	Input() <-chan string

	// Render displays freshly drained output items for the active session.
	Render(items []session.OutputItem)

	// SetPrompt updates the prompt overlay.
	SetPrompt(text string)

	// SetStatus updates the status line (active session, connection state).
	SetStatus(text string)

	// Quit asks the UI to exit.
	Quit()
}

// Headless is the no-terminal UI used by --headless mode and tests.
// Rendering is discarded (sessions still log through the normal channels);
// input never arrives.
type Headless struct {
	quit chan struct{}
}

// NewHeadless creates a headless UI.
func NewHeadless() *Headless {
	return &Headless{quit: make(chan struct{})}
}

// Run blocks until Quit or cancellation.
func (h *Headless) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-h.quit:
	}
	return nil
}

// Input returns a nil channel; headless mode has no keyboard.
func (h *Headless) Input() <-chan string {
	return nil
}

// Render drops items, tracing them at debug level.
func (h *Headless) Render(items []session.OutputItem) {
	for _, item := range items {
		log.WithField("kind", item.Kind).Debug(item.Line.String() + item.Message)
	}
}

// SetPrompt is a no-op.
func (h *Headless) SetPrompt(string) {}

// SetStatus is a no-op.
func (h *Headless) SetStatus(string) {}

// Quit unblocks Run. Safe to call once.
func (h *Headless) Quit() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
}
