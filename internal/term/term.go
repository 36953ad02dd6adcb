// Package term switches the host terminal into raw mode for the
// duration of a UART session and restores it afterward, generalizing
// the teacher's package-level setupTerminal/restoreTerminal pair
// (main.go) into a small interface with a real and a headless
// implementation that run identically under a TTY and under a test
// harness with redirected stdio. cmd/rvemu does not import this
// package; it keeps its own setupTerminal/restoreTerminal.
package term

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// Terminal puts the controlling terminal into raw mode and restores
// it on Restore. Restore is always safe to call, including when Setup
// was never called or failed.
type Terminal interface {
	Setup() error
	Restore()
}

// Real drives the actual stdin terminal via golang.org/x/term, the
// same library the teacher uses.
type Real struct {
	fd    int
	state *term.State
}

// NewReal creates a Terminal bound to os.Stdin.
func NewReal() *Real {
	return &Real{fd: int(os.Stdin.Fd())}
}

func (r *Real) Setup() error {
	if !term.IsTerminal(r.fd) {
		return nil
	}
	state, err := term.GetState(r.fd)
	if err != nil {
		return fmt.Errorf("term: get state: %w", err)
	}
	r.state = state
	if _, err := term.MakeRaw(r.fd); err != nil {
		return fmt.Errorf("term: make raw: %w", err)
	}
	return nil
}

func (r *Real) Restore() {
	if r.state != nil && term.IsTerminal(r.fd) {
		term.Restore(r.fd, r.state)
	}
}

// Null is a no-op Terminal for test mode and non-interactive runs
// (piped stdin, CI), where there is no TTY to put in raw mode.
type Null struct{}

func (Null) Setup() error { return nil }
func (Null) Restore()     {}
