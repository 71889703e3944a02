// Package lifecycle tracks whether the UI is currently visible. The gate is
// an explicitly owned value injected into whoever needs it, not process
// globals; staleness of a few milliseconds is acceptable.
package lifecycle

import "sync/atomic"

// ForegroundGate records UI visibility. Written by the UI client's
// foreground/background events, read by the notification decision path.
// Zero value means backgrounded.
type ForegroundGate struct {
	foreground atomic.Bool
}

// EnterForeground marks the UI visible.
func (g *ForegroundGate) EnterForeground() {
	g.foreground.Store(true)
}

// ExitForeground marks the UI hidden.
func (g *ForegroundGate) ExitForeground() {
	g.foreground.Store(false)
}

// Foregrounded reports whether the UI is currently visible.
func (g *ForegroundGate) Foregrounded() bool {
	return g.foreground.Load()
}
