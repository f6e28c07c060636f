package pipeline

import "sync/atomic"

// Gate admits at most one extraction cycle at a time.
//
// The zero value is an idle gate.
type Gate struct {
	inFlight atomic.Bool
}

// TryEnter moves the gate from idle to in-flight. It returns false, changing
// nothing, when a cycle is already in flight.
func (g *Gate) TryEnter() bool {
	return g.inFlight.CompareAndSwap(false, true)
}

// Exit returns the gate to idle.
func (g *Gate) Exit() {
	g.inFlight.Store(false)
}

// InFlight reports the current state. It is for status reporting; use
// TryEnter to start work.
func (g *Gate) InFlight() bool {
	return g.inFlight.Load()
}
