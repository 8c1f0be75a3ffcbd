package listener

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the lifecycle state of one listener.
type State string

// Listener lifecycle states, in order.
const (
	StateStarting State = "starting"
	StateServing  State = "serving"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

var states = []State{StateStarting, StateServing, StateDraining, StateStopped}

func (s State) rank() int {
	for i, st := range states {
		if st == s {
			return i
		}
	}
	return -1
}

// stateMachine tracks a listener's state. Transitions only move forward;
// draining may be skipped when a bind or serve failure stops the listener.
type stateMachine struct {
	mu    sync.RWMutex
	state State
	addr  string
	gauge *prometheus.GaugeVec // optional, labels listener and state
}

func newStateMachine(addr string, gauge *prometheus.GaugeVec) *stateMachine {
	sm := &stateMachine{state: StateStarting, addr: addr, gauge: gauge}
	sm.export()
	return sm
}

// State returns the current state.
func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// transitionTo moves to next and reports whether it did. Moving backwards
// or to the current state is a no-op.
func (sm *stateMachine) transitionTo(next State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if next.rank() <= sm.state.rank() {
		return false
	}
	sm.state = next
	sm.exportLocked()
	return true
}

func (sm *stateMachine) export() {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.exportLocked()
}

func (sm *stateMachine) exportLocked() {
	if sm.gauge == nil {
		return
	}
	for _, st := range states {
		v := 0.0
		if st == sm.state {
			v = 1
		}
		sm.gauge.WithLabelValues(sm.addr, string(st)).Set(v)
	}
}
