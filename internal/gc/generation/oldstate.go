package generation

import (
	"fmt"
	"sync"
)

// OldState is one state of the old-generation lifecycle.
type OldState uint8

const (
	Idle OldState = iota
	Filling
	Bootstrapping
	Marking
	WaitingForEvac
	WaitingForFill
)

func (s OldState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Filling:
		return "FILLING"
	case Bootstrapping:
		return "BOOTSTRAPPING"
	case Marking:
		return "MARKING"
	case WaitingForEvac:
		return "WAITING_FOR_EVAC"
	case WaitingForFill:
		return "WAITING_FOR_FILL"
	default:
		return "UNKNOWN"
	}
}

// validTransitions is the explicit assertion table: any transition
// not listed here is a bug and Advance panics.
var validTransitions = map[OldState]map[OldState]bool{
	Idle:           {Filling: true},
	Filling:        {Bootstrapping: true, Idle: true},
	Bootstrapping:  {Marking: true, Idle: true},
	Marking:        {WaitingForEvac: true, WaitingForFill: true, Idle: true},
	WaitingForEvac: {Idle: true},
	WaitingForFill: {Idle: true},
}

// OldGeneration wraps Generation with the state machine that
// interleaves old marking with young collection cycles.
type OldGeneration struct {
	*Generation

	mu    sync.Mutex
	state OldState
}

func NewOld(regionSize uintptr, maxCapacity uint64) *OldGeneration {
	return &OldGeneration{
		Generation: New(Old, regionSize, maxCapacity),
		state:      Idle,
	}
}

func (o *OldGeneration) State() OldState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Advance attempts the transition current -> next. It panics if the
// transition is not in the assertion table: a fatal inconsistency
// aborts the process, since there is no recovery path for a
// corrupted state machine.
func (o *OldGeneration) Advance(next OldState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	allowed, ok := validTransitions[o.state]
	if !ok || !allowed[next] {
		panic(fmt.Sprintf("generation: invalid old-generation transition %s -> %s", o.state, next))
	}
	o.state = next
}

// CanAdvance reports whether next is a legal transition from the
// current state, without mutating state. Callers that want to choose
// between WaitingForEvac and WaitingForFill based on candidate
// availability should check this before calling Advance.
func (o *OldGeneration) CanAdvance(next OldState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	allowed, ok := validTransitions[o.state]
	return ok && allowed[next]
}

// ForceIdle is the escape hatch for global/full GC or cancellation
// while no candidates are in flight. Unlike Advance it never panics:
// it is valid from any state.
func (o *OldGeneration) ForceIdle() {
	o.mu.Lock()
	o.state = Idle
	o.mu.Unlock()
}
