package lifecycle

import "sync/atomic"

// Phase is the process phase reported by the health endpoint.
type Phase int32

const (
	// PhaseStarting covers startup work such as warming the store.
	PhaseStarting Phase = iota
	// PhaseServing is normal operation.
	PhaseServing
	// PhaseDraining is set once SIGTERM/SIGINT is received.
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseDraining:
		return "draining"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

func init() {
	phase.Store(int32(PhaseServing))
}

// SetPhase records the current process phase. Draining is terminal unless Reset is called.
func SetPhase(p Phase) {
	for {
		cur := Phase(phase.Load())
		if cur == PhaseDraining && p != PhaseDraining {
			return
		}
		if phase.CompareAndSwap(int32(cur), int32(p)) {
			return
		}
	}
}

// CurrentPhase returns the recorded phase.
func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// SetShuttingDown marks the process as draining. Health returns 503 shutting-down while set.
func SetShuttingDown() {
	SetPhase(PhaseDraining)
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return CurrentPhase() == PhaseDraining
}

// Reset returns to PhaseServing. Tests only.
func Reset() {
	phase.Store(int32(PhaseServing))
}
