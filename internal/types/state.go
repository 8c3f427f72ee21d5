package types

// PairState is the strategy state machine position for one tracked pair.
type PairState string

const (
	PairIdle        PairState = "idle"
	PairEntering    PairState = "entering"
	PairHedged      PairState = "hedged"
	PairRebalancing PairState = "rebalancing"
	PairExiting     PairState = "exiting"
)

// Active reports whether the pair currently holds (or is acquiring) exposure.
func (s PairState) Active() bool {
	return s != PairIdle && s != ""
}

// LifecycleState is the process-wide run state. Transitions are
// stopped → running → draining → stopped; every component consults this
// instead of being killed externally.
type LifecycleState string

const (
	LifecycleStopped  LifecycleState = "stopped"
	LifecycleRunning  LifecycleState = "running"
	LifecycleDraining LifecycleState = "draining"
)
