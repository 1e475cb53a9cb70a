package firefox

// State is the orchestrator's progress through setup.
type State int

const (
	StateIdle State = iota
	StateBiDiReady
	StateRDPReady
	StateMarionetteReady
	StateCDPAttached
	StateNavigatingNewSpec
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBiDiReady:
		return "bidi_ready"
	case StateRDPReady:
		return "rdp_ready"
	case StateMarionetteReady:
		return "marionette_ready"
	case StateCDPAttached:
		return "cdp_attached"
	case StateNavigatingNewSpec:
		return "navigating_new_spec"
	default:
		return "unknown"
	}
}

// canAdvance reports whether the session may move from s to next. Phases finish in
// any order, so a later state is never overwritten by an earlier one. The only way
// back is a spec navigation returning to CDPAttached.
func (s State) canAdvance(next State) bool {
	if s == StateNavigatingNewSpec && next == StateCDPAttached {
		return true
	}
	return next > s
}
