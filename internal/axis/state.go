package axis

// State is one of the four subsystem states shared by every axis controller
// (spec §3's AxisSubsystemState): Defunct blocks on an in-flight register
// read, Homing covers fault recovery and the homing/configuration sequence,
// Targeting is in-motion, Reached means the target is satisfied within
// tolerance.
type State int

const (
	Defunct State = iota
	Homing
	Targeting
	Reached
)

func (s State) String() string {
	switch s {
	case Defunct:
		return "DEFUNCT"
	case Homing:
		return "HOMING"
	case Targeting:
		return "TARGETING"
	case Reached:
		return "REACHED"
	default:
		return "UNKNOWN"
	}
}

// Phase selects which of a controller's two step functions the driving loop
// calls next: Init runs the fault-clear/configure/home sequence until it
// reports Targeting; Control runs the target-tracking step until it reports
// Homing (fault, lost reference, or mode change), at which point the loop
// falls back to Init.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseControl
)

// NextPhase applies the phase-transition rule shared by rudder and sail
// controllers: Init phase hands off to Control once Targeting is reached;
// Control phase falls back to Init once Homing is reported.
func NextPhase(phase Phase, state State) Phase {
	switch phase {
	case PhaseInit:
		if state == Targeting {
			return PhaseControl
		}
		return PhaseInit
	default:
		if state == Homing {
			return PhaseInit
		}
		return PhaseControl
	}
}
