package agent

// State is the agent's position in the charge pipeline.
type State int

const (
	StateIdle State = iota
	StateCheckingPolicy
	StateCheckingAdvisory
	StateSigning
	StateRecording
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingPolicy:
		return "checking_policy"
	case StateCheckingAdvisory:
		return "checking_advisory"
	case StateSigning:
		return "signing"
	case StateRecording:
		return "recording"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}
