package session

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle means no interview is running.
	StateIdle State = iota

	// StateConnecting covers fetching the signed URL, dialing the agent,
	// sending the session-start message and acquiring the microphone.
	StateConnecting

	// StateLive means audio flows in both directions.
	StateLive

	// StateEnding is entered when the user ends the interview and lasts until
	// every resource has been released.
	StateEnding

	// StateError is terminal for the attempt. [Session.Err] describes the
	// failure; a new [Session.Begin] is needed to try again.
	StateError
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateEnding:
		return "ending"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
