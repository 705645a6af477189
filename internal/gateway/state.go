package gateway

// State is a stage of a streaming session. Sessions move forward only:
// ADMITTED → DISPATCHED → RELAYING → FINALIZING → DONE, with FAILED
// reachable from every non-terminal state.
type State string

const (
	StateAdmitted   State = "ADMITTED"   // Guard passed, nothing sent upstream yet
	StateDispatched State = "DISPATCHED" // Upstream call issued
	StateRelaying   State = "RELAYING"   // Forwarding deltas to the caller
	StateFinalizing State = "FINALIZING" // Counting tokens, charging, recording usage
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// outcome tags what an adapter call produced. Every branch of the relay
// loop decides on the tag, never on the raw error.
type outcome int

const (
	outcomeOK     outcome = iota // Text arrived
	outcomeEmpty                 // Call succeeded without any text
	outcomeQuota                 // Provider refused for quota or rate reasons
	outcomeFailed                // Any other upstream failure
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeEmpty:
		return "empty"
	case outcomeQuota:
		return "quota"
	default:
		return "failed"
	}
}
