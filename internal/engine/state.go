package engine

// State is one step of a query's lifecycle. Each query walks RECEIVED,
// ANALYZED and then one SELECTED/DISPATCHED/SUCCEEDED-or-FAILED round per
// attempt, ending in SUCCEEDED or FALLBACK_ERROR.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateAnalyzed      State = "ANALYZED"
	StateSelected      State = "SELECTED"
	StateDispatched    State = "DISPATCHED"
	StateSucceeded     State = "SUCCEEDED"
	StateFailed        State = "FAILED"
	StateRetrySelect   State = "RETRY_SELECT"
	StateFallbackError State = "FALLBACK_ERROR"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFallbackError
}
