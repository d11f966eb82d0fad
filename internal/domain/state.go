package domain

type CallState string

const (
	StateIdle      CallState = "idle"
	StateCreating  CallState = "creating"
	StateOffering  CallState = "offering"
	StateAnswering CallState = "answering"
	StateConnected CallState = "connected"
	StateEnded     CallState = "ended"
	StateFailed    CallState = "failed"
)

var transitions = map[CallState][]CallState{
	StateIdle:      {StateCreating, StateEnded, StateFailed},
	StateCreating:  {StateOffering, StateAnswering, StateEnded, StateFailed},
	StateOffering:  {StateConnected, StateEnded, StateFailed},
	StateAnswering: {StateConnected, StateEnded, StateFailed},
	StateConnected: {StateEnded, StateFailed},
}

func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s CallState) CanTransition(next CallState) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}
