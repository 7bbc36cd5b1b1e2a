package chunk

// State is the owner-side lifecycle state of a chunk.
type State string

const (
	// StatePending means a store round is in flight and ACKs are accumulating.
	StatePending State = "pending"
	// StateQuorate means at least quorum distinct holders have ACKed.
	StateQuorate State = "quorate"
	// StateDegraded means the last audit round found fewer than quorum valid holders.
	StateDegraded State = "degraded"
	// StateHealing means re-replication is in flight to restore quorum.
	StateHealing State = "healing"
	// StateAbandoned is terminal: the owner deleted the chunk.
	StateAbandoned State = "abandoned"
)

// validTransitions encodes the owner-side lifecycle:
// Pending -> Quorate -> Degraded -> Healing -> Quorate, Abandoned from anywhere.
var validTransitions = map[State][]State{
	StatePending:  {StateQuorate, StateAbandoned},
	StateQuorate:  {StateDegraded, StateAbandoned},
	StateDegraded: {StateHealing, StateAbandoned},
	StateHealing:  {StateQuorate, StateDegraded, StateAbandoned},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s State) CanTransition(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateAbandoned
}
