package pipeline

// State is a step of the orchestrator state machine.
type State int

const (
	StateInit State = iota
	StateRulesApplied
	StateSandboxApplied
	StateAIApplied
	StateDeduplicated
	StateCompleted
	StateFailed
)

var stateNames = [...]string{
	StateInit:           "init",
	StateRulesApplied:   "rules_applied",
	StateSandboxApplied: "sandbox_applied",
	StateAIApplied:      "ai_applied",
	StateDeduplicated:   "deduplicated",
	StateCompleted:      "completed",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// next returns the state that follows s on the success path.
func (s State) next() State {
	if s >= StateCompleted {
		return s
	}
	return s + 1
}
