package task

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusReceived           Status = "received"            // Accepted, not yet analyzed
	StatusAnalyzing          Status = "analyzing"           // Analyzer call in flight
	StatusNeedsClarification Status = "needs_clarification" // Analyzer asked questions
	StatusDispatched         Status = "dispatched"          // GitHub issue created, agent assigned
	StatusCoding             Status = "coding"              // Agent reported work started
	StatusPROpen             Status = "pr_open"             // Pull request opened
	StatusMerged             Status = "merged"              // Terminal success
	StatusFailed             Status = "failed"              // Recoverable failure, retry returns to received
)

// transitions is the authoritative table of legal status edges.
// It is intentionally asymmetric: most states can fail, only failed can
// restart, and merged has no outgoing edges.
var transitions = map[Status][]Status{
	StatusReceived:           {StatusAnalyzing, StatusFailed},
	StatusAnalyzing:          {StatusNeedsClarification, StatusDispatched, StatusFailed},
	StatusNeedsClarification: {StatusDispatched, StatusFailed},
	StatusDispatched:         {StatusCoding, StatusFailed},
	StatusCoding:             {StatusPROpen, StatusFailed},
	StatusPROpen:             {StatusMerged, StatusFailed},
	StatusMerged:             {},
	StatusFailed:             {StatusReceived},
}

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && s.IsValid()
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition checks the transition table without side effects.
// Returns *InvalidTransitionError if the edge is not legal.
func ValidateTransition(current, next Status) error {
	if !current.CanTransition(next) {
		return &InvalidTransitionError{From: current, To: next}
	}
	return nil
}
