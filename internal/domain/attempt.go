package domain

import "fmt"

// AttemptState is the state of a single execution attempt of a job
type AttemptState string

const (
	AttemptPending   AttemptState = "pending"
	AttemptRunning   AttemptState = "running"
	AttemptSucceeded AttemptState = "succeeded"
	AttemptFailed    AttemptState = "failed"
)

var attemptTransitions = map[AttemptState][]AttemptState{
	AttemptPending: {AttemptRunning},
	AttemptRunning: {AttemptSucceeded, AttemptFailed},
}

// IsValidAttemptTransition reports whether from -> to is allowed within one attempt.
// Terminal states have no outgoing transitions; a retry is a new attempt.
func IsValidAttemptTransition(from, to AttemptState) bool {
	for _, next := range attemptTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AuditStatus maps an attempt state onto the audit record it produces.
// Pending is never recorded.
func (s AttemptState) AuditStatus() (AuditStatus, bool) {
	switch s {
	case AttemptRunning:
		return AuditStatusStarted, true
	case AttemptSucceeded:
		return AuditStatusCompleted, true
	case AttemptFailed:
		return AuditStatusFailed, true
	}
	return "", false
}

// Attempt tracks one execution attempt of a job request
type Attempt struct {
	Request JobRequest
	State   AttemptState
}

// NewAttempt starts a pending attempt for the request, assigning an id if needed
func NewAttempt(req JobRequest) *Attempt {
	return &Attempt{Request: req.WithID(), State: AttemptPending}
}

// Transition moves the attempt to the next state
func (a *Attempt) Transition(to AttemptState) error {
	if !IsValidAttemptTransition(a.State, to) {
		return fmt.Errorf("invalid attempt transition %s -> %s", a.State, to)
	}
	a.State = to
	return nil
}

// IsTerminal reports whether the attempt has reached succeeded or failed
func (a *Attempt) IsTerminal() bool {
	return a.State == AttemptSucceeded || a.State == AttemptFailed
}
