package message

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a message moving through a graph.
type State string

const (
	// StateReady means the message has not started executing yet.
	StateReady State = "READY"

	// StateRunning means the message is being advanced by a runner.
	StateRunning State = "RUNNING"

	// StateWaiting means execution is suspended on external input.
	StateWaiting State = "WAITING"

	// StateCompleted is the successful terminal state.
	StateCompleted State = "COMPLETED"

	// StateFailed is the unsuccessful terminal state.
	StateFailed State = "FAILED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransitionTo reports whether the READY → RUNNING → {WAITING →
// RUNNING}* → {COMPLETED | FAILED} machine permits moving to next.
func (s State) CanTransitionTo(next State) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StateReady:
		return next == StateRunning || next == StateFailed
	case StateRunning:
		return next == StateWaiting || next == StateCompleted || next == StateFailed
	case StateWaiting:
		return next == StateRunning || next == StateFailed
	}
	return false
}

// Transition is one entry of a message's append-only state history.
type Transition struct {
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s(%s)@%s", t.State, t.Reason, t.Timestamp.Format(time.RFC3339Nano))
}
