package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/launchbox/internal/action"
)

// Outcome tags how a step dispatch ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeFailed            Outcome = "failed"
	OutcomeWaitingForContext Outcome = "waiting_for_context"
	OutcomeWaitingForUser    Outcome = "waiting_for_user"
)

// Waiting reports whether the outcome suspends the plan.
func (o Outcome) Waiting() bool {
	return o == OutcomeWaitingForContext || o == OutcomeWaitingForUser
}

// Error codes carried in StepResult.Error for clients that only read that
// field. Control flow uses Outcome.
const (
	CodeWaitingForContext = "WAITING_FOR_CONTEXT"
	CodeWaitingForUser    = "WAITING_FOR_USER_INPUT"
)

// ActionRef identifies the Action a step ran.
type ActionRef struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Kind action.Kind `json:"kind"`
}

// Reasoning is the outcome of the pre-dispatch assessment.
type Reasoning struct {
	ShouldProceed  bool   `json:"shouldProceed"`
	Reasoning      string `json:"reasoning"`
	WaitingForData bool   `json:"waitingForData"`
}

// StepResult is produced once per step dispatch and never mutated.
type StepResult struct {
	StepID      string         `json:"stepId"`
	StepText    string         `json:"stepText"`
	Outcome     Outcome        `json:"outcome"`
	Success     bool           `json:"success"`
	ExecutionMS int64          `json:"executionTime"`
	ActionUsed  *ActionRef     `json:"actionUsed,omitempty"`
	Output      any            `json:"executionResult,omitempty"`
	IsLLMTask   bool           `json:"isLLMTask,omitempty"`
	Error       string         `json:"error,omitempty"`
	Question    string         `json:"question,omitempty"`
	Form        map[string]any `json:"form,omitempty"`
	Reasoning   *Reasoning     `json:"reasoning,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Summary is emitted once when a plan completes.
type Summary struct {
	ListID    string        `json:"listId"`
	Goal      string        `json:"goal"`
	Results   []*StepResult `json:"results"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// State is the lifecycle of an executor.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// validTransitions defines allowed executor state changes.
var validTransitions = map[State][]State{
	StateIdle:    {StateRunning},
	StateRunning: {StatePaused, StateCompleted, StateFailed},
	StatePaused:  {StateRunning, StateFailed},
}

// Transition returns nil if from→to is a legal transition.
func Transition(from, to State) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("no transitions from %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %q → %q", from, to)
}

// Sentinel errors for calls made in the wrong state.
var (
	ErrAlreadyStarted = errors.New("plan already started")
	ErrNotRunning     = errors.New("plan is not running")
	ErrNotPaused      = errors.New("plan is not paused")
	ErrNotBlocked     = errors.New("no step is waiting for context")
	ErrNotWaiting     = errors.New("step is not waiting for user input")
)
