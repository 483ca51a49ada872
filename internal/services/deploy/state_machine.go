package deploy

import (
	"fmt"
	"sync"
	"time"

	"github.com/flowdeploy-go/pkg/logger"
)

// RunState is one phase of a deployment run.
type RunState string

const (
	StatePending    RunState = "PENDING"
	StateLoading    RunState = "LOAD"
	StateInjecting  RunState = "INJECT"
	StateValidating RunState = "VALIDATE"
	StateResolving  RunState = "RESOLVE_ORDER"
	StateChecking   RunState = "CHECK_EXTERNAL_RESOURCES"
	StateDeploying  RunState = "DEPLOY"
	StateCollecting RunState = "COLLECT_RESULTS"

	// Terminal states
	StateCompleted    RunState = "COMPLETED"
	StateFailed       RunState = "FAILED"
	StateDryRunOK     RunState = "DRY_RUN_OK"
	StateDryRunFailed RunState = "DRY_RUN_FAILED"
)

// RunEvent triggers a state transition.
type RunEvent string

const (
	EventLoad       RunEvent = "load"
	EventInject     RunEvent = "inject"
	EventValidate   RunEvent = "validate"
	EventResolve    RunEvent = "resolve"
	EventCheck      RunEvent = "check"
	EventDeploy     RunEvent = "deploy"
	EventCollect    RunEvent = "collect"
	EventComplete   RunEvent = "complete"
	EventFail       RunEvent = "fail"
	EventDryRunPass RunEvent = "dry_run_pass"
	EventDryRunFail RunEvent = "dry_run_fail"
)

// StateTransition records one transition for the run history.
type StateTransition struct {
	FromState RunState  `json:"fromState"`
	ToState   RunState  `json:"toState"`
	Event     RunEvent  `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions defines the run's legal state machine. A dry run exits
// after VALIDATE, or after CHECK_EXTERNAL_RESOURCES when resource checks
// were requested, and never reaches DEPLOY.
var validTransitions = map[RunState]map[RunEvent]RunState{
	StatePending: {
		EventLoad: StateLoading,
		EventFail: StateFailed,
	},
	StateLoading: {
		EventInject: StateInjecting,
		EventFail:   StateFailed,
	},
	StateInjecting: {
		EventValidate: StateValidating,
		EventFail:     StateFailed,
	},
	StateValidating: {
		EventResolve:    StateResolving,
		EventFail:       StateFailed,
		EventDryRunPass: StateDryRunOK,
		EventDryRunFail: StateDryRunFailed,
	},
	StateResolving: {
		EventCheck:      StateChecking,
		EventFail:       StateFailed,
		EventDryRunFail: StateDryRunFailed,
	},
	StateChecking: {
		EventDeploy:     StateDeploying,
		EventFail:       StateFailed,
		EventDryRunPass: StateDryRunOK,
		EventDryRunFail: StateDryRunFailed,
	},
	StateDeploying: {
		EventCollect: StateCollecting,
		EventFail:    StateFailed,
	},
	StateCollecting: {
		EventComplete: StateCompleted,
		EventFail:     StateFailed,
	},
	// Terminal states have no transitions.
	StateCompleted:    {},
	StateFailed:       {},
	StateDryRunOK:     {},
	StateDryRunFailed: {},
}

// StateMachine tracks a run through its phases and keeps the transition
// history for the final report.
type StateMachine struct {
	mu      sync.RWMutex
	runID   string
	state   RunState
	history []StateTransition
	logger  logger.Logger
}

func NewStateMachine(runID string, log logger.Logger) *StateMachine {
	return &StateMachine{
		runID:   runID,
		state:   StatePending,
		history: []StateTransition{},
		logger:  log,
	}
}

// Transition applies an event, rejecting anything the table does not allow.
func (sm *StateMachine) Transition(event RunEvent) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	transitions, ok := validTransitions[sm.state]
	if !ok {
		return fmt.Errorf("no transitions defined for state %s", sm.state)
	}

	next, ok := transitions[event]
	if !ok {
		return fmt.Errorf("invalid transition from %s on event %s", sm.state, event)
	}

	sm.history = append(sm.history, StateTransition{
		FromState: sm.state,
		ToState:   next,
		Event:     event,
		Timestamp: time.Now(),
	})

	sm.logger.Info("run state transitioned",
		"run", sm.runID,
		"from", string(sm.state),
		"to", string(next))

	sm.state = next
	return nil
}

func (sm *StateMachine) State() RunState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

func (sm *StateMachine) History() []StateTransition {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]StateTransition{}, sm.history...)
}

// IsTerminal reports whether the run has reached a terminal state.
func (sm *StateMachine) IsTerminal() bool {
	switch sm.State() {
	case StateCompleted, StateFailed, StateDryRunOK, StateDryRunFailed:
		return true
	default:
		return false
	}
}
