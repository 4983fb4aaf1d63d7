// Package saga coordinates multi-step operations with compensating
// transactions.
//
// A saga is a named list of steps. Each step names an action whose
// handler is registered on the Orchestrator, and optionally a
// compensation action that undoes it. Steps run one at a time: the
// orchestrator repeatedly picks the first step in declared order whose
// dependencies have all completed. When a step fails past its retries,
// every completed step is compensated in reverse completion order.
//
// Progress is published as saga.* events on the event bus.
package saga

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Status is the state of a saga transaction.
//
//	started -> executing -> completed
//	                     -> failed -> compensating -> compensated
//
// Only completed and compensated are terminal. Compensated means the saga
// failed and its completed steps were undone.
type Status string

const (
	StatusStarted      Status = "started"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// Terminal reports whether the saga has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated
}

// StepStatus is the state of one step within a transaction.
type StepStatus string

const (
	StepPending      StepStatus = "pending"
	StepExecuting    StepStatus = "executing"
	StepCompleted    StepStatus = "completed"
	StepFailed       StepStatus = "failed"
	StepCompensating StepStatus = "compensating"
	StepCompensated  StepStatus = "compensated"
)

// Step defines one unit of work in a saga.
type Step struct {
	// ID is unique within the saga and keys its result.
	ID string `json:"id"`

	Name string `json:"name"`

	// Service is the logical owner of the action. Informational.
	Service string `json:"service,omitempty"`

	// Action selects the registered StepHandler.
	Action string `json:"action"`

	// CompensationAction selects the registered CompensationHandler.
	// Empty means the step is not compensated.
	CompensationAction string `json:"compensationAction,omitempty"`

	// Timeout bounds each attempt. Zero uses Config.DefaultStepTimeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// RetryAttempts is the number of retries after the first failure.
	RetryAttempts int `json:"retryAttempts,omitempty"`

	// Dependencies are step IDs that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Data is passed through to handlers untouched.
	Data map[string]any `json:"data,omitempty"`
}

// StepResult records the outcome of a step.
type StepResult struct {
	Status              StepStatus    `json:"status"`
	Result              any           `json:"result,omitempty"`
	Error               string        `json:"error,omitempty"`
	ExecutionTime       time.Duration `json:"executionTime"`
	RetryCount          int           `json:"retryCount"`
	StartedAt           time.Time     `json:"startedAt,omitzero"`
	FinishedAt          time.Time     `json:"finishedAt,omitzero"`
	CompensationError   string        `json:"compensationError,omitempty"`
	CompensationSkipped string        `json:"compensationSkipped,omitempty"`
}

// StepHandler performs a step's action. The returned result is stored in
// the saga context under "<stepID>_result".
type StepHandler func(ctx context.Context, step Step, sagaCtx map[string]any) (any, error)

// CompensationHandler undoes a completed step. It should be idempotent;
// its error is logged and does not stop the remaining compensations.
type CompensationHandler func(ctx context.Context, step Step, sagaCtx map[string]any) error

// Transaction is the state of one saga run.
type Transaction struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	CorrelationID string                `json:"correlationId"`
	Steps         []Step                `json:"steps"`
	Status        Status                `json:"status"`
	Context       map[string]any        `json:"context"`
	StepResults   map[string]StepResult `json:"stepResults"`
	Error         string                `json:"error,omitempty"`

	// CompletionOrder lists step IDs in the order they completed.
	CompletionOrder []string `json:"completionOrder,omitempty"`

	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	CompensatedAt *time.Time `json:"compensatedAt,omitempty"`

	mu sync.Mutex
}

// Clone returns a copy safe to read without the orchestrator's locks.
// Maps and slices are copied one level deep.
func (t *Transaction) Clone() *Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cloneLocked()
}

func (t *Transaction) cloneLocked() *Transaction {
	return &Transaction{
		ID:              t.ID,
		Name:            t.Name,
		CorrelationID:   t.CorrelationID,
		Steps:           cloneSteps(t.Steps),
		Status:          t.Status,
		Context:         maps.Clone(t.Context),
		StepResults:     maps.Clone(t.StepResults),
		Error:           t.Error,
		CompletionOrder: slices.Clone(t.CompletionOrder),
		StartedAt:       t.StartedAt,
		CompletedAt:     clonePtr(t.CompletedAt),
		FailedAt:        clonePtr(t.FailedAt),
		CompensatedAt:   clonePtr(t.CompensatedAt),
	}
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		s.Dependencies = slices.Clone(s.Dependencies)
		s.Data = maps.Clone(s.Data)
		out[i] = s
	}
	return out
}

func clonePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// updateStep applies fn to the result for stepID under the lock.
func (t *Transaction) updateStep(stepID string, fn func(*StepResult)) StepResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.StepResults[stepID]
	fn(&r)
	t.StepResults[stepID] = r
	return r
}

func (t *Transaction) setStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = s
}

// contextSnapshot copies the saga context for handing to a handler.
func (t *Transaction) contextSnapshot() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.Context)
}

// nextStep scans steps in declared order and returns the first one that
// has not completed or failed and whose dependencies have all completed.
func (t *Transaction) nextStep() (Step, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, step := range t.Steps {
		switch t.StepResults[step.ID].Status {
		case StepCompleted, StepFailed:
			continue
		}
		ready := true
		for _, dep := range step.Dependencies {
			if t.StepResults[dep].Status != StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			return step, true
		}
	}
	return Step{}, false
}

// allCompleted reports whether every step has completed.
func (t *Transaction) allCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, step := range t.Steps {
		if t.StepResults[step.ID].Status != StepCompleted {
			return false
		}
	}
	return true
}
