package saga

import "github.com/randalmurphal/sagabus/pkg/sagabus/event"

// Source is the event source of all saga lifecycle events.
const Source = "saga-orchestrator"

// Lifecycle event types.
const (
	EventStarted                = "saga.started"
	EventStepStarted            = "saga.step_started"
	EventStepCompleted          = "saga.step_completed"
	EventStepFailed             = "saga.step_failed"
	EventCompensationStarted    = "saga.compensation_started"
	EventStepCompensated        = "saga.step_compensated"
	EventStepCompensationFailed = "saga.step_compensation_failed"
	EventCompensationCompleted  = "saga.compensation_completed"
	EventCompleted              = "saga.completed"
)

// Started is published when a saga is created.
type Started struct {
	SagaID    string         `json:"sagaId"`
	SagaName  string         `json:"sagaName"`
	StepCount int            `json:"stepCount"`
	Context   map[string]any `json:"context,omitempty"`
}

func (Started) EventType() string { return EventStarted }

// StepStarted is published before each attempt of a step.
type StepStarted struct {
	SagaID     string `json:"sagaId"`
	StepID     string `json:"stepId"`
	StepName   string `json:"stepName"`
	Service    string `json:"service,omitempty"`
	Action     string `json:"action"`
	RetryCount int    `json:"retryCount"`
}

func (StepStarted) EventType() string { return EventStepStarted }

// StepCompletedEvent is published when a step succeeds.
type StepCompletedEvent struct {
	SagaID          string  `json:"sagaId"`
	StepID          string  `json:"stepId"`
	Result          any     `json:"result,omitempty"`
	ExecutionTimeMs float64 `json:"executionTimeMs"`
}

func (StepCompletedEvent) EventType() string { return EventStepCompleted }

// StepFailedEvent is published after each failed attempt of a step.
type StepFailedEvent struct {
	SagaID     string `json:"sagaId"`
	StepID     string `json:"stepId"`
	Error      string `json:"error"`
	RetryCount int    `json:"retryCount"`
	WillRetry  bool   `json:"willRetry"`
}

func (StepFailedEvent) EventType() string { return EventStepFailed }

// CompensationStarted is published when a saga begins unwinding.
type CompensationStarted struct {
	SagaID string `json:"sagaId"`
	Error  string `json:"error"`
}

func (CompensationStarted) EventType() string { return EventCompensationStarted }

// StepCompensatedEvent is published after a compensation handler succeeds.
type StepCompensatedEvent struct {
	SagaID             string `json:"sagaId"`
	StepID             string `json:"stepId"`
	CompensationAction string `json:"compensationAction"`
}

func (StepCompensatedEvent) EventType() string { return EventStepCompensated }

// StepCompensationFailed is published when a compensation handler fails.
type StepCompensationFailed struct {
	SagaID             string `json:"sagaId"`
	StepID             string `json:"stepId"`
	CompensationAction string `json:"compensationAction"`
	Error              string `json:"error"`
}

func (StepCompensationFailed) EventType() string { return EventStepCompensationFailed }

// CompensationCompleted is published when a saga reaches compensated.
type CompensationCompleted struct {
	SagaID           string   `json:"sagaId"`
	CompensatedSteps []string `json:"compensatedSteps"`
	FailedSteps      []string `json:"failedSteps,omitempty"`
}

func (CompensationCompleted) EventType() string { return EventCompensationCompleted }

// Completed is published when every step has completed.
type Completed struct {
	SagaID     string  `json:"sagaId"`
	SagaName   string  `json:"sagaName"`
	DurationMs float64 `json:"durationMs"`
}

func (Completed) EventType() string { return EventCompleted }

// Register adds the lifecycle payloads to reg.
func Register(reg *event.Registry) {
	event.RegisterPayload[Started](reg)
	event.RegisterPayload[StepStarted](reg)
	event.RegisterPayload[StepCompletedEvent](reg)
	event.RegisterPayload[StepFailedEvent](reg)
	event.RegisterPayload[CompensationStarted](reg)
	event.RegisterPayload[StepCompensatedEvent](reg)
	event.RegisterPayload[StepCompensationFailed](reg)
	event.RegisterPayload[CompensationCompleted](reg)
	event.RegisterPayload[Completed](reg)
}
