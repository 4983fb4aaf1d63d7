package saga

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	sberrors "github.com/randalmurphal/sagabus/pkg/sagabus/errors"
	"github.com/randalmurphal/sagabus/pkg/sagabus/event"
	"github.com/randalmurphal/sagabus/pkg/sagabus/observability"
	"github.com/randalmurphal/sagabus/pkg/sagabus/registry"
)

var (
	// ErrSagaNotFound is returned for an unknown saga id.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrSagaFinished is returned when cancelling a saga that already
	// reached a terminal status.
	ErrSagaFinished = errors.New("saga already finished")

	// ErrOrchestratorShutdown is returned by StartSaga after Shutdown.
	ErrOrchestratorShutdown = errors.New("saga orchestrator is shut down")
)

// Publisher is the slice of the event bus the orchestrator needs.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event, opts ...event.PublishOption) error
}

// run is the executor-side state of an active saga.
type run struct {
	tx   *Transaction
	done chan struct{}

	// cancelCh is closed by the first cancel request.
	cancelCh chan struct{}

	mu           sync.Mutex
	cancelled    bool
	cancelReason string
}

func newRun(tx *Transaction) *run {
	return &run{tx: tx, done: make(chan struct{}), cancelCh: make(chan struct{})}
}

// cancel records reason and wakes a pending retry backoff. Only the first
// reason is kept.
func (r *run) cancel(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.cancelReason = reason
	close(r.cancelCh)
}

// cancelErr returns the saga failure for a requested cancellation, or nil.
func (r *run) cancelErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cancelled {
		return nil
	}
	return fmt.Errorf("saga cancelled: %s", r.cancelReason)
}

// Orchestrator runs sagas and publishes their progress.
type Orchestrator struct {
	pub     Publisher
	cfg     Config
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	store   Store

	steps         *registry.Registry[string, StepHandler]
	compensations *registry.Registry[string, CompensationHandler]

	mu      sync.RWMutex
	active  map[string]*run
	history map[string]*Transaction
	limits  HealthLimits
	closed  bool

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator that publishes lifecycle events
// to pub.
func NewOrchestrator(pub Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pub:           pub,
		cfg:           DefaultConfig,
		logger:        slog.Default(),
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		steps:         registry.New[string, StepHandler](),
		compensations: registry.New[string, CompensationHandler](),
		active:        make(map[string]*run),
		history:       make(map[string]*Transaction),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.limits = o.cfg.Health
	return o
}

// RegisterStepHandler sets the handler for action, replacing any previous one.
func (o *Orchestrator) RegisterStepHandler(action string, handler StepHandler) {
	o.steps.Register(action, handler)
}

// RegisterCompensationHandler sets the compensation handler for action,
// replacing any previous one.
func (o *Orchestrator) RegisterCompensationHandler(action string, handler CompensationHandler) {
	o.compensations.Register(action, handler)
}

// StartSaga validates the definition, records a started transaction,
// publishes saga.started and runs the steps on a new goroutine.
// The returned id can be polled with GetSagaStatus or awaited with Wait.
// An empty correlationID defaults to the saga id.
func (o *Orchestrator) StartSaga(
	ctx context.Context,
	name string,
	steps []Step,
	sagaCtx map[string]any,
	correlationID string,
) (string, error) {
	if err := validateDefinition(name, steps); err != nil {
		return "", err
	}

	id := "saga-" + uuid.NewString()
	if correlationID == "" {
		correlationID = id
	}

	tx := &Transaction{
		ID:            id,
		Name:          name,
		CorrelationID: correlationID,
		Steps:         cloneSteps(steps),
		Status:        StatusStarted,
		Context:       make(map[string]any, len(sagaCtx)+len(steps)),
		StepResults:   make(map[string]StepResult, len(steps)),
		StartedAt:     time.Now(),
	}
	maps.Copy(tx.Context, sagaCtx)
	for _, s := range steps {
		tx.StepResults[s.ID] = StepResult{Status: StepPending}
	}

	r := newRun(tx)
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrOrchestratorShutdown
	}
	o.active[id] = r
	o.wg.Add(1)
	o.mu.Unlock()

	observability.LogSagaStart(o.logger, id, name, len(steps))
	o.publish(ctx, tx, Started{
		SagaID:    id,
		SagaName:  name,
		StepCount: len(steps),
		Context:   tx.contextSnapshot(),
	})

	go o.execute(context.WithoutCancel(ctx), r)
	return id, nil
}

// execute drives one saga to a terminal status.
func (o *Orchestrator) execute(ctx context.Context, r *run) {
	defer o.wg.Done()
	tx := r.tx

	ctx, span := o.spans.StartSagaSpan(ctx, tx.Name, tx.ID)
	elapsed := observability.TimedOperation()
	tx.setStatus(StatusExecuting)

	var failure error
	for {
		if err := r.cancelErr(); err != nil {
			failure = err
			break
		}

		step, ok := tx.nextStep()
		if !ok {
			if !tx.allCompleted() {
				failure = errors.New("no eligible step remains")
			}
			break
		}

		if err := o.executeStep(ctx, r, step); err != nil {
			failure = err
			break
		}
	}

	if failure != nil {
		o.compensate(ctx, r, failure)
	} else {
		o.complete(ctx, r, elapsed())
	}

	o.spans.EndSpanWithError(span, failure)
	o.finish(ctx, r, elapsed())
}

// executeStep runs step until it succeeds or its retries are exhausted.
func (o *Orchestrator) executeStep(ctx context.Context, r *run, step Step) error {
	tx := r.tx
	policy := sberrors.RetryPolicy{
		MaxAttempts:    step.RetryAttempts,
		InitialBackoff: o.cfg.RetryBackoff,
		Strategy:       sberrors.BackoffLinear,
	}

	for retryCount := 0; ; {
		if err := r.cancelErr(); err != nil {
			return err
		}
		tx.setStatus(StatusExecuting)
		started := time.Now()
		tx.updateStep(step.ID, func(res *StepResult) {
			res.Status = StepExecuting
			res.StartedAt = started
			res.RetryCount = retryCount
			res.Error = ""
		})
		o.publish(ctx, tx, StepStarted{
			SagaID:     tx.ID,
			StepID:     step.ID,
			StepName:   step.Name,
			Service:    step.Service,
			Action:     step.Action,
			RetryCount: retryCount,
		})

		stepCtx, span := o.spans.StartStepSpan(ctx, step.ID, step.Action)
		result, err := o.runStep(stepCtx, step, tx.contextSnapshot())
		d := time.Since(started)
		o.spans.EndSpanWithError(span, err)
		o.metrics.RecordStep(ctx, tx.Name, step.Action, d, err)

		if err == nil {
			tx.mu.Lock()
			tx.StepResults[step.ID] = StepResult{
				Status:        StepCompleted,
				Result:        result,
				ExecutionTime: d,
				RetryCount:    retryCount,
				StartedAt:     started,
				FinishedAt:    time.Now(),
			}
			tx.Context[step.ID+"_result"] = result
			tx.CompletionOrder = append(tx.CompletionOrder, step.ID)
			tx.mu.Unlock()

			o.publish(ctx, tx, StepCompletedEvent{
				SagaID:          tx.ID,
				StepID:          step.ID,
				Result:          result,
				ExecutionTimeMs: observability.Milliseconds(d),
			})
			return nil
		}

		cancelled := r.cancelErr()
		willRetry := cancelled == nil && policy.ShouldRetry(retryCount, err)
		tx.updateStep(step.ID, func(res *StepResult) {
			res.Status = StepFailed
			res.Error = err.Error()
			res.ExecutionTime = d
			res.FinishedAt = time.Now()
		})
		observability.LogStepFailed(o.logger, tx.ID, step.ID, retryCount, err)
		o.publish(ctx, tx, StepFailedEvent{
			SagaID:     tx.ID,
			StepID:     step.ID,
			Error:      err.Error(),
			RetryCount: retryCount,
			WillRetry:  willRetry,
		})

		if cancelled != nil {
			return cancelled
		}
		if !willRetry {
			return fmt.Errorf("step %s failed: %w", step.ID, err)
		}

		retryCount++
		tx.updateStep(step.ID, func(res *StepResult) { res.RetryCount = retryCount })
		timer := time.NewTimer(policy.Delay(retryCount))
		select {
		case <-timer.C:
		case <-r.cancelCh:
			timer.Stop()
			return r.cancelErr()
		}
	}
}

type stepOutcome struct {
	result any
	err    error
}

// runStep invokes the handler for step.Action, racing it against the
// step timeout. A handler that outlives its timeout keeps running but its
// result is discarded.
func (o *Orchestrator) runStep(ctx context.Context, step Step, sagaCtx map[string]any) (any, error) {
	handler, ok := o.steps.Get(step.Action)
	if !ok {
		return nil, sberrors.Permanent(
			fmt.Errorf("no step handler registered for action %q", step.Action), "step "+step.ID)
	}

	timeout := cmp.Or(step.Timeout, o.cfg.DefaultStepTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan stepOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- stepOutcome{err: fmt.Errorf("step handler panic: %v", p)}
			}
		}()
		result, err := handler(ctx, step, sagaCtx)
		done <- stepOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &sberrors.TimeoutError{Operation: "step " + step.ID, Duration: timeout}
		}
		return nil, ctx.Err()
	}
}

// compensate undoes completed steps in reverse completion order. Missing
// handlers are skipped and handler errors are recorded, never fatal.
func (o *Orchestrator) compensate(ctx context.Context, r *run, cause error) {
	tx := r.tx
	now := time.Now()

	tx.mu.Lock()
	tx.Status = StatusFailed
	tx.FailedAt = &now
	tx.Error = cause.Error()
	order := slices.Clone(tx.CompletionOrder)
	tx.mu.Unlock()

	o.logger.Warn("saga compensating",
		slog.String("saga_id", tx.ID),
		slog.String("saga_name", tx.Name),
		slog.String("error", cause.Error()),
		slog.Int("completed_steps", len(order)),
	)
	tx.setStatus(StatusCompensating)
	o.publish(ctx, tx, CompensationStarted{SagaID: tx.ID, Error: cause.Error()})

	steps := make(map[string]Step, len(tx.Steps))
	for _, s := range tx.Steps {
		steps[s.ID] = s
	}

	var compensated, failed []string
	for i := len(order) - 1; i >= 0; i-- {
		step := steps[order[i]]

		if step.CompensationAction == "" {
			tx.updateStep(step.ID, func(res *StepResult) { res.CompensationSkipped = "no compensation action" })
			o.logger.Debug("step has no compensation action",
				slog.String("saga_id", tx.ID), slog.String("step_id", step.ID))
			continue
		}
		handler, ok := o.compensations.Get(step.CompensationAction)
		if !ok {
			tx.updateStep(step.ID, func(res *StepResult) { res.CompensationSkipped = "no compensation handler registered" })
			o.logger.Warn("no compensation handler registered",
				slog.String("saga_id", tx.ID),
				slog.String("step_id", step.ID),
				slog.String("action", step.CompensationAction),
			)
			continue
		}

		tx.updateStep(step.ID, func(res *StepResult) { res.Status = StepCompensating })
		started := time.Now()
		err := o.runCompensation(ctx, handler, step, tx.contextSnapshot())
		o.metrics.RecordStep(ctx, tx.Name, step.CompensationAction, time.Since(started), err)

		if err != nil {
			failed = append(failed, step.ID)
			tx.updateStep(step.ID, func(res *StepResult) {
				res.Status = StepCompleted
				res.CompensationError = err.Error()
			})
			observability.LogCompensationError(o.logger, tx.ID, step.ID, err)
			o.publish(ctx, tx, StepCompensationFailed{
				SagaID:             tx.ID,
				StepID:             step.ID,
				CompensationAction: step.CompensationAction,
				Error:              err.Error(),
			})
			continue
		}

		compensated = append(compensated, step.ID)
		tx.updateStep(step.ID, func(res *StepResult) { res.Status = StepCompensated })
		o.publish(ctx, tx, StepCompensatedEvent{
			SagaID:             tx.ID,
			StepID:             step.ID,
			CompensationAction: step.CompensationAction,
		})
	}

	done := time.Now()
	tx.mu.Lock()
	tx.Status = StatusCompensated
	tx.CompensatedAt = &done
	tx.mu.Unlock()

	o.publish(ctx, tx, CompensationCompleted{
		SagaID:           tx.ID,
		CompensatedSteps: compensated,
		FailedSteps:      failed,
	})
}

func (o *Orchestrator) runCompensation(ctx context.Context, handler CompensationHandler, step Step, sagaCtx map[string]any) (err error) {
	timeout := cmp.Or(step.Timeout, o.cfg.DefaultStepTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("compensation handler panic: %v", p)
		}
	}()
	return handler(ctx, step, sagaCtx)
}

func (o *Orchestrator) complete(ctx context.Context, r *run, elapsed time.Duration) {
	tx := r.tx
	now := time.Now()

	tx.mu.Lock()
	tx.Status = StatusCompleted
	tx.CompletedAt = &now
	tx.mu.Unlock()

	o.publish(ctx, tx, Completed{
		SagaID:     tx.ID,
		SagaName:   tx.Name,
		DurationMs: observability.Milliseconds(elapsed),
	})
}

// finish moves the transaction from active to history and persists it.
func (o *Orchestrator) finish(ctx context.Context, r *run, elapsed time.Duration) {
	tx := r.tx
	snapshot := tx.Clone()

	o.mu.Lock()
	delete(o.active, tx.ID)
	o.history[tx.ID] = snapshot
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.Save(ctx, snapshot); err != nil {
			o.logger.Error("failed to persist saga",
				slog.String("saga_id", tx.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	o.metrics.RecordSaga(ctx, tx.Name, string(snapshot.Status), elapsed)
	observability.LogSagaFinished(o.logger, tx.ID, tx.Name, string(snapshot.Status),
		observability.Milliseconds(elapsed))
	close(r.done)
}

// publish emits a lifecycle event. Publish failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, tx *Transaction, payload event.Payload) {
	if o.pub == nil {
		return
	}
	evt := event.New(Source, payload,
		event.WithCorrelationID(tx.CorrelationID),
		event.WithMetadata(map[string]any{"sagaName": tx.Name}),
	)
	if err := o.pub.Publish(ctx, evt); err != nil {
		o.logger.Warn("failed to publish saga event",
			slog.String("saga_id", tx.ID),
			slog.String("event_type", evt.Type()),
			slog.String("error", err.Error()),
		)
	}
}

// CancelSaga requests compensation of an active saga with reason as its
// error. An in-flight step handler is not interrupted; the cancellation
// takes effect when it returns or immediately during a retry backoff.
func (o *Orchestrator) CancelSaga(id, reason string) error {
	o.mu.RLock()
	r, active := o.active[id]
	_, finished := o.history[id]
	o.mu.RUnlock()

	switch {
	case active:
		r.cancel(reason)
		o.logger.Info("saga cancellation requested",
			slog.String("saga_id", id),
			slog.String("reason", reason),
		)
		return nil
	case finished:
		return fmt.Errorf("cancel %s: %w", id, ErrSagaFinished)
	default:
		return fmt.Errorf("cancel %s: %w", id, ErrSagaNotFound)
	}
}

// GetSagaStatus returns a snapshot of the saga, checking active sagas
// first and then history. It returns nil for an unknown id.
func (o *Orchestrator) GetSagaStatus(id string) *Transaction {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if r, ok := o.active[id]; ok {
		return r.tx.Clone()
	}
	if tx, ok := o.history[id]; ok {
		return tx.Clone()
	}
	return nil
}

// GetActiveSagas returns snapshots of running sagas, oldest first.
func (o *Orchestrator) GetActiveSagas() []*Transaction {
	o.mu.RLock()
	out := make([]*Transaction, 0, len(o.active))
	for _, r := range o.active {
		out = append(out, r.tx.Clone())
	}
	o.mu.RUnlock()
	sortOldestFirst(out)
	return out
}

// GetSagaHistory returns snapshots of finished sagas, oldest first.
func (o *Orchestrator) GetSagaHistory() []*Transaction {
	o.mu.RLock()
	out := make([]*Transaction, 0, len(o.history))
	for _, tx := range o.history {
		out = append(out, tx.Clone())
	}
	o.mu.RUnlock()
	sortOldestFirst(out)
	return out
}

// Wait blocks until the saga is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*Transaction, error) {
	o.mu.RLock()
	r, active := o.active[id]
	tx, finished := o.history[id]
	o.mu.RUnlock()

	switch {
	case finished:
		return tx.Clone(), nil
	case !active:
		return nil, fmt.Errorf("wait %s: %w", id, ErrSagaNotFound)
	}

	select {
	case <-r.done:
		return o.GetSagaStatus(id), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops accepting new sagas and waits for running ones to reach
// a terminal status.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.mu.RLock()
		n := len(o.active)
		o.mu.RUnlock()
		return fmt.Errorf("saga orchestrator shutdown with %d active sagas: %w", n, ctx.Err())
	}
}

func sortOldestFirst(txs []*Transaction) {
	slices.SortFunc(txs, func(a, b *Transaction) int {
		if n := a.StartedAt.Compare(b.StartedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
