package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sagabus/pkg/sagabus/aiproc"
	sberrors "github.com/randalmurphal/sagabus/pkg/sagabus/errors"
	"github.com/randalmurphal/sagabus/pkg/sagabus/event"
	"github.com/randalmurphal/sagabus/pkg/sagabus/saga"
	"github.com/randalmurphal/sagabus/pkg/sagabus/sample"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Database string
	FailAt   string
	JSON     bool
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the sample intake saga once",
		Long: `Run a sample intake saga: register the sample, extract its submission
form, assign storage and record QC. Every step publishes domain events on the
bus; the demo prints them with the final transaction.

Use --fail-at to make a step fail and watch the completed steps compensate.

Example:
  sagabus demo
  sagabus demo --fail-at qc --db ./sagas.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "persist the finished saga to this SQLite database")
	cmd.Flags().StringVar(&opts.FailAt, "fail-at", "", "step id to fail (register, extract, store, qc)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the transaction as JSON")

	return cmd
}

// intakeSteps is the sample intake saga definition.
func intakeSteps() []saga.Step {
	return []saga.Step{
		{ID: "register", Name: "Register sample", Service: "sample-service", Action: "register-sample", CompensationAction: "delete-sample"},
		{ID: "extract", Name: "Extract submission form", Service: "ai-service", Action: "extract-form", Dependencies: []string{"register"}, RetryAttempts: 1},
		{ID: "store", Name: "Assign storage", Service: "storage-service", Action: "assign-storage", CompensationAction: "release-storage", Dependencies: []string{"register"}},
		{ID: "qc", Name: "Quality control", Service: "sample-service", Action: "run-qc", Dependencies: []string{"extract", "store"}},
	}
}

// registerIntakeHandlers wires the intake actions to event publication.
// The step whose id equals failAt returns a permanent error.
func registerIntakeHandlers(o *saga.Orchestrator, bus *event.Bus, failAt string) {
	step := func(id string, fn func(ctx context.Context, sagaCtx map[string]any) (any, error)) saga.StepHandler {
		return func(ctx context.Context, s saga.Step, sagaCtx map[string]any) (any, error) {
			if s.ID == failAt {
				return nil, sberrors.Permanent(fmt.Errorf("%s rejected", id), s.Action)
			}
			return fn(ctx, sagaCtx)
		}
	}
	sampleID := func(sagaCtx map[string]any) string {
		id, _ := sagaCtx["sampleId"].(string)
		return id
	}
	correlation := func(sagaCtx map[string]any) string {
		id, _ := sagaCtx["requestId"].(string)
		return id
	}

	o.RegisterStepHandler("register-sample", step("register", func(ctx context.Context, sc map[string]any) (any, error) {
		barcode, _ := sc["barcode"].(string)
		evt := sample.NewCreated(sampleID(sc), barcode, "blood", "demo", nil, correlation(sc))
		return evt.ID(), bus.Publish(ctx, evt)
	}))
	o.RegisterStepHandler("extract-form", step("extract", func(ctx context.Context, sc map[string]any) (any, error) {
		doc := "doc-" + sampleID(sc)
		if err := bus.Publish(ctx, aiproc.NewPDFProcessingStarted(doc, "submission.pdf", "demo", correlation(sc))); err != nil {
			return nil, err
		}
		fields := map[string]any{"patientAge": 42, "collectionSite": "arm"}
		if err := bus.Publish(ctx, aiproc.NewDataExtracted(doc, sampleID(sc), fields, 0.93, correlation(sc))); err != nil {
			return nil, err
		}
		return fields, bus.Publish(ctx, aiproc.NewPDFProcessingCompleted(doc, 2, len(fields), 120, correlation(sc)))
	}))
	o.RegisterStepHandler("assign-storage", step("store", func(ctx context.Context, sc map[string]any) (any, error) {
		location := "freezer-3/rack-B"
		return location, bus.Publish(ctx, sample.NewAssigned(sampleID(sc), location, "demo", correlation(sc)))
	}))
	o.RegisterStepHandler("run-qc", step("qc", func(ctx context.Context, sc map[string]any) (any, error) {
		return true, bus.Publish(ctx, sample.NewQCCompleted(sampleID(sc), true, map[string]float64{"volumeMl": 4.5}, "", correlation(sc)))
	}))

	o.RegisterCompensationHandler("delete-sample", func(ctx context.Context, _ saga.Step, sc map[string]any) error {
		return bus.Publish(ctx, sample.NewDeleted(sampleID(sc), "demo", "intake saga compensated", correlation(sc)))
	})
	o.RegisterCompensationHandler("release-storage", func(ctx context.Context, _ saga.Step, sc map[string]any) error {
		return bus.Publish(ctx, sample.NewStatusChanged(sampleID(sc), "stored", "unassigned", "demo", "intake saga compensated", correlation(sc)))
	})
}

// eventLog collects delivered events for printing.
type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) handle(_ context.Context, evt event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *eventLog) sorted() []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := slices.Clone(l.events)
	slices.SortStableFunc(out, func(a, b event.Event) int {
		return a.Timestamp().Compare(b.Timestamp())
	})
	return out
}

func runDemo(ctx context.Context, opts *DemoOptions, stdout, stderr io.Writer) error {
	logger := opts.logger(stderr)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	var store saga.Store
	if opts.Database != "" {
		if store, err = saga.NewSQLiteStore(opts.Database); err != nil {
			return fmt.Errorf("open saga store: %w", err)
		}
	}

	rt := newRuntime(cfg, logger, runtimeOptions{store: store})
	defer rt.shutdown(context.WithoutCancel(ctx))

	log := &eventLog{}
	for _, eventType := range newRegistry().Types() {
		rt.bus.Subscribe(eventType, log.handle)
	}
	registerIntakeHandlers(rt.sagas, rt.bus, opts.FailAt)

	id, err := rt.sagas.StartSaga(ctx, "sample-intake", intakeSteps(), map[string]any{
		"sampleId":  "S-0001",
		"barcode":   "BC-0001",
		"requestId": "req-demo",
	}, "req-demo")
	if err != nil {
		return err
	}

	tx, err := rt.sagas.Wait(ctx, id)
	if err != nil {
		return err
	}
	// Drain in-flight deliveries before printing.
	if err := rt.bus.Shutdown(ctx); err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tx)
	}

	fmt.Fprintf(stdout, "Saga %s (%s): %s\n", tx.Name, tx.ID, tx.Status)
	if tx.Error != "" {
		fmt.Fprintf(stdout, "Error: %s\n", tx.Error)
	}
	fmt.Fprintln(stdout, "\nSteps:")
	for _, s := range tx.Steps {
		res := tx.StepResults[s.ID]
		fmt.Fprintf(stdout, "  %-10s %-12s %s\n", s.ID, res.Status, res.ExecutionTime.Round(time.Microsecond))
	}
	fmt.Fprintln(stdout, "\nEvents:")
	for _, evt := range log.sorted() {
		fmt.Fprintf(stdout, "  %-30s %s\n", evt.Type(), evt.Source())
	}
	return nil
}
