package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/randalmurphal/sagabus/pkg/sagabus/aiproc"
	"github.com/randalmurphal/sagabus/pkg/sagabus/config"
	"github.com/randalmurphal/sagabus/pkg/sagabus/event"
	"github.com/randalmurphal/sagabus/pkg/sagabus/saga"
	"github.com/randalmurphal/sagabus/pkg/sagabus/sample"
)

// newRegistry returns a registry that knows every payload in the module.
func newRegistry() *event.Registry {
	reg := event.NewRegistry()
	sample.Register(reg)
	aiproc.Register(reg)
	saga.Register(reg)
	return reg
}

// runtime is the bus and orchestrator pair shared by commands.
type runtime struct {
	bus   *event.Bus
	sagas *saga.Orchestrator
	store saga.Store
}

type runtimeOptions struct {
	metrics bool
	tracing bool
	store   saga.Store
}

func newRuntime(cfg config.Config, logger *slog.Logger, ro runtimeOptions) *runtime {
	bus := event.NewBus(event.BusConfigFrom(cfg.Sub("bus")),
		event.WithLogger(logger),
		event.WithMetrics(ro.metrics),
		event.WithTracing(ro.tracing),
	)

	sagaOpts := []saga.Option{
		saga.WithLogger(logger),
		saga.WithConfig(saga.ConfigFrom(cfg.Sub("saga"))),
		saga.WithMetrics(ro.metrics),
		saga.WithTracing(ro.tracing),
	}
	if ro.store != nil {
		sagaOpts = append(sagaOpts, saga.WithStore(ro.store))
	}

	return &runtime{
		bus:   bus,
		sagas: saga.NewOrchestrator(bus, sagaOpts...),
		store: ro.store,
	}
}

// applyConfig re-applies the runtime-adjustable settings from cfg.
func (r *runtime) applyConfig(cfg config.Config) {
	r.bus.SetHealthLimits(event.HealthLimitsFrom(cfg.Sub("bus").Sub("health")))
	r.sagas.SetHealthLimits(saga.HealthLimitsFrom(cfg.Sub("saga").Sub("health")))
}

// shutdown stops the orchestrator, then the bus, then closes the store.
func (r *runtime) shutdown(ctx context.Context) error {
	errs := []error{r.sagas.Shutdown(ctx), r.bus.Shutdown(ctx)}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
