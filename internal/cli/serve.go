package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/sagabus/pkg/sagabus/config"
	"github.com/randalmurphal/sagabus/pkg/sagabus/observability"
	"github.com/randalmurphal/sagabus/pkg/sagabus/saga"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	Database        string
	TraceStdout     bool
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bus and orchestrator with metrics and health endpoints",
		Long: `Run the event bus and saga orchestrator until interrupted.

Prometheus metrics are served on /metrics and the combined health report on
/healthz. With --config, health thresholds are re-applied whenever the file
changes. With --db, finished sagas are persisted to SQLite.

Example:
  sagabus serve --addr :9090 --db ./sagas.db --config sagabus.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":9090", "HTTP listen address")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite saga history database")
	cmd.Flags().BoolVar(&opts.TraceStdout, "trace-stdout", false, "export spans to stdout")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "graceful shutdown bound")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	mp, metricsHandler, err := observability.SetupPrometheusMetrics(ctx, "sagabus")
	if err != nil {
		return err
	}
	var tp *sdktrace.TracerProvider
	if opts.TraceStdout {
		if tp, err = observability.SetupStdoutTracing(ctx, "sagabus", cmd.OutOrStdout()); err != nil {
			return err
		}
	}

	var store saga.Store
	if opts.Database != "" {
		sqlStore, err := saga.NewSQLiteStore(opts.Database)
		if err != nil {
			return fmt.Errorf("open saga store: %w", err)
		}
		store = sqlStore
	}

	rt := newRuntime(cfg, logger, runtimeOptions{metrics: true, tracing: opts.TraceStdout, store: store})

	if opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(opts.ConfigPath, logger)
		if err != nil {
			return err
		}
		watcher.OnChange(rt.applyConfig)
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	health := observability.NewHealthMonitor(logger)
	health.Register("bus", rt.bus)
	health.Register("sagas", rt.sagas)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/healthz", health)
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving",
			slog.String("addr", opts.Addr),
			slog.Int("payload_types", newRegistry().Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.ShutdownTimeout)
	defer cancel()

	return errors.Join(
		srv.Shutdown(shutdownCtx),
		rt.shutdown(shutdownCtx),
		observability.Shutdown(shutdownCtx, mp, tp),
	)
}
