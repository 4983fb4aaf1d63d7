package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sagabus/pkg/sagabus/event"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	File string
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Decode, validate and dispatch events from a JSON file",
		Long: `Read one event envelope or an array of envelopes from a JSON file,
decode each payload, validate it and dispatch it through an in-process bus.
Prints one line per delivered event and a stats summary. Events whose type
has no registered payload are delivered with generic fields and counted as
unregistered.

Example:
  sagabus publish --file events.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "JSON file with event envelopes (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// decodeEnvelopes accepts a single envelope or a JSON array of them.
func decodeEnvelopes(reg *event.Registry, data []byte) ([]event.Event, error) {
	var raws []json.RawMessage
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
	} else {
		raws = []json.RawMessage{data}
	}

	events := make([]event.Event, 0, len(raws))
	for i, raw := range raws {
		evt, err := reg.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if err := evt.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, evt)
	}
	return events, nil
}

func runPublish(ctx context.Context, opts *PublishOptions, stdout, stderr io.Writer) error {
	logger := opts.logger(stderr)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.File)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	reg := newRegistry()
	events, err := decodeEnvelopes(reg, data)
	if err != nil {
		return err
	}

	rt := newRuntime(cfg, logger, runtimeOptions{})
	log := &eventLog{}
	seen := make(map[string]bool)
	unregistered := 0
	for _, evt := range events {
		if !reg.Has(evt.Type()) {
			unregistered++
		}
		if !seen[evt.Type()] {
			seen[evt.Type()] = true
			rt.bus.Subscribe(evt.Type(), log.handle)
		}
	}

	for _, evt := range events {
		if err := rt.bus.Publish(ctx, evt); err != nil {
			return fmt.Errorf("publish %s: %w", evt.ID(), err)
		}
	}
	if err := rt.shutdown(ctx); err != nil {
		return err
	}

	for _, evt := range log.sorted() {
		fmt.Fprintf(stdout, "delivered %s %s (%T)\n", evt.Type(), evt.ID(), evt.Data())
	}
	stats := rt.bus.GetStats()
	fmt.Fprintf(stdout, "published=%d failed=%d dead_lettered=%d unregistered=%d\n",
		stats.TotalEvents, stats.FailedEvents, stats.DeadLetteredEvents, unregistered)
	return nil
}
