package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sagabus/pkg/sagabus/saga"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Name     string
	Status   string
	Limit    int
	Offset   int
	JSON     bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished sagas from a SQLite store",
		Long: `List finished sagas persisted by serve or demo, newest first.

Example:
  sagabus history --db ./sagas.db --status compensated --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite saga history database (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only sagas with this name")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only sagas with this status")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print transactions as JSON")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, stdout io.Writer) error {
	store, err := saga.NewSQLiteStore(opts.Database)
	if err != nil {
		return fmt.Errorf("open saga store: %w", err)
	}
	defer store.Close()

	txs, err := store.List(cmd.Context(), &saga.ListFilter{
		Name:   opts.Name,
		Status: saga.Status(opts.Status),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(txs)
	}

	if len(txs) == 0 {
		fmt.Fprintln(stdout, "No sagas found.")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSTARTED\tERROR")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			tx.ID, tx.Name, tx.Status, tx.StartedAt.Format(time.RFC3339), tx.Error)
	}
	return w.Flush()
}
