package cmd

import (
	"errors"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tablectl/internal/audit"
	"grimm.is/tablectl/internal/config"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		filter audit.Filter
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded apply results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(opts.configFile)
			if err != nil {
				return err
			}
			if cfg.History == nil {
				return errors.New("no history block configured")
			}

			store, err := audit.NewStore(cfg.History.Path, cfg.History.RetentionDays)
			if err != nil {
				return err
			}
			defer store.Close()

			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			events, err := store.Query(filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			opts.printer.Fprintf(w, "TIME\tRUN\tTABLE\tADDED\tRESOLVED\tSTATUS\n")
			for _, e := range events {
				status := "ok"
				if e.Failed() {
					status = e.Kind + ": " + e.Error
				}
				opts.printer.Fprintf(w, "%s\t%s\t%s/%s\t%d\t%d\t%s\n",
					e.Timestamp.Local().Format(time.RFC3339), shortID(e.RunID), e.Anchor, e.Table, e.Added, e.Resolved, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&filter.Anchor, "anchor", "", "Only show this anchor")
	cmd.Flags().StringVar(&filter.Table, "table", "", "Only show this table")
	cmd.Flags().StringVar(&filter.RunID, "run", "", "Only show this run id")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show events newer than this (e.g. 24h)")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
