package cmd

import (
	"github.com/spf13/cobra"

	"grimm.is/tablectl/internal/table"
)

func newEnsureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure <anchor> <table>",
		Short: "Create a persistent table unless it already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			anchor, name := args[0], args[1]

			h, err := table.Open(opts.tableConfig(table.DefaultConfig()))
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.EnsureTable(anchor, name); err != nil {
				return err
			}
			opts.logger.Debug("Table ensured", "anchor", anchor, "table", name)
			opts.printer.Fprintf(cmd.OutOrStdout(), "Table %s/%s ready\n", anchor, name)
			return h.Close()
		},
	}
}
