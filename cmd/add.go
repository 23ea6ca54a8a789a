package cmd

import (
	"github.com/spf13/cobra"

	"grimm.is/tablectl/internal/table"
)

func newAddCmd(opts *rootOptions) *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "add <anchor> <table> <address>...",
		Short: "Add addresses or prefixes to an existing table",
		Long: `Add addresses or prefixes to an existing table.

Addresses of both families may be given; they are sent as one batch per family.
Entries already present are not errors. The table must exist unless --create is set.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			anchor, name := args[0], args[1]

			addrs := make([]table.Address, 0, len(args)-2)
			for _, s := range args[2:] {
				a, err := table.ParseAddress(s)
				if err != nil {
					return err
				}
				addrs = append(addrs, a)
			}

			h, err := table.Open(opts.tableConfig(table.DefaultConfig()))
			if err != nil {
				return err
			}
			defer h.Close()

			if create {
				if err := h.EnsureTable(anchor, name); err != nil {
					return err
				}
			}

			added := 0
			v4, v6 := table.SplitByFamily(addrs)
			for _, batch := range [][]table.Address{v4, v6} {
				if len(batch) == 0 {
					continue
				}
				n, err := h.AddAddresses(anchor, name, batch)
				if err != nil {
					return err
				}
				opts.logger.Debug("Added addresses", "anchor", anchor, "table", name,
					"family", batch[0].Family(), "requested", len(batch), "added", n)
				added += n
			}

			opts.printer.Fprintf(cmd.OutOrStdout(), "%d of %d addresses added to %s/%s\n", added, len(addrs), anchor, name)
			return h.Close()
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "Ensure the table exists first")
	return cmd
}
