package cmd

import (
	"github.com/spf13/cobra"

	"grimm.is/tablectl/internal/config"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Check a configuration file without touching the firewall",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configFile
			if len(args) == 1 {
				path = args[0]
			}

			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}

			tables, entries, domains := 0, 0, 0
			for _, a := range cfg.Anchors {
				tables += len(a.Tables)
				for _, t := range a.Tables {
					entries += len(t.Entries)
					domains += len(t.Domains)
				}
			}

			out := cmd.OutOrStdout()
			opts.printer.Fprintf(out, "Configuration valid!\n")
			opts.printer.Fprintf(out, "Schema Version: %s\n", cfg.SchemaVersion)
			opts.printer.Fprintf(out, "Backend: %s\n", cfg.TableConfig().Backend)
			opts.printer.Fprintf(out, "Anchors: %d\n", len(cfg.Anchors))
			opts.printer.Fprintf(out, "Tables: %d\n", tables)
			opts.printer.Fprintf(out, "Entries: %d\n", entries)
			opts.printer.Fprintf(out, "Domains: %d\n", domains)
			return nil
		},
	}
}
