// Package cmd implements the tablectl command line.
package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"grimm.is/tablectl/internal/brand"
	"grimm.is/tablectl/internal/i18n"
	"grimm.is/tablectl/internal/logging"
	"grimm.is/tablectl/internal/table"
)

type rootOptions struct {
	configFile string
	backend    string
	device     string
	netns      string
	logLevel   string
	logJSON    bool

	printer *message.Printer
	logger  *logging.Logger
}

// Execute runs the CLI and prints any error with its kind.
func Execute() error {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		printError(root.ErrOrStderr(), err)
	}
	return err
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{printer: i18n.NewCLIPrinter()}

	cmd := &cobra.Command{
		Use:           brand.LowerName,
		Short:         brand.Description,
		Long:          "tablectl creates persistent firewall address tables and loads addresses into them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging(cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", brand.DefaultConfigPath(), "Configuration file")
	flags.StringVar(&opts.backend, "backend", "", "Control device backend (pf, nftables, memory)")
	flags.StringVar(&opts.device, "device", "", "pf control device path")
	flags.StringVar(&opts.netns, "netns", "", "Network namespace (nftables only)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Emit logs as JSON")

	cmd.AddCommand(newEnsureCmd(opts))
	cmd.AddCommand(newAddCmd(opts))
	cmd.AddCommand(newApplyCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))
	return cmd
}

func (o *rootOptions) setupLogging(w io.Writer) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	o.logger = logging.New(logging.Config{Level: level, Output: w, JSON: o.logJSON})
	logging.SetDefault(o.logger)
	return nil
}

// tableConfig applies the device flags to base.
func (o *rootOptions) tableConfig(base table.Config) table.Config {
	if o.backend != "" {
		base.Backend = o.backend
	}
	if o.device != "" {
		base.DevicePath = o.device
	}
	if o.netns != "" {
		base.NetNS = o.netns
	}
	return base
}

func printError(w io.Writer, err error) {
	var te *table.Error
	if errors.As(err, &te) {
		fmt.Fprintf(w, "Error [%s]: %v\n", te.Kind, err)
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tablectl version",
		Run: func(cmd *cobra.Command, args []string) {
			opts.printer.Fprintf(cmd.OutOrStdout(), "%s (commit %s)\n", brand.UserAgent(), brand.GitCommit)
		},
	}
}
