package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/tablectl/internal/apply"
	"grimm.is/tablectl/internal/audit"
	"grimm.is/tablectl/internal/config"
	"grimm.is/tablectl/internal/health"
	"grimm.is/tablectl/internal/metrics"
	"grimm.is/tablectl/internal/table"
)

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var watch, dryRun bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Ensure every configured table and load its entries",
		Long: `Ensure every configured table and load its entries.

With --watch, tables that list domains are re-resolved on their refresh
interval until interrupted. With --dry-run, the run uses a throwaway
in-memory device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			reg := metrics.Get()
			svcOpts := []apply.Option{
				apply.WithLogger(opts.logger.WithComponent("apply")),
				apply.WithMetrics(reg),
			}
			if dryRun {
				svcOpts = append(svcOpts, apply.WithOpener(table.NewMemoryStore().Opener()))
			} else if cfg.History != nil {
				history, err := audit.NewStore(cfg.History.Path, cfg.History.RetentionDays)
				if err != nil {
					return err
				}
				defer history.Close()
				if n, err := history.Prune(); err != nil {
					opts.logger.Warn("Failed to prune apply history", "error", err)
				} else if n > 0 {
					opts.logger.Debug("Pruned apply history", "events", n)
				}
				svcOpts = append(svcOpts, apply.WithHistory(history))
			}
			svc := apply.New(svcOpts...)
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := svc.Apply(ctx, cfg)
			for _, t := range report.Tables {
				status := "ok"
				if t.Err != nil {
					status = "failed"
				}
				opts.printer.Fprintf(cmd.OutOrStdout(), "%-8s %s/%s: %d added\n", status, t.Anchor, t.Table, t.Added)
			}
			if err != nil && !watch {
				return err
			}
			if err != nil {
				// Watch mode keeps running; failed tables are retried on the
				// next refresh or reload and show up in /healthz.
				opts.logger.Error("Initial apply failed, continuing to watch", "error", err)
			} else {
				opts.printer.Fprintf(cmd.OutOrStdout(), "Applied %d tables, %d addresses added (run %s)\n",
					len(report.Tables), report.Added(), report.RunID)
			}

			if !watch {
				return nil
			}
			if cfg.Metrics != nil {
				checker := health.NewChecker(5 * time.Second)
				checker.Register("apply", svc.HealthCheck)
				if cfg.Resolver != nil {
					checker.Register("resolver", svc.ResolverCheck)
				}
				if !dryRun {
					checker.Register("device", health.DeviceCheck(cfg.TableConfig()))
				}
				srv := serveMetrics(ctx, cfg.Metrics.Listen, reg, checker, opts)
				defer srv.Close()
			}
			return watchLoop(ctx, svc, cfg, opts)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep refreshing DNS-backed tables")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Apply against an in-memory device")
	return cmd
}

// loadConfig loads the config file and applies the device flags to it.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.configFile)
	if err != nil {
		return nil, err
	}
	tc := o.tableConfig(cfg.TableConfig())
	cfg.Backend, cfg.Device, cfg.NetNS = tc.Backend, tc.DevicePath, tc.NetNS
	return cfg, nil
}

// watchLoop refreshes DNS-backed tables and re-applies the whole config when
// the config file changes. An invalid new config keeps the old one running.
func watchLoop(ctx context.Context, svc *apply.Service, cfg *config.Config, opts *rootOptions) error {
	reload := make(chan struct{}, 1)
	go func() {
		err := config.WatchFile(ctx, opts.configFile, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			opts.logger.Warn("Config reload disabled", "path", opts.configFile, "error", err)
		}
	}()

	for {
		watchCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func(cfg *config.Config) { done <- svc.Watch(watchCtx, cfg) }(cfg)

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		case <-reload:
			cancel()
			<-done
		}

		next, err := opts.loadConfig()
		if err != nil {
			opts.logger.Error("Config reload failed, keeping previous config", "error", err)
			continue
		}
		cfg = next
		opts.logger.Info("Config reloaded", "path", opts.configFile)
		if _, err := svc.Apply(ctx, cfg); err != nil {
			opts.logger.Error("Apply after reload failed", "error", err)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *metrics.Registry, checker *health.Checker, opts *rootOptions) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/livez", health.LivenessHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		opts.logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.logger.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return srv
}
