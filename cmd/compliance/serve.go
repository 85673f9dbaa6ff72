package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/compliance/internal/api"
	"github.com/gyaneshwarpardhi/compliance/internal/config"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
	"github.com/gyaneshwarpardhi/compliance/internal/scan"
	"github.com/gyaneshwarpardhi/compliance/internal/scheduler"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var (
		addr     string
		schedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, optionally scanning on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(root, func(cfg *config.Config) {
				if addr != "" {
					cfg.Server.Addr = addr
				}
			})
			if err != nil {
				return err
			}
			logger := a.logger
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// ── Rules ────────────────────────────────────────────────────────────
			loader, err := ruleset.NewLoader(a.cfg.RulesDir, a.policy, logger)
			if err != nil {
				return err
			}
			a.metrics.SetRulesLoaded(len(loader.Rules().Rules))
			loader.OnChange(func(set *ruleset.Set) {
				a.metrics.SetRulesLoaded(len(set.Rules))
				logger.Info("rules reloaded", "rules", len(set.Rules), "file_errors", len(set.Errors))
			})
			if a.cfg.Server.WatchRules {
				stopWatch, err := loader.Watch()
				if err != nil {
					logger.Warn("rules watcher unavailable (hot-reload disabled)", "error", err)
				} else {
					defer stopWatch()
				}
			}
			scanner := a.scanner(func() (*ruleset.Set, error) { return loader.Rules(), nil })

			// ── HTTP server ──────────────────────────────────────────────────────
			srv := &http.Server{
				Addr:         a.cfg.Server.Addr,
				Handler:      api.New(scanner, loader, logger, a.registry),
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				IdleTimeout:  60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("server starting", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if schedule {
				s, err := scheduler.FromConfig(a.cfg.Schedule)
				if err != nil {
					return err
				}
				g.Go(func() error {
					scheduler.New(scanJob(scanner), s, a.cfg.Schedule.RunOnStart, logger).Start(gctx)
					return nil
				})
			}

			// ── Graceful shutdown ────────────────────────────────────────────────
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "also run scans on the configured schedule")
	return cmd
}

func newScheduleCmd(root *rootFlags) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "schedule [RULES] [DATA]",
		Short: "Run scans on a recurring schedule until interrupted",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(root, func(cfg *config.Config) {
				if len(args) > 0 {
					cfg.RulesDir = args[0]
				}
				if len(args) > 1 {
					cfg.DataDir = args[1]
				}
				if interval > 0 {
					cfg.Schedule.Interval = interval
					cfg.Schedule.DailyAt = ""
				}
			})
			if err != nil {
				return err
			}
			s, err := scheduler.FromConfig(a.cfg.Schedule)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scheduler.New(scanJob(a.scanner(nil)), s, a.cfg.Schedule.RunOnStart, a.logger).Start(ctx)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "scan interval, overrides schedule.interval and schedule.daily_at")
	return cmd
}

// scanJob adapts a Scanner to a scheduler Job. Report write errors on a
// finished scan count as failures.
func scanJob(s *scan.Scanner) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := s.Run(ctx)
		return err
	}
}
