package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/compliance/internal/config"
	"github.com/gyaneshwarpardhi/compliance/internal/connector"
	"github.com/gyaneshwarpardhi/compliance/internal/engine"
	"github.com/gyaneshwarpardhi/compliance/internal/logging"
	"github.com/gyaneshwarpardhi/compliance/internal/metrics"
	"github.com/gyaneshwarpardhi/compliance/internal/notify"
	"github.com/gyaneshwarpardhi/compliance/internal/report"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
	"github.com/gyaneshwarpardhi/compliance/internal/scan"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type rootFlags struct {
	config    string
	logLevel  string
	logFormat string
	debug     bool
}

func main() {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "compliance",
		Short:         "Evaluate declarative compliance rules against tabular data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "path to config file (default "+config.DefaultFile+" if present)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: text or json")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "log every row evaluation")

	root.AddCommand(
		newRunCmd(&flags),
		newValidateCmd(&flags),
		newServeCmd(&flags),
		newScheduleCmd(&flags),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.msg != "" {
				fmt.Fprintln(os.Stderr, exit.msg)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "compliance %s\n", version)
		},
	}
}

// app is the wiring shared by every command that scans.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	policy   ruleset.Policy
}

// setup loads the config, applies CLI overrides and sets up logging.
// override runs before validation so flag values are checked too.
func setup(flags *rootFlags, override func(*config.Config)) (*app, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if flags.debug {
		cfg.Engine.Debug = true
		cfg.Logging.Level = "debug"
	}
	if override != nil {
		override(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	policy, err := ruleset.ParsePolicy(cfg.Engine.OnRuleFileError)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		logger:   logging.Setup(cfg.Logging.Level, cfg.Logging.Format),
		registry: reg,
		metrics:  metrics.New(reg),
		policy:   policy,
	}, nil
}

// factory builds the connector factory with every configured data source
// alias registered.
func (a *app) factory() *connector.Factory {
	f := connector.NewFactory(a.cfg.Connectors)
	for name, src := range a.cfg.DataSources {
		f.AddSource(name, src)
	}
	return f
}

func (a *app) engine() *engine.Engine {
	return engine.New(a.factory(),
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithDebug(a.cfg.Engine.Debug),
		engine.WithWorkers(a.cfg.Engine.Workers),
		engine.WithRuleTimeout(a.cfg.Engine.RuleTimeout),
		engine.WithPolicy(a.policy),
	)
}

// scanner builds a Scanner over the configured rules and data. rules may
// be nil to load the rule source on every scan.
func (a *app) scanner(rules func() (*ruleset.Set, error)) *scan.Scanner {
	out := a.cfg.Output
	return scan.New(a.engine(), notify.FromConfig(a.cfg.Alerts, a.logger, a.metrics), a.logger, a.metrics, scan.Options{
		RulesPath: a.cfg.RulesDir,
		DataRoot:  a.cfg.DataDir,
		Policy:    a.policy,
		Rules:     rules,
		OutputDir: a.cfg.OutputDir,
		Formats:   out.Formats,
		Report: report.Options{
			Pretty:            out.Pretty,
			IncludeViolations: out.IncludeViolations,
			MaxViolations:     out.MaxViolations,
			Colorize:          out.Colorize,
		},
		Console: os.Stdout,
	})
}

// splitFormats accepts both repeated flags and comma-separated values.
func splitFormats(values []string) []string {
	var out []string
	for _, v := range values {
		for _, f := range strings.Split(v, ",") {
			if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}
