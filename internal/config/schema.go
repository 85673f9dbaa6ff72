package config

import (
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/connector"
)

// Config is the top-level YAML structure.
type Config struct {
	Engine      EngineConf                  `yaml:"engine"`
	RulesDir    string                      `yaml:"rules_dir"`
	DataDir     string                      `yaml:"data_dir"`
	OutputDir   string                      `yaml:"output_dir"`
	Connectors  connector.Config            `yaml:"connectors"`
	DataSources map[string]connector.Source `yaml:"data_sources"`
	Output      OutputConf                  `yaml:"output"`
	Logging     LoggingConf                 `yaml:"logging"`
	Alerts      AlertsConf                  `yaml:"alerts"`
	Schedule    ScheduleConf                `yaml:"schedule"`
	Server      ServerConf                  `yaml:"server"`
}

// EngineConf holds evaluation settings.
type EngineConf struct {
	Workers         int           `yaml:"workers"`
	RuleTimeout     time.Duration `yaml:"rule_timeout"` // 0 = no limit
	Debug           bool          `yaml:"debug"`
	OnRuleFileError string        `yaml:"on_rule_file_error"` // continue | fail_fast
}

// OutputConf controls the report writers.
type OutputConf struct {
	Formats           []string `yaml:"formats"` // console, json, csv, html
	MaxViolations     int      `yaml:"max_violations"`
	Pretty            bool     `yaml:"pretty"`
	IncludeViolations bool     `yaml:"include_violations"`
	Colorize          bool     `yaml:"colorize"`
}

type LoggingConf struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// AlertsConf configures failure notifications. A channel without its
// required settings is treated as disabled.
type AlertsConf struct {
	MinSeverity string      `yaml:"min_severity"`
	Email       EmailConf   `yaml:"email"`
	Webhook     WebhookConf `yaml:"webhook"`
}

type EmailConf struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Enabled reports whether email alerts are configured.
func (e EmailConf) Enabled() bool { return e.SMTPHost != "" }

type WebhookConf struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether webhook alerts are configured.
func (w WebhookConf) Enabled() bool { return w.URL != "" }

// ScheduleConf sets when recurring scans run: every Interval, or daily at
// DailyAt ("HH:MM", UTC), optionally only on Weekday.
type ScheduleConf struct {
	Interval   time.Duration `yaml:"interval"`
	DailyAt    string        `yaml:"daily_at"`
	Weekday    string        `yaml:"weekday"`
	RunOnStart bool          `yaml:"run_on_start"`
}

type ServerConf struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WatchRules      bool          `yaml:"watch_rules"`
}

// Default returns the built-in configuration every other layer overrides.
func Default() *Config {
	return &Config{
		Engine: EngineConf{
			Workers:         1,
			RuleTimeout:     30 * time.Second,
			OnRuleFileError: "continue",
		},
		RulesDir:  "rules",
		DataDir:   "data",
		OutputDir: "output",
		Connectors: connector.Config{
			CSV: connector.CSVOptions{Delimiter: "auto"},
		},
		DataSources: map[string]connector.Source{},
		Output: OutputConf{
			Formats:           []string{"console", "json"},
			MaxViolations:     1000,
			Pretty:            true,
			IncludeViolations: true,
			Colorize:          true,
		},
		Logging: LoggingConf{Level: "info", Format: "text"},
		Alerts: AlertsConf{
			MinSeverity: "LOW",
			Email:       EmailConf{SMTPPort: 587},
			Webhook:     WebhookConf{Timeout: 10 * time.Second},
		},
		Schedule: ScheduleConf{Interval: time.Hour, RunOnStart: true},
		Server: ServerConf{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			WatchRules:      true,
		},
	}
}
