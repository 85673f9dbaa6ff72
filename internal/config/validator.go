package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
)

// Formats lists the report formats output.formats accepts.
var Formats = []string{"console", "json", "csv", "html"}

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation errors:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

// Validate checks the config for:
//   - Out-of-range engine, output and server settings
//   - Unknown enum values (severity, log level, formats, policies)
//   - Alert channels and data sources missing required fields
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if cfg.Engine.Workers < 1 {
		add("engine.workers: must be at least 1, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.RuleTimeout < 0 {
		add("engine.rule_timeout: must not be negative")
	}
	if _, err := ruleset.ParsePolicy(cfg.Engine.OnRuleFileError); err != nil {
		add("engine.on_rule_file_error: %v", err)
	}

	if cfg.RulesDir == "" {
		add("rules_dir: is required")
	}
	if cfg.OutputDir == "" {
		add("output_dir: is required")
	}

	if d := cfg.Connectors.CSV.Delimiter; d != "" && d != "auto" && d != `\t` && len([]rune(d)) != 1 {
		add("connectors.csv.delimiter: must be a single character or \"auto\", got %q", d)
	}
	for name, src := range cfg.DataSources {
		if strings.TrimSpace(src.Location) == "" {
			add("data_sources.%s: location is required", name)
		}
	}

	for _, f := range cfg.Output.Formats {
		if !contains(Formats, strings.ToLower(f)) {
			add("output.formats: unknown format %q (supported: %s)", f, strings.Join(Formats, ", "))
		}
	}
	if cfg.Output.MaxViolations < 0 {
		add("output.max_violations: must not be negative")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format: must be text or json, got %q", cfg.Logging.Format)
	}

	if _, ok := rule.ParseSeverity(cfg.Alerts.MinSeverity); !ok {
		add("alerts.min_severity: unknown severity %q", cfg.Alerts.MinSeverity)
	}
	if e := cfg.Alerts.Email; e.Enabled() {
		if e.SMTPPort <= 0 || e.SMTPPort > 65535 {
			add("alerts.email.smtp_port: invalid port %d", e.SMTPPort)
		}
		if e.From == "" {
			add("alerts.email.from: is required when smtp_host is set")
		}
		if len(e.To) == 0 {
			add("alerts.email.to: at least one recipient is required when smtp_host is set")
		}
	}
	if w := cfg.Alerts.Webhook; w.Enabled() {
		if u, err := url.Parse(w.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("alerts.webhook.url: must be an http(s) URL")
		}
	}

	if s := cfg.Schedule; s.DailyAt != "" {
		if _, err := time.Parse("15:04", s.DailyAt); err != nil {
			add("schedule.daily_at: must be HH:MM, got %q", s.DailyAt)
		}
		if s.Weekday != "" {
			if _, ok := ParseWeekday(s.Weekday); !ok {
				add("schedule.weekday: unknown weekday %q", s.Weekday)
			}
		}
	} else if s.Interval < time.Second {
		add("schedule.interval: must be at least 1s")
	}

	if cfg.Server.Addr == "" {
		add("server.addr: is required")
	}

	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
