package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// emailViolations caps the violation rows shown per failing rule.
const emailViolations = 10

// EmailConfig is an SMTP relay and its envelope.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Email sends HTML alerts over SMTP, upgrading with STARTTLS when offered.
type Email struct {
	cfg EmailConfig
}

func NewEmail(cfg EmailConfig) *Email {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, a Alert) error {
	msg, err := buildEmail(e.cfg.From, e.cfg.To, a)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(time.Minute))
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if e.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(e.cfg.From); err != nil {
		return err
	}
	for _, to := range e.cfg.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt %s: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

var emailTemplate = template.Must(template.New("email").Funcs(template.FuncMap{
	"rate":    func(r rule.Result) string { return fmt.Sprintf("%.1f%%", r.PassRate()) },
	"columns": func(vs []rule.Violation) []string { return sortedKeys(vs[0].RowData) },
	"first":   func(vs []rule.Violation) []rule.Violation { return vs[:min(len(vs), emailViolations)] },
	"more":    func(r rule.Result) int { return r.FailedRows - min(len(r.Violations), emailViolations) },
	"value":   func(row map[string]any, k string) any { return row[k] },
}).Parse(`<html><body style="font-family: Arial, sans-serif">
<h1>Compliance alert: {{len .Failures}} rule(s) failed</h1>
<p>Scan ID: {{.ScanID}}<br>Time: {{.Time.Format "2006-01-02 15:04:05 UTC"}}</p>
<p>Total rules: {{.Summary.Total}} &middot; Passed: {{.Summary.Passed}} &middot; Failed: {{.Summary.Failed}} &middot; Errors: {{.Summary.Errors}}</p>
{{range .Failures}}
<h3>{{.RuleID}}: {{.RuleName}} [{{.Severity}}]</h3>
<p>Failed: {{.FailedRows}} of {{.TotalRows}} rows. Pass rate: {{rate .}}</p>
{{if .Violations}}{{$cols := columns .Violations}}
<table border="1" cellpadding="4" style="border-collapse: collapse">
<tr>{{range $cols}}<th>{{.}}</th>{{end}}</tr>
{{range first .Violations}}{{$row := .RowData}}<tr>{{range $cols}}<td>{{value $row .}}</td>{{end}}</tr>
{{end}}</table>
{{with more .}}<p>... and {{.}} more violations</p>{{end}}
{{end}}{{end}}
</body></html>
`))

// buildEmail renders a complete RFC 5322 message.
func buildEmail(from string, to []string, a Alert) ([]byte, error) {
	var body bytes.Buffer
	if err := emailTemplate.Execute(&body, a); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: Compliance alert: %d rule(s) failed\r\n", len(a.Failures))
	fmt.Fprintf(&msg, "Date: %s\r\n", a.Time.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.Write(bytes.ReplaceAll(body.Bytes(), []byte("\n"), []byte("\r\n")))
	return msg.Bytes(), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
