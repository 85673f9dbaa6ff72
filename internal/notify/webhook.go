package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// webhookFailures caps how many failing rules one message lists.
const webhookFailures = 5

// Webhook posts Slack-compatible block messages.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook channel. timeout <= 0 means 10s.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(slackMessage(a))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

type block map[string]any

func text(kind, s string) block { return block{"type": kind, "text": s} }

func slackMessage(a Alert) map[string]any {
	title := fmt.Sprintf("%d compliance rule(s) failed", len(a.Failures))
	s := a.Summary
	blocks := []block{
		{"type": "header", "text": text("plain_text", title)},
		{"type": "section", "fields": []block{
			text("mrkdwn", "*Scan ID:*\n"+a.ScanID),
			text("mrkdwn", "*Time:*\n"+a.Time.Format("2006-01-02 15:04:05 UTC")),
		}},
		{"type": "section", "fields": []block{
			text("mrkdwn", fmt.Sprintf("*Total rules:* %d", s.Total)),
			text("mrkdwn", fmt.Sprintf("*Passed:* %d", s.Passed)),
			text("mrkdwn", fmt.Sprintf("*Failed:* %d", s.Failed)),
			text("mrkdwn", fmt.Sprintf("*Errors:* %d", s.Errors)),
		}},
		{"type": "divider"},
	}

	shown := a.Failures
	if len(shown) > webhookFailures {
		shown = shown[:webhookFailures]
	}
	for _, r := range shown {
		blocks = append(blocks, block{"type": "section", "text": text("mrkdwn",
			fmt.Sprintf("*%s: %s* [%s]\nFailed: %d of %d rows (pass rate %.1f%%)",
				r.RuleID, r.RuleName, r.Severity, r.FailedRows, r.TotalRows, r.PassRate()))})
		if len(r.Violations) > 0 {
			blocks = append(blocks, block{"type": "context", "elements": []block{
				text("mrkdwn", "Example violation: "+example(r.Violations[0])),
			}})
		}
	}
	if more := len(a.Failures) - len(shown); more > 0 {
		blocks = append(blocks, block{"type": "section", "text": text("mrkdwn", fmt.Sprintf("... and %d more failures", more))})
	}
	return map[string]any{"text": title, "blocks": blocks}
}

// example renders the first three fields of a violating row.
func example(v rule.Violation) string {
	keys := sortedKeys(v.RowData)
	if len(keys) > 3 {
		keys = keys[:3]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, v.RowData[k])
	}
	return strings.Join(parts, ", ")
}
