// Package slack sends red-flag escalations to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medroute/internal/triage"
)

const (
	maxTextLen  = 2000
	httpTimeout = 10 * time.Second
)

// Notifier sends escalations to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts an escalation to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, esc *triage.Escalation) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(esc))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack escalation posted",
		"analysis_id", esc.AnalysisID,
		"status", resp.StatusCode,
		"duration_s", time.Since(start).Seconds(),
	)
	return nil
}

func buildMessage(e *triage.Escalation) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("Emergency escalation: %s", e.Label),
		"blocks": []map[string]any{
			headerBlock(e),
			fieldsBlock(e),
			{"type": "divider"},
			detailBlock(e),
			contextBlock(e),
		},
	}
}

func headerBlock(e *triage.Escalation) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("\U0001f6a8 Emergency escalation: %s", humanLabel(e.Label)),
		},
	}
}

func fieldsBlock(e *triage.Escalation) map[string]any {
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Route to:* %s", e.Clinic)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:* %.0f%%", e.Confidence*100)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Red flag:* `%s`", e.Label)},
		},
	}
}

func detailBlock(e *triage.Escalation) map[string]any {
	text := truncate(e.Message, maxTextLen)
	if text == "" {
		text = "_No guidance available._"
	}
	if e.Reason != "" {
		text += "\n\n_" + truncate(e.Reason, maxTextLen) + "_"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func contextBlock(e *triage.Escalation) map[string]any {
	ts := e.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("medroute • analysis %s • %s", e.AnalysisID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

// humanLabel turns "cardiac_emergency" into "Cardiac emergency".
func humanLabel(label string) string {
	s := strings.ReplaceAll(label, "_", " ")
	if s == "" {
		return "unspecified"
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
