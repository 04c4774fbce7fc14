package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// maxItemsPerMessage keeps each message well under Slack's 50-block limit.
const maxItemsPerMessage = 10

// SlackNotifier sends review items to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
	pause      time.Duration
}

// NewSlackNotifier returns a notifier that posts review items to Slack via webhook.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
		pause:      500 * time.Millisecond,
	}
}

// Notify sends items in chunks, one Block Kit message per chunk.
// Returns an error only if ALL messages fail. Individual failures are logged.
func (s *SlackNotifier) Notify(items []model.ReviewItem) error {
	if len(items) == 0 {
		return nil
	}

	var chunks [][]model.ReviewItem
	for start := 0; start < len(items); start += maxItemsPerMessage {
		end := min(start+maxItemsPerMessage, len(items))
		chunks = append(chunks, items[start:end])
	}

	failures := 0
	for i, chunk := range chunks {
		if i > 0 {
			time.Sleep(s.pause)
		}
		if err := s.sendMessage(buildPayload(chunk, i, len(chunks))); err != nil {
			s.logger.Error("slack notification failed", "items", len(chunk), "error", err)
			failures++
		}
	}

	if failures == len(chunks) {
		return fmt.Errorf("all %d slack messages failed", failures)
	}
	s.logger.Info("slack notifications complete", "sent", len(chunks)-failures, "failed", failures, "items", len(items))
	return nil
}

func (s *SlackNotifier) sendMessage(payload slackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := model.ParseRetryAfter(resp.Header.Get("Retry-After"))
		if wait <= 0 {
			wait = time.Second
		}
		s.logger.Warn("slack rate limited, retrying", "retry_after", wait)
		time.Sleep(wait)

		resp2, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		defer resp2.Body.Close()

		if resp2.StatusCode != http.StatusOK {
			return fmt.Errorf("slack returned %d on retry", resp2.StatusCode)
		}
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style,omitempty"`
}

// SendTestMessage sends a dummy review item to verify the integration works.
func SendTestMessage(n model.Notifier) error {
	return n.Notify([]model.ReviewItem{{
		Kind:      model.ReviewBatchFailures,
		Detail:    "jobpipe test notification: integration verified",
		CreatedAt: time.Now(),
	}})
}

var kindLabels = map[model.ReviewKind]string{
	model.ReviewDedupIntegrity:       "Dedup integrity violation",
	model.ReviewClassificationFailed: "Classification failed",
	model.ReviewBatchFailures:        "Batch finished with failures",
}

func kindLabel(k model.ReviewKind) string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return string(k)
}

// clip keeps mrkdwn sections under Slack's 3000 character limit.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func buildPayload(items []model.ReviewItem, part, parts int) slackPayload {
	header := fmt.Sprintf("⚠️ jobpipe: %d item(s) need review", len(items))
	if parts > 1 {
		header += fmt.Sprintf(" (%d/%d)", part+1, parts)
	}
	blocks := []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: header},
	}}

	for _, it := range items {
		var text strings.Builder
		fmt.Fprintf(&text, "*%s*", kindLabel(it.Kind))
		if it.Title != "" {
			fmt.Fprintf(&text, "\n%s at %s", it.Title, it.Employer)
		}
		if it.JobHash != "" {
			fmt.Fprintf(&text, "\n`%s`", it.JobHash)
		}
		if it.Detail != "" {
			fmt.Fprintf(&text, "\n>%s", clip(it.Detail, 1500))
		}
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: text.String()},
		})
		if it.URL != "" {
			blocks = append(blocks, slackBlock{
				Type: "actions",
				Elements: []slackElement{{
					Type: "button",
					Text: slackText{Type: "plain_text", Text: "Open Posting"},
					URL:  it.URL,
				}},
			})
		}
	}

	blocks = append(blocks, slackBlock{Type: "divider"})
	return slackPayload{Blocks: blocks}
}
