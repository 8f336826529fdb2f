package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackNotifier delivers alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a SlackNotifier for the given incoming webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify posts the alert to the Slack webhook.
func (n *SlackNotifier) Notify(ctx context.Context, alert *Alert) error {
	message := FormatSlackMessage(alert)

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned non-2xx status: %d", resp.StatusCode)
	}

	return nil
}

// FormatSlackMessage formats an alert as a Slack message.
func FormatSlackMessage(alert *Alert) SlackMessage {
	fields := []SlackField{
		{Title: "Kind", Value: string(alert.Kind), Short: true},
		{Title: "Triggered", Value: alert.TriggeredAt.Format("2006-01-02 15:04:05"), Short: true},
	}
	if alert.TenantID != "" {
		fields = append(fields, SlackField{Title: "Tenant", Value: alert.TenantID, Short: true})
	}
	for key, value := range alert.Details {
		fields = append(fields, SlackField{Title: key, Value: fmt.Sprintf("%v", value), Short: true})
	}

	return SlackMessage{
		Attachments: []SlackAttachment{
			{
				Color:  slackColor(severityOf(alert)),
				Title:  alert.Title,
				Text:   alert.Message,
				Fields: fields,
			},
		},
	}
}

func slackColor(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "danger"
	case SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}
