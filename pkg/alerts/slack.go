package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/finops-hub/pkg/model"
)

// SlackNotifier sends alerts to a Slack webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     newHTTPClient(),
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, alert Alert) error {
	color := "#36a64f" // green
	switch alert.Severity {
	case model.SeverityMedium:
		color = "#ffcc00" // yellow
	case model.SeverityHigh:
		color = "#ff9900" // orange
	case model.SeverityCritical:
		color = "#cc0000" // dark red
	}

	payload := slackPayload{
		Channel: s.channel,
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: fmt.Sprintf("FinOps Hub: %s cost anomaly", alert.Severity),
				Text:  alert.Message,
				Fields: []slackField{
					{Title: "Dimension", Value: fmt.Sprintf("%s: %s", alert.DimensionType, alert.DimensionValue), Short: true},
					{Title: "Date", Value: alert.DetectedDate, Short: true},
					{Title: "Actual Cost", Value: fmt.Sprintf("%.2f %s", alert.ActualCost, alert.Currency), Short: true},
					{Title: "Expected Cost", Value: fmt.Sprintf("%.2f %s", alert.ExpectedCost, alert.Currency), Short: true},
					{Title: "Deviation", Value: fmt.Sprintf("%+.1f%%", alert.DeviationPercent), Short: true},
					{Title: "Method", Value: alert.DetectionMethod, Short: true},
				},
				Footer: "FinOps Hub",
				Ts:     time.Now().Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	return postJSON(ctx, s.client, s.Name(), s.webhookURL, body, nil)
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
