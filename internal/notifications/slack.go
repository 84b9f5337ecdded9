package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrWebhookNotConfigured = errors.New("slack webhook URL not configured")

const webhookTimeout = 10 * time.Second

// Message is the incoming-webhook payload. Run notices carry a single
// attachment whose color reflects the outcome.
type Message struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func shortField(title, value string) Field {
	return Field{Title: title, Value: value, Short: true}
}

// Webhook posts messages to one Slack incoming webhook.
type Webhook struct {
	url    string
	client *http.Client
	logger *logrus.Logger
}

func NewWebhook(logger *logrus.Logger, url string) (*Webhook, error) {
	if url == "" {
		return nil, ErrWebhookNotConfigured
	}

	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger,
	}, nil
}

func (h *Webhook) Post(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	h.logger.WithField("text", msg.Text).Debug("Posted Slack message")
	return nil
}
