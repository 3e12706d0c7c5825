// Package notify posts questions the bot could not answer to a Google Chat
// space through an incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultTimeout = 10 * time.Second

// ErrNoWebhook is returned by Send when no webhook URL is configured.
var ErrNoWebhook = errors.New("google chat webhook URL is not configured")

// Client sends text messages to a Google Chat incoming webhook.
type Client struct {
	webhookURL string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for webhookURL that sends at most perMinute
// messages per minute. perMinute <= 0 disables rate limiting.
func NewClient(webhookURL string, perMinute int) *Client {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.webhookURL != ""
}

type message struct {
	Text string `json:"text"`
}

// Send posts text to the webhook, waiting for the rate limiter first.
// Any non-2xx response is an error.
func (c *Client) Send(ctx context.Context, text string) error {
	if !c.Configured() {
		return ErrNoWebhook
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	body, err := json.Marshal(message{Text: text})
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to google chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("google chat returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
