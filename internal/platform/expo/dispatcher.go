// Package expo provides the client for the Expo push delivery gateway, the
// default platform for mobile device tokens.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/taskdeck/go-notification-service/pkg/dispatch"
)

// DefaultPushURL is Expo's hosted batch endpoint.
const DefaultPushURL = "https://exp.host/--/api/v2/push/send"

// Message is one device-level push in the Expo wire format.
type Message struct {
	To    string         `json:"to"`
	Sound string         `json:"sound"`
	Title string         `json:"title"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

type Config struct {
	// PushURL overrides the gateway endpoint. Empty means DefaultPushURL.
	PushURL string
	// AccessToken is Expo's optional enhanced-security bearer token.
	AccessToken string
}

// Client submits message batches to the gateway. One Send is one HTTP request
// regardless of batch size.
type Client struct {
	pushURL     string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	pushURL := cfg.PushURL
	if pushURL == "" {
		pushURL = DefaultPushURL
	}
	return &Client{
		pushURL:     pushURL,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{},
		logger:      logger.With("component", "ExpoDispatcher"),
	}
}

// Send posts the batch and returns the provider's response body opaquely. A
// non-2xx response comes back as a *dispatch.GatewayError carrying status and
// text so the caller can classify it as a downstream failure.
func (c *Client) Send(ctx context.Context, messages []Message) (json.RawMessage, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expo batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pushURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("expo transport failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read expo response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &dispatch.GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	c.logger.Debug("Expo batch accepted", "messages", len(messages), "status", resp.StatusCode)
	return json.RawMessage(body), nil
}
