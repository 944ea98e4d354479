package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single gateway request.
const DefaultTimeout = 10 * time.Second

// GatewayClient sends SMS through a JSON HTTP gateway authenticated with a
// username and API key.
type GatewayClient struct {
	BaseURL    string
	Username   string
	APIKey     string
	SenderID   string
	HTTPClient *http.Client
}

// NewGatewayClient returns a client for the gateway at baseURL. timeout <= 0 uses DefaultTimeout.
func NewGatewayClient(baseURL, username, apiKey, senderID string, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GatewayClient{
		BaseURL:    baseURL,
		Username:   username,
		APIKey:     apiKey,
		SenderID:   senderID,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type gatewayRequest struct {
	Username  string `json:"username"`
	APIKey    string `json:"apiKey"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	SenderID  string `json:"senderId,omitempty"`
}

type gatewayResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// SendSMS posts message to phone. The message body is never included in errors.
func (c *GatewayClient) SendSMS(ctx context.Context, phone, message string) error {
	if c.APIKey == "" {
		return fmt.Errorf("sms: API key not configured")
	}
	raw, err := json.Marshal(gatewayRequest{
		Username:  c.Username,
		APIKey:    c.APIKey,
		Recipient: phone,
		Message:   message,
		SenderID:  c.SenderID,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: request failed: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var parsed gatewayResponse
	_ = json.Unmarshal(b, &parsed)
	if parsed.Success != nil && *parsed.Success {
		return nil
	}
	if resp.StatusCode == http.StatusOK && parsed.Success == nil {
		return nil
	}
	return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
}
