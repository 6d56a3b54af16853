package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"medinotify/internal/types"
)

// GatewayConfig configures the HTTP SMS gateway.
type GatewayConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Logger  types.Logger
}

// GatewayClient implements SMSSender against a generic HTTP SMS gateway.
type GatewayClient struct {
	base   *BaseClient
	cfg    GatewayConfig
	logger types.Logger
}

type gatewayRequest struct {
	To        string `json:"to"`
	From      string `json:"from,omitempty"`
	Body      string `json:"body"`
	Reference string `json:"reference,omitempty"`
}

type gatewayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewGatewayClient creates a GatewayClient on top of base.
func NewGatewayClient(base *BaseClient, cfg GatewayConfig) *GatewayClient {
	logger := cfg.Logger
	if logger == nil {
		logger = types.NopLogger{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GatewayClient{base: base, cfg: cfg, logger: logger}
}

func (c *GatewayClient) Provider() types.Provider { return types.ProviderSMSGateway }

// Send posts msg to the gateway's messages endpoint.
func (c *GatewayClient) Send(ctx context.Context, msg SMSMessage) (string, error) {
	headers := http.Header{}
	if c.cfg.APIKey.IsSet() {
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey.Unmask())
	}

	status, raw, err := c.base.DoJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", headers, gatewayRequest{
		To:        msg.To,
		From:      msg.SenderID,
		Body:      msg.Body,
		Reference: msg.ReferenceID,
	})
	if err != nil {
		return "", err
	}

	var resp gatewayResponse
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &resp)
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return "", types.NewAppErrorWithDetails(types.ErrCodeProviderRejected,
			"SMS gateway rejected message", nil, map[string]any{"status": status, "reason": resp.Error})
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "", types.NewAppError(types.ErrCodeProviderSend,
			fmt.Sprintf("SMS gateway refused credentials (%d)", status), nil)
	case status < 200 || status >= 300:
		return "", types.NewAppError(types.ErrCodeProviderSend,
			fmt.Sprintf("SMS gateway returned %d", status), nil)
	}

	if resp.ID == "" {
		return "", types.NewAppError(types.ErrCodeProviderSend, "SMS gateway response missing message id", nil)
	}
	return resp.ID, nil
}

var _ SMSSender = (*GatewayClient)(nil)
