package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"medinotify/internal/types"
)

// IdentityClient looks up recipient contact details in the identity service.
type IdentityClient struct {
	base    *BaseClient
	baseURL string
}

// NewIdentityClient creates an IdentityClient for baseURL.
func NewIdentityClient(base *BaseClient, baseURL string) *IdentityClient {
	return &IdentityClient{base: base, baseURL: strings.TrimRight(baseURL, "/")}
}

// Contact fetches the contact record for recipientID. An unknown recipient
// yields an empty Contact and no error.
func (c *IdentityClient) Contact(ctx context.Context, recipientID string) (Contact, error) {
	endpoint := fmt.Sprintf("%s/v1/recipients/%s/contact", c.baseURL, url.PathEscape(recipientID))
	status, raw, err := c.base.DoJSON(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return Contact{}, err
	}

	switch {
	case status == http.StatusNotFound:
		return Contact{}, nil
	case status < 200 || status >= 300:
		return Contact{}, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("identity service returned %d", status), nil)
	}

	var contact Contact
	if err := json.Unmarshal(raw, &contact); err != nil {
		return Contact{}, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to decode contact", err)
	}
	return contact, nil
}

// ResolveAddress returns the recipient's address for channel, or "" when the
// identity service has none.
func (c *IdentityClient) ResolveAddress(ctx context.Context, recipientID string, channel types.Channel) (string, error) {
	contact, err := c.Contact(ctx, recipientID)
	if err != nil {
		return "", err
	}
	return contact.Address(channel), nil
}
