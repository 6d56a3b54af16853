package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medinotify/internal/types"
)

func TestIdentityResolveAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/recipients/pat-1/contact":
			w.Write([]byte(`{"email":"jane@example.com","phone":"+15551234567"}`))
		case "/v1/recipients/broken/contact":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewIdentityClient(newTestClient(t, RetryPolicy{}), server.URL)
	ctx := context.Background()

	email, err := client.ResolveAddress(ctx, "pat-1", types.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", email)

	phone, err := client.ResolveAddress(ctx, "pat-1", types.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", phone)

	missing, err := client.ResolveAddress(ctx, "nobody", types.ChannelEmail)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = client.ResolveAddress(ctx, "broken", types.ChannelEmail)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamUnavailable), "got %v", err)
}
