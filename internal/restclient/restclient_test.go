package restclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardcoord/internal/httpclient"
)

func TestGetGatewayBot_SendsBotAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/gateway/bot", r.URL.Path)
		_ = json.NewEncoder(w).Encode(GatewayBotResponse{URL: "wss://gateway.discord.gg", Shards: 4})
	}))
	defer srv.Close()

	c := New(httpclient.New(httpclient.WithHTTPClient(srv.Client())), srv.URL, "test-token")
	resp, err := c.GetGatewayBot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Shards)
}
