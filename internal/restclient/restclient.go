// Package restclient is the peripheral minimal Discord REST client (spec
// §1): the one REST call the core actually depends on, GET
// /gateway/bot, used to derive TOTAL_SHARDS when it isn't supplied via
// configuration (spec §6: "TOTAL_SHARDS... coordinator only; else
// derived from Discord gateway").
//
// Everything else a full Discord client would need (slash commands,
// message sends, markdown helpers) is out of scope for the shard
// coordination core and is not implemented here.
package restclient

import (
	"context"
	"fmt"

	"github.com/dreamware/shardcoord/internal/httpclient"
)

// DefaultAPIBase is Discord's current stable REST API base.
const DefaultAPIBase = "https://discord.com/api/v10"

// SessionStartLimit is Discord's IDENTIFY rate-limit window, returned
// alongside the recommended shard count.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfterMs   int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBotResponse is the body of GET /gateway/bot.
type GatewayBotResponse struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// Client is a minimal authenticated Discord REST client.
type Client struct {
	http    *httpclient.Client
	apiBase string
	token   string
}

// New returns a Client authenticating with token against apiBase (pass
// "" to use DefaultAPIBase).
func New(http *httpclient.Client, apiBase, token string) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{http: http, apiBase: apiBase, token: token}
}

// GetGatewayBot fetches Discord's recommended shard count for this bot
// token, used to populate TOTAL_SHARDS when it was not configured
// explicitly.
func (c *Client) GetGatewayBot(ctx context.Context) (GatewayBotResponse, error) {
	resp, err := httpclient.Get[GatewayBotResponse](ctx, c.http, c.apiBase+"/gateway/bot", [2]string{"Authorization", "Bot " + c.token})
	if err != nil {
		return GatewayBotResponse{}, fmt.Errorf("restclient: get gateway/bot: %w", err)
	}
	return resp, nil
}
