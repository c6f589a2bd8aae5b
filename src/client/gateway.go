package client

import (
	"context"
	"fmt"
)

// GetGateway returns the gateway URL. It needs no authentication.
func (c *Client) GetGateway(ctx context.Context) (GatewayResponse, error) {
	var res GatewayResponse
	if err := c.Get(ctx, "/gateway", &res); err != nil {
		return GatewayResponse{}, fmt.Errorf("could not get gateway: %w", err)
	}
	return res, nil
}

// GetGatewayBot returns the gateway URL together with the recommended
// shard count and the identify budget.
func (c *Client) GetGatewayBot(ctx context.Context) (GatewayBotResponse, error) {
	var res GatewayBotResponse
	if err := c.Get(ctx, "/gateway/bot", &res); err != nil {
		return GatewayBotResponse{}, fmt.Errorf("could not get bot gateway: %w", err)
	}
	c.logger.Debug().
		Str("url", res.URL).
		Int("shards", res.Shards).
		Int("max_concurrency", res.SessionStartLimit.MaxConcurrency).
		Int("remaining", res.SessionStartLimit.Remaining).
		Msg("fetched bot gateway")
	return res, nil
}
