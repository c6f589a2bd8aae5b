package client

import (
	"context"
	"fmt"
)

// GetChannel fetches a channel by ID.
func (c *Client) GetChannel(ctx context.Context, channelID Snowflake) (Channel, error) {
	var channel Channel
	if err := c.Get(ctx, "/channels/"+string(channelID), &channel); err != nil {
		return Channel{}, fmt.Errorf("could not get channel %s: %w", channelID, err)
	}
	return channel, nil
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID Snowflake, msg MessageCreate) (Message, error) {
	var created Message
	if err := c.Post(ctx, "/channels/"+string(channelID)+"/messages", msg, &created); err != nil {
		return Message{}, fmt.Errorf("could not create message in %s: %w", channelID, err)
	}
	return created, nil
}
