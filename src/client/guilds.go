package client

import (
	"context"
	"fmt"
)

// GetGuild fetches a guild, including its roles.
func (c *Client) GetGuild(ctx context.Context, guildID Snowflake) (Guild, error) {
	var guild Guild
	if err := c.Get(ctx, "/guilds/"+string(guildID), &guild); err != nil {
		return Guild{}, fmt.Errorf("could not get guild %s: %w", guildID, err)
	}
	return guild, nil
}

// GetGuildMember fetches one member of a guild.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID Snowflake) (Member, error) {
	var member Member
	if err := c.Get(ctx, "/guilds/"+string(guildID)+"/members/"+string(userID), &member); err != nil {
		return Member{}, fmt.Errorf("could not get member %s of guild %s: %w", userID, guildID, err)
	}
	return member, nil
}
