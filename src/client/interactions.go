package client

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	InteractionPing               = 1
	InteractionApplicationCommand = 2
)

const (
	ResponsePong                     = 1
	ResponseChannelMessageWithSource = 4
)

// MessageFlagEphemeral hides an interaction reply from everyone but the
// invoker.
const MessageFlagEphemeral = 1 << 6

type Interaction struct {
	ID             Snowflake        `json:"id"`
	ApplicationID  Snowflake        `json:"application_id"`
	Type           int              `json:"type"`
	Data           *InteractionData `json:"data,omitempty"`
	GuildID        *Snowflake       `json:"guild_id,omitempty"`
	ChannelID      *Snowflake       `json:"channel_id,omitempty"`
	Member         *Member          `json:"member,omitempty"`
	User           *User            `json:"user,omitempty"`
	Token          string           `json:"token"`
	AppPermissions *string          `json:"app_permissions,omitempty"`
}

type InteractionData struct {
	ID      Snowflake           `json:"id"`
	Name    string              `json:"name"`
	Type    int                 `json:"type"`
	Options []InteractionOption `json:"options,omitempty"`
}

type InteractionOption struct {
	Name    string              `json:"name"`
	Type    int                 `json:"type"`
	Value   json.RawMessage     `json:"value,omitempty"`
	Options []InteractionOption `json:"options,omitempty"`
}

type InteractionResponse struct {
	Type int                      `json:"type"`
	Data *InteractionResponseData `json:"data,omitempty"`
}

type InteractionResponseData struct {
	Content string `json:"content,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}

// Invoker returns the user who triggered the interaction.
func (i Interaction) Invoker() *User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// CreateInteractionResponse answers an interaction.
func (c *Client) CreateInteractionResponse(ctx context.Context, interactionID Snowflake, token string, res InteractionResponse) error {
	path := "/interactions/" + string(interactionID) + "/" + token + "/callback"
	if err := c.Post(ctx, path, res, nil); err != nil {
		return fmt.Errorf("could not respond to interaction %s: %w", interactionID, err)
	}
	return nil
}
