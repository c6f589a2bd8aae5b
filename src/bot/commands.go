package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"personal/discord_gateway/src/client"
	"personal/discord_gateway/src/commands"
	"personal/discord_gateway/src/permissions"
)

const EventInteractionCreate = "INTERACTION_CREATE"

// Reply answers the invocation where it came from: an interaction
// response or a message in the invoking channel.
func (b *Bot) Reply(ctx context.Context, inv *commands.Invocation, content string) error {
	return b.reply(ctx, inv, content, 0)
}

func (b *Bot) reply(ctx context.Context, inv *commands.Invocation, content string, flags int) error {
	switch {
	case inv.Interaction != nil:
		return b.rest.CreateInteractionResponse(ctx, inv.Interaction.ID, inv.Interaction.Token, client.InteractionResponse{
			Type: client.ResponseChannelMessageWithSource,
			Data: &client.InteractionResponseData{Content: content, Flags: flags},
		})
	case inv.Message != nil:
		_, err := b.rest.CreateMessage(ctx, inv.ChannelID, client.MessageCreate{Content: content})
		return err
	default:
		return errors.New("invocation has nowhere to reply")
	}
}

func (b *Bot) onInteraction(ctx context.Context, i client.Interaction) error {
	if i.Type != client.InteractionApplicationCommand {
		return nil
	}
	inv, err := commands.FromInteraction(i)
	if err != nil {
		return err
	}
	if i.Member != nil && i.Member.Permissions != nil {
		perms, err := permissions.Parse(*i.Member.Permissions)
		if err != nil {
			return fmt.Errorf("interaction %s: %w", i.ID, err)
		}
		inv.Permissions = perms
	}
	return b.execute(ctx, inv)
}

func (b *Bot) onMessage(ctx context.Context, m client.Message) error {
	if m.Author.Bot != nil && *m.Author.Bot {
		return nil
	}
	if self := b.Self(); self.ID != "" && m.Author.ID == self.ID {
		return nil
	}
	content, ok := strings.CutPrefix(m.Content, b.cfg.Commands.Prefix)
	if !ok {
		return nil
	}

	inv, err := b.commands.ParseText(content)
	if errors.Is(err, commands.ErrCommandNotFound) {
		b.logger.Debug().Str("content", m.Content).Msg("ignoring unknown text command")
		return nil
	}
	if err != nil {
		return b.replyError(ctx, &commands.Invocation{Message: &m, ChannelID: m.ChannelID}, err)
	}

	inv.Message = &m
	inv.ChannelID = m.ChannelID
	inv.UserID = m.Author.ID
	if m.GuildID != nil {
		inv.GuildID = *m.GuildID
		perms, err := b.cache.MemberPermissions(inv.GuildID, inv.ChannelID, inv.UserID)
		if err != nil {
			b.logger.Debug().Err(err).Msg("could not resolve invoker permissions")
		}
		inv.Permissions = perms
	}
	return b.execute(ctx, inv)
}

func (b *Bot) execute(ctx context.Context, inv *commands.Invocation) error {
	err := b.commands.Execute(ctx, inv)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, commands.ErrMissingPermissions),
		errors.Is(err, commands.ErrMissingParameter),
		errors.Is(err, commands.ErrInvalidArgument),
		errors.Is(err, commands.ErrCommandNotFound):
		return b.replyError(ctx, inv, err)
	default:
		return err
	}
}

// replyError tells the invoker why their command did not run.
func (b *Bot) replyError(ctx context.Context, inv *commands.Invocation, cause error) error {
	var msg string
	switch {
	case errors.Is(cause, commands.ErrMissingPermissions):
		msg = "You do not have permission to use this command."
	case errors.Is(cause, commands.ErrCommandNotFound):
		msg = "Unknown command."
	default:
		msg = "Invalid usage: " + cause.Error()
	}
	if err := b.reply(ctx, inv, msg, client.MessageFlagEphemeral); err != nil {
		return fmt.Errorf("could not report %w: %w", cause, err)
	}
	return nil
}
