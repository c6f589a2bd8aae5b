package cache

import (
	"context"

	"personal/discord_gateway/src/client"
	"personal/discord_gateway/src/gateway"

	"github.com/google/uuid"
)

// Gateway events the cache follows.
const (
	EventGuildCreate       = "GUILD_CREATE"
	EventGuildUpdate       = "GUILD_UPDATE"
	EventGuildDelete       = "GUILD_DELETE"
	EventChannelCreate     = "CHANNEL_CREATE"
	EventChannelUpdate     = "CHANNEL_UPDATE"
	EventChannelDelete     = "CHANNEL_DELETE"
	EventGuildRoleCreate   = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate   = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete   = "GUILD_ROLE_DELETE"
	EventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventMessageCreate     = "MESSAGE_CREATE"
)

type guildDelete struct {
	ID          client.Snowflake `json:"id"`
	Unavailable bool             `json:"unavailable"`
}

type roleEvent struct {
	GuildID client.Snowflake `json:"guild_id"`
	Role    client.Role      `json:"role"`
}

type roleDelete struct {
	GuildID client.Snowflake `json:"guild_id"`
	RoleID  client.Snowflake `json:"role_id"`
}

type memberEvent struct {
	client.Member
	GuildID client.Snowflake `json:"guild_id"`
}

type memberRemove struct {
	GuildID client.Snowflake `json:"guild_id"`
	User    client.User      `json:"user"`
}

// Register installs the cache responders on d. Puts run in the early
// phase so normal responders see fresh entities; evictions run in the
// late phase so normal responders can still read what is being
// deleted. It returns the registration IDs.
func Register(d *gateway.Dispatcher, c *Cache) []uuid.UUID {
	early := func(name string) []gateway.RegisterOption {
		return []gateway.RegisterOption{gateway.WithPhase(gateway.PhaseEarly), gateway.WithName("cache:" + name)}
	}
	late := func(name string) []gateway.RegisterOption {
		return []gateway.RegisterOption{gateway.WithPhase(gateway.PhaseLate), gateway.WithName("cache:" + name)}
	}

	putGuild := func(_ context.Context, g client.Guild) error {
		c.PutGuild(g)
		return nil
	}
	putChannel := func(_ context.Context, ch client.Channel) error {
		c.PutChannel(ch)
		return nil
	}
	putRole := func(_ context.Context, ev roleEvent) error {
		c.PutRole(ev.GuildID, ev.Role)
		return nil
	}
	putMember := func(_ context.Context, ev memberEvent) error {
		c.PutMember(ev.GuildID, ev.Member)
		return nil
	}

	return []uuid.UUID{
		gateway.On(d, EventGuildCreate, putGuild, early(EventGuildCreate)...),
		gateway.On(d, EventGuildUpdate, putGuild, early(EventGuildUpdate)...),
		gateway.On(d, EventChannelCreate, putChannel, early(EventChannelCreate)...),
		gateway.On(d, EventChannelUpdate, putChannel, early(EventChannelUpdate)...),
		gateway.On(d, EventGuildRoleCreate, putRole, early(EventGuildRoleCreate)...),
		gateway.On(d, EventGuildRoleUpdate, putRole, early(EventGuildRoleUpdate)...),
		gateway.On(d, EventGuildMemberAdd, putMember, early(EventGuildMemberAdd)...),
		gateway.On(d, EventGuildMemberUpdate, putMember, early(EventGuildMemberUpdate)...),
		gateway.On(d, EventMessageCreate, func(_ context.Context, m client.Message) error {
			// Guild messages carry a partial member without its user.
			if m.GuildID != nil && m.Member != nil {
				member := *m.Member
				author := m.Author
				member.User = &author
				c.PutMember(*m.GuildID, member)
			}
			return nil
		}, early(EventMessageCreate)...),

		gateway.On(d, EventGuildDelete, func(_ context.Context, ev guildDelete) error {
			c.EvictGuild(ev.ID)
			return nil
		}, late(EventGuildDelete)...),
		gateway.On(d, EventChannelDelete, func(_ context.Context, ch client.Channel) error {
			c.EvictChannel(ch.ID)
			return nil
		}, late(EventChannelDelete)...),
		gateway.On(d, EventGuildRoleDelete, func(_ context.Context, ev roleDelete) error {
			c.EvictRole(ev.GuildID, ev.RoleID)
			return nil
		}, late(EventGuildRoleDelete)...),
		gateway.On(d, EventGuildMemberRemove, func(_ context.Context, ev memberRemove) error {
			c.EvictMember(ev.GuildID, ev.User.ID)
			return nil
		}, late(EventGuildMemberRemove)...),
	}
}
