// Package cache keeps the guild entities seen on the gateway in memory.
// It has no eviction strategy: entries leave only on delete events.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"personal/discord_gateway/src/client"
	"personal/discord_gateway/src/permissions"

	"github.com/rs/zerolog"
)

// ErrNotCached is returned when a lookup needs an entity the cache has
// not seen.
var ErrNotCached = errors.New("not cached")

type memberKey struct {
	guild client.Snowflake
	user  client.Snowflake
}

// Cache is a concurrency-safe store of guilds, channels and members.
// Roles live on their guild.
type Cache struct {
	mu       sync.RWMutex
	guilds   map[client.Snowflake]client.Guild
	channels map[client.Snowflake]client.Channel
	members  map[memberKey]client.Member

	logger zerolog.Logger
}

// New returns an empty cache.
func New(logger zerolog.Logger) *Cache {
	return &Cache{
		guilds:   make(map[client.Snowflake]client.Guild),
		channels: make(map[client.Snowflake]client.Channel),
		members:  make(map[memberKey]client.Member),
		logger:   logger.With().Str("component", "cache").Logger(),
	}
}

// PutGuild stores g. Channels and members carried by a GUILD_CREATE are
// split out into their own maps.
func (c *Cache) PutGuild(g client.Guild) {
	channels, members := g.Channels, g.Members
	g.Channels, g.Members = nil, nil

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.guilds[g.ID]; ok && g.Roles == nil {
		g.Roles = old.Roles
	}
	c.guilds[g.ID] = g

	for _, ch := range channels {
		if ch.GuildID == nil {
			id := g.ID
			ch.GuildID = &id
		}
		c.channels[ch.ID] = ch
	}
	for _, m := range members {
		if m.User != nil {
			c.members[memberKey{g.ID, m.User.ID}] = m
		}
	}
}

// Guild returns the cached guild.
func (c *Cache) Guild(id client.Snowflake) (client.Guild, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.guilds[id]
	return g, ok
}

// EvictGuild removes the guild together with its channels and members.
func (c *Cache) EvictGuild(id client.Snowflake) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.guilds, id)
	for chID, ch := range c.channels {
		if ch.GuildID != nil && *ch.GuildID == id {
			delete(c.channels, chID)
		}
	}
	for key := range c.members {
		if key.guild == id {
			delete(c.members, key)
		}
	}
	c.logger.Debug().Str("guild", string(id)).Msg("guild evicted")
}

// PutChannel stores ch.
func (c *Cache) PutChannel(ch client.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch.ID] = ch
}

// Channel returns the cached channel.
func (c *Cache) Channel(id client.Snowflake) (client.Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[id]
	return ch, ok
}

func (c *Cache) EvictChannel(id client.Snowflake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, id)
}

// PutRole adds or replaces a role on a cached guild. Roles of unknown
// guilds are ignored.
func (c *Cache) PutRole(guildID client.Snowflake, role client.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.guilds[guildID]
	if !ok {
		return
	}
	roles := make([]client.Role, 0, len(g.Roles)+1)
	for _, r := range g.Roles {
		if r.ID != role.ID {
			roles = append(roles, r)
		}
	}
	g.Roles = append(roles, role)
	c.guilds[guildID] = g
}

func (c *Cache) EvictRole(guildID, roleID client.Snowflake) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.guilds[guildID]
	if !ok {
		return
	}
	roles := make([]client.Role, 0, len(g.Roles))
	for _, r := range g.Roles {
		if r.ID != roleID {
			roles = append(roles, r)
		}
	}
	g.Roles = roles
	c.guilds[guildID] = g
}

// PutMember stores a guild member. Members without a user are ignored.
func (c *Cache) PutMember(guildID client.Snowflake, m client.Member) {
	if m.User == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[memberKey{guildID, m.User.ID}] = m
}

// Member returns the cached guild member.
func (c *Cache) Member(guildID, userID client.Snowflake) (client.Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[memberKey{guildID, userID}]
	return m, ok
}

func (c *Cache) EvictMember(guildID, userID client.Snowflake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, memberKey{guildID, userID})
}

// Stats reports how many guilds, channels and members are cached.
func (c *Cache) Stats() (guilds, channels, members int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.guilds), len(c.channels), len(c.members)
}

// MemberPermissions resolves the effective permissions of a cached
// member. An empty channelID yields guild-level permissions.
func (c *Cache) MemberPermissions(guildID, channelID, userID client.Snowflake) (permissions.Set, error) {
	c.mu.RLock()
	g, ok := c.guilds[guildID]
	m, hasMember := c.members[memberKey{guildID, userID}]
	ch, hasChannel := c.channels[channelID]
	c.mu.RUnlock()

	if !ok {
		return permissions.None, fmt.Errorf("guild %s: %w", guildID, ErrNotCached)
	}
	if !hasMember {
		return permissions.None, fmt.Errorf("member %s of guild %s: %w", userID, guildID, ErrNotCached)
	}

	pg := g.PermissionGuild()
	subject := m.Subject(userID)
	if channelID == "" {
		return permissions.Base(pg, subject), nil
	}
	if !hasChannel {
		return permissions.None, fmt.Errorf("channel %s: %w", channelID, ErrNotCached)
	}

	overwrites, err := ch.Overwrites()
	if err != nil {
		return permissions.None, fmt.Errorf("could not parse overwrites of channel %s: %w", channelID, err)
	}
	return permissions.Resolve(pg, subject, overwrites), nil
}
