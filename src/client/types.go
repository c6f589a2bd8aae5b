package client

import (
	"encoding/json"

	"personal/discord_gateway/src/permissions"
)

type Snowflake string

type GatewayResponse struct {
	URL string `json:"url"`
}

type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"` // milliseconds
	MaxConcurrency int `json:"max_concurrency"`
}

type GatewayBotResponse struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

type Role struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	Color       int       `json:"color"`
	Hoist       bool      `json:"hoist"`
	Icon        *string   `json:"icon,omitempty"`
	Position    int       `json:"position"`
	Permissions string    `json:"permissions"`
	Managed     bool      `json:"managed"`
	Mentionable bool      `json:"mentionable"`
}

type Member struct {
	User        *User       `json:"user,omitempty"`
	Nick        *string     `json:"nick,omitempty"`
	Avatar      *string     `json:"avatar,omitempty"`
	Roles       []Snowflake `json:"roles"`
	JoinedAt    string      `json:"joined_at"`
	Deaf        bool        `json:"deaf"`
	Mute        bool        `json:"mute"`
	Pending     *bool       `json:"pending,omitempty"`
	Permissions *string     `json:"permissions,omitempty"` // only on interactions
}

type Guild struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	Icon        *string   `json:"icon,omitempty"`
	OwnerID     Snowflake `json:"owner_id"`
	Roles       []Role    `json:"roles"`
	Unavailable *bool     `json:"unavailable,omitempty"`
	MemberCount *int      `json:"member_count,omitempty"`
	// Only present on GUILD_CREATE.
	Channels []Channel `json:"channels,omitempty"`
	Members  []Member  `json:"members,omitempty"`
}

type Message struct {
	ID        Snowflake       `json:"id"`
	ChannelID Snowflake       `json:"channel_id"`
	GuildID   *Snowflake      `json:"guild_id,omitempty"`
	Author    User            `json:"author"`
	Member    *Member         `json:"member,omitempty"`
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Embeds    json.RawMessage `json:"embeds,omitempty"`
}

type MessageCreate struct {
	Content string `json:"content"`
	TTS     bool   `json:"tts,omitempty"`
	Flags   int    `json:"flags,omitempty"`
}

// PermissionGuild converts the guild's roles for the permission
// resolver. Roles with unparseable permissions are skipped.
func (g Guild) PermissionGuild() permissions.Guild {
	return PermissionGuild(g.ID, g.OwnerID, g.Roles)
}

// PermissionGuild builds resolver input from raw role data.
func PermissionGuild(guildID, ownerID Snowflake, roles []Role) permissions.Guild {
	pg := permissions.Guild{
		ID:      string(guildID),
		OwnerID: string(ownerID),
		Roles:   make(map[string]permissions.Set, len(roles)),
	}
	for _, r := range roles {
		set, err := permissions.Parse(r.Permissions)
		if err != nil {
			continue
		}
		pg.Roles[string(r.ID)] = set
	}
	return pg
}

// Subject converts the member for the permission resolver.
func (m Member) Subject(userID Snowflake) permissions.Subject {
	if userID == "" && m.User != nil {
		userID = m.User.ID
	}
	s := permissions.Subject{UserID: string(userID)}
	for _, r := range m.Roles {
		s.RoleIDs = append(s.RoleIDs, string(r))
	}
	return s
}
