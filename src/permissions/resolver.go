package permissions

// OverwriteType says whether a channel overwrite targets a role or a
// single member.
type OverwriteType int

const (
	OverwriteRole   OverwriteType = 0
	OverwriteMember OverwriteType = 1
)

// Overwrite is a channel-level allow/deny pair for one role or member.
type Overwrite struct {
	ID    string
	Type  OverwriteType
	Allow Set
	Deny  Set
}

// Guild is the role data needed to compute base permissions. The
// "everyone" role shares the guild's ID.
type Guild struct {
	ID      string
	OwnerID string
	Roles   map[string]Set
}

// Subject is the member whose permissions are being computed.
type Subject struct {
	UserID  string
	RoleIDs []string
}

// Base computes guild-level permissions: the everyone role OR every
// held role. Administrator and ownership short-circuit to All.
func Base(g Guild, s Subject) Set {
	if g.OwnerID != "" && g.OwnerID == s.UserID {
		return All
	}

	perms := g.Roles[g.ID]
	for _, roleID := range s.RoleIDs {
		if role, ok := g.Roles[roleID]; ok {
			perms = perms.Union(role)
		}
	}

	if perms.Has(Administrator) {
		return All
	}
	return perms
}

// ApplyOverwrites layers channel overwrites onto base in precedence
// order: everyone, then the union of the subject's roles, then the
// member overwrite. Each layer removes its deny bits before adding its
// allow bits.
func ApplyOverwrites(base Set, g Guild, s Subject, overwrites []Overwrite) Set {
	if base.Has(Administrator) {
		return All
	}

	byID := make(map[string]Overwrite, len(overwrites))
	for _, ow := range overwrites {
		byID[ow.ID] = ow
	}

	perms := base

	if everyone, ok := byID[g.ID]; ok && everyone.Type == OverwriteRole {
		perms = perms.Remove(everyone.Deny).Union(everyone.Allow)
	}

	var allow, deny Set
	for _, roleID := range s.RoleIDs {
		if roleID == g.ID {
			continue
		}
		if ow, ok := byID[roleID]; ok && ow.Type == OverwriteRole {
			allow = allow.Union(ow.Allow)
			deny = deny.Union(ow.Deny)
		}
	}
	perms = perms.Remove(deny).Union(allow)

	if member, ok := byID[s.UserID]; ok && member.Type == OverwriteMember {
		perms = perms.Remove(member.Deny).Union(member.Allow)
	}

	return perms
}

// Resolve returns the effective channel permissions of s.
func Resolve(g Guild, s Subject, overwrites []Overwrite) Set {
	return ApplyOverwrites(Base(g, s), g, s, overwrites)
}
