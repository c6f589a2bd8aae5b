package permissions

import (
	"fmt"
	"math/big"
	"strings"
)

// Permission is the bit index of a single permission.
type Permission uint

const (
	CreateInstantInvite Permission = iota
	KickMembers
	BanMembers
	Administrator
	ManageChannels
	ManageGuild
	AddReactions
	ViewAuditLog
	PrioritySpeaker
	Stream
	ViewChannel
	SendMessages
	SendTTSMessages
	ManageMessages
	EmbedLinks
	AttachFiles
	ReadMessageHistory
	MentionEveryone
	UseExternalEmojis
	ViewGuildInsights
	Connect
	Speak
	MuteMembers
	DeafenMembers
	MoveMembers
	UseVAD
	ChangeNickname
	ManageNicknames
	ManageRoles
	ManageWebhooks
	ManageGuildExpressions
	UseApplicationCommands
	RequestToSpeak
	ManageEvents
	ManageThreads
	CreatePublicThreads
	CreatePrivateThreads
	UseExternalStickers
	SendMessagesInThreads
	UseEmbeddedActivities
	ModerateMembers
	ViewCreatorMonetizationAnalytics
	UseSoundboard
	CreateGuildExpressions
	CreateEvents
	UseExternalSounds
	SendVoiceMessages
	_
	_
	SendPolls
	UseExternalApps

	lastPermission = UseExternalApps
)

// Set is an immutable permission bitset. The permission space is wider
// than a machine word, so the bits live in a big.Int that is never
// mutated after construction. The zero value is the empty set.
type Set struct {
	bits *big.Int
}

// None is the empty set.
var None = Set{}

// All holds every known permission.
var All = func() Set {
	b := new(big.Int)
	for p := Permission(0); p <= lastPermission; p++ {
		b.SetBit(b, int(p), 1)
	}
	return Set{bits: b}
}()

// Of returns a set containing exactly the given permissions.
func Of(perms ...Permission) Set {
	b := new(big.Int)
	for _, p := range perms {
		b.SetBit(b, int(p), 1)
	}
	return Set{bits: b}
}

// Parse reads the decimal string form used on the wire. An empty string
// is the empty set.
func Parse(s string) (Set, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None, nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return None, fmt.Errorf("invalid permission set %q", s)
	}
	return Set{bits: b}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Set {
	set, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return set
}

func (s Set) int() *big.Int {
	if s.bits == nil {
		return new(big.Int)
	}
	return s.bits
}

// String returns the decimal wire form.
func (s Set) String() string { return s.int().String() }

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool { return s.int().Bit(int(p)) == 1 }

// Contains reports whether every bit of other is in s.
func (s Set) Contains(other Set) bool {
	return new(big.Int).AndNot(other.int(), s.int()).Sign() == 0
}

// IsEmpty reports whether no bit is set.
func (s Set) IsEmpty() bool { return s.int().Sign() == 0 }

// Equal reports whether both sets hold the same bits.
func (s Set) Equal(other Set) bool { return s.int().Cmp(other.int()) == 0 }

// Union returns s | other.
func (s Set) Union(other Set) Set {
	return Set{bits: new(big.Int).Or(s.int(), other.int())}
}

// Intersect returns s & other.
func (s Set) Intersect(other Set) Set {
	return Set{bits: new(big.Int).And(s.int(), other.int())}
}

// Remove returns s &^ other.
func (s Set) Remove(other Set) Set {
	return Set{bits: new(big.Int).AndNot(s.int(), other.int())}
}

// Missing returns the permissions in required that s lacks.
func (s Set) Missing(required Set) Set { return required.Remove(s) }

// Permissions lists the set bits in ascending order.
func (s Set) Permissions() []Permission {
	b := s.int()
	var out []Permission
	for i := 0; i < b.BitLen(); i++ {
		if b.Bit(i) == 1 {
			out = append(out, Permission(i))
		}
	}
	return out
}
