// Package commands registers bot commands explicitly: a Builder collects
// descriptors into a validated lookup Tree that resolves and executes
// invocations coming from interactions or prefixed messages.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"personal/discord_gateway/src/client"
	"personal/discord_gateway/src/permissions"
)

var (
	ErrCommandNotFound    = errors.New("command not found")
	ErrMissingPermissions = errors.New("missing permissions")
	ErrMissingParameter   = errors.New("missing required parameter")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidCommand     = errors.New("invalid command definition")
)

// ParamType is the application command option type of a parameter.
type ParamType int

const (
	ParamString  ParamType = 3
	ParamInteger ParamType = 4
	ParamBoolean ParamType = 5
	ParamUser    ParamType = 6
	ParamChannel ParamType = 7
	ParamRole    ParamType = 8
	ParamNumber  ParamType = 10
)

// Option types that nest commands rather than carry values.
const (
	optionSubCommand      = 1
	optionSubCommandGroup = 2
)

type Param struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool
}

// Handler runs a resolved command.
type Handler func(ctx context.Context, inv *Invocation) error

// Descriptor declares one executable command.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	// Permissions the invoker must hold. The empty set means anyone.
	Permissions permissions.Set
	Handler     Handler
}

// Invocation is one request to run a command, whichever way it arrived.
type Invocation struct {
	Path []string
	Args map[string]json.RawMessage

	GuildID   client.Snowflake
	ChannelID client.Snowflake
	UserID    client.Snowflake
	// Permissions are the invoker's effective permissions in the channel.
	Permissions permissions.Set

	Interaction *client.Interaction
	Message     *client.Message
}

// Has reports whether the argument was supplied.
func (inv *Invocation) Has(name string) bool {
	_, ok := inv.Args[name]
	return ok
}

// String returns a string (or snowflake) argument.
func (inv *Invocation) String(name string) (string, error) {
	var s string
	if err := inv.decode(name, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Int returns an integer argument.
func (inv *Invocation) Int(name string) (int64, error) {
	var n int64
	if err := inv.decode(name, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Bool returns a boolean argument.
func (inv *Invocation) Bool(name string) (bool, error) {
	var b bool
	if err := inv.decode(name, &b); err != nil {
		return false, err
	}
	return b, nil
}

func (inv *Invocation) decode(name string, v any) error {
	raw, ok := inv.Args[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingParameter, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidArgument, name, err)
	}
	return nil
}

// encodeArg turns a text argument into the JSON value an interaction
// would carry for the parameter type.
func encodeArg(p Param, text string) (json.RawMessage, error) {
	switch p.Type {
	case ParamInteger:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not an integer", ErrInvalidArgument, p.Name, text)
		}
		return json.RawMessage(strconv.FormatInt(n, 10)), nil
	case ParamNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not a number", ErrInvalidArgument, p.Name, text)
		}
		return json.Marshal(f)
	case ParamBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not a boolean", ErrInvalidArgument, p.Name, text)
		}
		return json.Marshal(b)
	case ParamUser, ParamChannel, ParamRole:
		return json.Marshal(stripMention(text))
	default:
		return json.Marshal(text)
	}
}

// stripMention reduces <@123>, <@!123>, <#123> and <@&123> to the id.
func stripMention(s string) string {
	if len(s) < 3 || s[0] != '<' || s[len(s)-1] != '>' {
		return s
	}
	s = s[1 : len(s)-1]
	for _, prefix := range []string{"@!", "@&", "@", "#"} {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			return s[len(prefix):]
		}
	}
	return s
}
