package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"personal/discord_gateway/src/client"
)

type node struct {
	name        string
	description string
	command     *Descriptor

	children   map[string]*node
	order      []*node
	duplicates []string
}

func (n *node) add(child *node) {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	if _, ok := n.children[child.name]; ok {
		n.duplicates = append(n.duplicates, child.name)
		return
	}
	n.children[child.name] = child
	n.order = append(n.order, child)
}

// Tree is an immutable command lookup tree.
type Tree struct {
	root *node
}

// Find returns the command at path.
func (t *Tree) Find(path ...string) (Descriptor, bool) {
	n := t.root
	for _, name := range path {
		next, ok := n.children[name]
		if !ok {
			return Descriptor{}, false
		}
		n = next
	}
	if n.command == nil {
		return Descriptor{}, false
	}
	return *n.command, true
}

// Paths lists every executable command path in registration order.
func (t *Tree) Paths() [][]string {
	var out [][]string
	var walk func(n *node, prefix []string)
	walk = func(n *node, prefix []string) {
		for _, child := range n.order {
			path := append(prefix[:len(prefix):len(prefix)], child.name)
			if child.command != nil {
				out = append(out, path)
				continue
			}
			walk(child, path)
		}
	}
	walk(t.root, nil)
	return out
}

// Execute resolves inv.Path, checks the invoker's permissions and the
// required parameters, then runs the handler.
func (t *Tree) Execute(ctx context.Context, inv *Invocation) error {
	label := strings.Join(inv.Path, " ")
	d, ok := t.Find(inv.Path...)
	if !ok {
		return fmt.Errorf("%w: %q", ErrCommandNotFound, label)
	}

	if missing := inv.Permissions.Missing(d.Permissions); !missing.IsEmpty() {
		return fmt.Errorf("%w: %q needs %s", ErrMissingPermissions, label, missing)
	}
	for _, p := range d.Params {
		if p.Required && !inv.Has(p.Name) {
			return fmt.Errorf("%w: %q needs %q", ErrMissingParameter, label, p.Name)
		}
	}

	if err := d.Handler(ctx, inv); err != nil {
		return fmt.Errorf("command %q failed: %w", label, err)
	}
	return nil
}

// ParseText turns message content without its prefix into an
// invocation. Leading words select the command; the rest are positional
// arguments. A trailing string parameter takes the remainder of the
// line.
func (t *Tree) ParseText(content string) (*Invocation, error) {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrCommandNotFound)
	}

	n := t.root
	var path []string
	for len(words) > 0 && n.command == nil {
		next, ok := n.children[strings.ToLower(words[0])]
		if !ok {
			break
		}
		path = append(path, next.name)
		n = next
		words = words[1:]
	}
	if n.command == nil {
		return nil, fmt.Errorf("%w: %q", ErrCommandNotFound, strings.Join(append(path, words...), " "))
	}

	inv := &Invocation{Path: path, Args: make(map[string]json.RawMessage)}
	params := n.command.Params
	for i, p := range params {
		if len(words) == 0 {
			break
		}
		text := words[0]
		words = words[1:]
		if i == len(params)-1 && p.Type == ParamString && len(words) > 0 {
			text = strings.Join(append([]string{text}, words...), " ")
			words = nil
		}
		raw, err := encodeArg(p, text)
		if err != nil {
			return nil, err
		}
		inv.Args[p.Name] = raw
	}
	return inv, nil
}

// FromInteraction builds an invocation from an application command
// interaction. Subcommand and group options extend the path.
func FromInteraction(i client.Interaction) (*Invocation, error) {
	if i.Type != client.InteractionApplicationCommand || i.Data == nil {
		return nil, fmt.Errorf("%w: interaction %s is not an application command", ErrCommandNotFound, i.ID)
	}

	inv := &Invocation{
		Path:        []string{i.Data.Name},
		Args:        make(map[string]json.RawMessage),
		Interaction: &i,
	}
	if i.GuildID != nil {
		inv.GuildID = *i.GuildID
	}
	if i.ChannelID != nil {
		inv.ChannelID = *i.ChannelID
	}
	if u := i.Invoker(); u != nil {
		inv.UserID = u.ID
	}

	options := i.Data.Options
	for len(options) == 1 && (options[0].Type == optionSubCommand || options[0].Type == optionSubCommandGroup) {
		inv.Path = append(inv.Path, options[0].Name)
		options = options[0].Options
	}
	for _, opt := range options {
		inv.Args[opt.Name] = opt.Value
	}
	return inv, nil
}
