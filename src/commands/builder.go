package commands

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[-_\p{Ll}\p{N}]{1,32}$`)

// Builder collects command descriptors. Nothing is validated until
// Build.
type Builder struct {
	root *node
}

// Group collects the subcommands of one command group.
type Group struct {
	node *node
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{root: &node{}}
}

// Command adds a top-level command.
func (b *Builder) Command(d Descriptor) *Builder {
	b.root.add(&node{name: d.Name, description: d.Description, command: &d})
	return b
}

// Group adds a top-level group and lets fn fill it.
func (b *Builder) Group(name, description string, fn func(g *Group)) *Builder {
	n := &node{name: name, description: description}
	b.root.add(n)
	fn(&Group{node: n})
	return b
}

// Command adds a subcommand to the group.
func (g *Group) Command(d Descriptor) *Group {
	g.node.add(&node{name: d.Name, description: d.Description, command: &d})
	return g
}

// Group adds a nested group.
func (g *Group) Group(name, description string, fn func(g *Group)) *Group {
	n := &node{name: name, description: description}
	g.node.add(n)
	fn(&Group{node: n})
	return g
}

// Build validates every registration and returns the lookup tree. All
// problems are reported together.
func (b *Builder) Build() (*Tree, error) {
	var errs []error
	for _, n := range b.root.order {
		errs = append(errs, validate(n, nil)...)
	}
	for _, name := range b.root.duplicates {
		errs = append(errs, fmt.Errorf("%w: duplicate command %q", ErrInvalidCommand, name))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Tree{root: b.root}, nil
}

func validate(n *node, parent []string) []error {
	path := append(parent[:len(parent):len(parent)], n.name)
	label := strings.Join(path, " ")
	var errs []error

	if !namePattern.MatchString(n.name) {
		errs = append(errs, fmt.Errorf("%w: %q must be 1-32 lowercase characters", ErrInvalidCommand, label))
	}
	for _, name := range n.duplicates {
		errs = append(errs, fmt.Errorf("%w: duplicate subcommand %q in %q", ErrInvalidCommand, name, label))
	}

	if n.command == nil {
		if len(n.order) == 0 {
			errs = append(errs, fmt.Errorf("%w: group %q is empty", ErrInvalidCommand, label))
		}
		if len(path) > 2 {
			errs = append(errs, fmt.Errorf("%w: group %q is nested too deep", ErrInvalidCommand, label))
		}
		for _, child := range n.order {
			errs = append(errs, validate(child, path)...)
		}
		return errs
	}

	if n.command.Handler == nil {
		errs = append(errs, fmt.Errorf("%w: %q has no handler", ErrInvalidCommand, label))
	}
	seen := make(map[string]bool, len(n.command.Params))
	optional := false
	for _, p := range n.command.Params {
		if !namePattern.MatchString(p.Name) {
			errs = append(errs, fmt.Errorf("%w: %q parameter %q must be 1-32 lowercase characters", ErrInvalidCommand, label, p.Name))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("%w: %q has duplicate parameter %q", ErrInvalidCommand, label, p.Name))
		}
		seen[p.Name] = true
		if p.Required && optional {
			errs = append(errs, fmt.Errorf("%w: %q required parameter %q follows an optional one", ErrInvalidCommand, label, p.Name))
		}
		optional = optional || !p.Required
	}
	return errs
}
