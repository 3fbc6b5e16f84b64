package tools

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gliderlab/mcpgate/rpcproto"
)

// Registry holds the active plugins and the dispatch table derived from them.
// It is built once at startup and read-only afterwards.
type Registry struct {
	plugins []Plugin
	table   *Table
	unknown []string
}

type registryOptions struct {
	strict bool
	log    zerolog.Logger
}

type RegistryOption func(*registryOptions)

// WithStrict turns unknown enabled names and tool conflicts into errors.
func WithStrict(strict bool) RegistryOption {
	return func(o *registryOptions) { o.strict = strict }
}

func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(o *registryOptions) { o.log = l }
}

// NewRegistry filters all by enabled and builds the dispatch table.
func NewRegistry(all []Plugin, enabled []string, opts ...RegistryOption) (*Registry, error) {
	o := registryOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	seen := make(map[string]struct{}, len(all))
	for _, p := range all {
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Adapter == nil {
			return nil, fmt.Errorf("plugin %s has no adapter", p.Name)
		}
	}

	unknown := UnknownNames(all, enabled)
	if len(unknown) > 0 {
		if o.strict {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, strings.Join(unknown, ", "))
		}
		o.log.Warn().Strs("names", unknown).Msg("enabled plugin names match no plugin")
	}

	active := FilterEnabled(all, enabled)
	table := BuildTable(active)

	conflicts := table.Conflicts()
	for _, c := range conflicts {
		o.log.Warn().
			Str("tool", c.Tool).
			Str("winner", c.Winner).
			Str("shadowed", c.Shadowed).
			Msg("duplicate tool name, keeping first registration")
	}
	if o.strict && len(conflicts) > 0 {
		c := conflicts[0]
		return nil, fmt.Errorf("%w: %s (%s, %s)", ErrToolConflict, c.Tool, c.Winner, c.Shadowed)
	}

	o.log.Info().
		Int("plugins", len(active)).
		Int("tools", table.Len()).
		Msg("registry built")

	return &Registry{plugins: active, table: table, unknown: unknown}, nil
}

// Plugins returns the active plugins in priority order.
func (r *Registry) Plugins() []Plugin {
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

func (r *Registry) PluginNames() []string {
	names := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		names[i] = p.Name
	}
	return names
}

func (r *Registry) Table() *Table { return r.table }

// Tools answers the list-operations query.
func (r *Registry) Tools() []rpcproto.ToolDescriptor { return r.table.Tools() }

func (r *Registry) Conflicts() []Conflict { return r.table.Conflicts() }

// UnknownEnabled lists enabled names that matched no plugin.
func (r *Registry) UnknownEnabled() []string {
	out := make([]string, len(r.unknown))
	copy(out, r.unknown)
	return out
}
