// Package tools is the dispatch core: plugin descriptors, the enablement
// filter, the dispatch table and the request router.
package tools

import (
	"context"
	"errors"

	"github.com/gliderlab/mcpgate/rpcproto"
)

var (
	ErrMissingArguments = errors.New("no arguments provided")
	ErrUnknownPlugin    = errors.New("unknown plugin")
	ErrDuplicatePlugin  = errors.New("duplicate plugin name")
	ErrToolConflict     = errors.New("tool name registered by more than one plugin")
	ErrNilResponse      = errors.New("adapter returned no response")
)

// Adapter executes one of its plugin's tools. Expected integration failures
// are encoded as error Responses; a returned error or a panic is treated as
// unexpected and converted by the Router.
type Adapter func(ctx context.Context, name string, args map[string]interface{}) (*rpcproto.Response, error)

// Plugin binds a plugin identity to its tool descriptors and adapter.
type Plugin struct {
	Name    string
	Tools   []rpcproto.ToolDescriptor
	Adapter Adapter
}

func (p Plugin) PluginName() string { return p.Name }

// ToolNames returns the plugin's tool names in declaration order.
func (p Plugin) ToolNames() []string {
	names := make([]string, len(p.Tools))
	for i, t := range p.Tools {
		names[i] = t.Name
	}
	return names
}

// Named is anything selectable by plugin name.
type Named interface {
	PluginName() string
}

// FilterEnabled returns the members of all whose name is in enabled,
// preserving the order of all. An empty enabled list selects everything.
func FilterEnabled[T Named](all []T, enabled []string) []T {
	if len(enabled) == 0 {
		out := make([]T, len(all))
		copy(out, all)
		return out
	}
	set := make(map[string]struct{}, len(enabled))
	for _, n := range enabled {
		set[n] = struct{}{}
	}
	out := make([]T, 0, len(enabled))
	for _, p := range all {
		if _, ok := set[p.PluginName()]; ok {
			out = append(out, p)
		}
	}
	return out
}

// UnknownNames returns the entries of enabled that match no member of all,
// in the order given and without repeats.
func UnknownNames[T Named](all []T, enabled []string) []string {
	known := make(map[string]struct{}, len(all))
	for _, p := range all {
		known[p.PluginName()] = struct{}{}
	}
	seen := make(map[string]struct{})
	var unknown []string
	for _, n := range enabled {
		if _, ok := known[n]; ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		unknown = append(unknown, n)
	}
	return unknown
}

// Truncate long text
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...\n(content truncated)"
}
