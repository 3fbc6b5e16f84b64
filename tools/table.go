package tools

import (
	"context"

	"github.com/gliderlab/mcpgate/rpcproto"
)

// Binding is one dispatch entry: a tool bound to its owning plugin's adapter.
type Binding struct {
	Plugin string
	Tool   rpcproto.ToolDescriptor

	adapter Adapter
}

// Invoke calls the owning adapter with this binding's tool name.
func (b *Binding) Invoke(ctx context.Context, args map[string]interface{}) (*rpcproto.Response, error) {
	return b.adapter(ctx, b.Tool.Name, args)
}

// Conflict records a tool name declared again after it was already bound.
// Winner and Shadowed are plugin names and are equal when a single plugin
// declares the same tool twice.
type Conflict struct {
	Tool     string `json:"tool"`
	Winner   string `json:"winner"`
	Shadowed string `json:"shadowed"`
}

// Table is the read-only name to adapter lookup. The first plugin to declare
// a name owns it; later declarations are kept only as Conflicts.
type Table struct {
	order     []string
	bindings  map[string]*Binding
	conflicts []Conflict
}

// BuildTable flattens plugins, in order, into a Table.
func BuildTable(plugins []Plugin) *Table {
	t := &Table{bindings: make(map[string]*Binding)}
	for _, p := range plugins {
		for _, tool := range p.Tools {
			if existing, ok := t.bindings[tool.Name]; ok {
				t.conflicts = append(t.conflicts, Conflict{
					Tool:     tool.Name,
					Winner:   existing.Plugin,
					Shadowed: p.Name,
				})
				continue
			}
			t.bindings[tool.Name] = &Binding{Plugin: p.Name, Tool: tool, adapter: p.Adapter}
			t.order = append(t.order, tool.Name)
		}
	}
	return t
}

func (t *Table) Lookup(name string) (*Binding, bool) {
	b, ok := t.bindings[name]
	return b, ok
}

// Tools returns the bound descriptors in binding order.
func (t *Table) Tools() []rpcproto.ToolDescriptor {
	out := make([]rpcproto.ToolDescriptor, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.bindings[name].Tool)
	}
	return out
}

func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Table) Conflicts() []Conflict {
	out := make([]Conflict, len(t.conflicts))
	copy(out, t.conflicts)
	return out
}

func (t *Table) Len() int { return len(t.order) }
