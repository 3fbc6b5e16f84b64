package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gliderlab/mcpgate/rpcproto"
	"github.com/gliderlab/mcpgate/tools"
)

// Func implements one tool. The result may be a string, a *rpcproto.Response,
// or any JSON-encodable value.
type Func func(ctx context.Context, args Args) (interface{}, error)

type entry struct {
	desc rpcproto.ToolDescriptor
	fn   Func
}

// Set collects a plugin's tools in declaration order.
type Set struct {
	plugin  string
	entries []entry
	byName  map[string]Func
}

func NewSet(plugin string) *Set {
	return &Set{plugin: plugin, byName: make(map[string]Func)}
}

// Add registers a tool. Adding the same name twice replaces the function but
// keeps the original position.
func (s *Set) Add(name, description string, schema map[string]interface{}, fn Func) *Set {
	if schema == nil {
		schema = Object(nil)
	}
	if _, exists := s.byName[name]; !exists {
		s.entries = append(s.entries, entry{
			desc: rpcproto.ToolDescriptor{Name: name, Description: description, InputSchema: schema},
			fn:   fn,
		})
	}
	s.byName[name] = fn
	return s
}

func (s *Set) Name() string { return s.plugin }

func (s *Set) Descriptors() []rpcproto.ToolDescriptor {
	out := make([]rpcproto.ToolDescriptor, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.desc
	}
	return out
}

// Plugin returns the descriptor the registry consumes.
func (s *Set) Plugin() tools.Plugin {
	return tools.Plugin{
		Name:    s.plugin,
		Tools:   s.Descriptors(),
		Adapter: s.Call,
	}
}

// Call is the Set's tools.Adapter.
func (s *Set) Call(ctx context.Context, name string, args map[string]interface{}) (*rpcproto.Response, error) {
	fn, ok := s.byName[name]
	if !ok {
		return rpcproto.ErrorResponse("%s does not provide tool %q", s.plugin, name), nil
	}
	result, err := fn(ctx, Args(args))
	if err != nil {
		return rpcproto.ErrorResponse("%s tool %s failed: %v", s.plugin, name, err), nil
	}
	return Normalize(result)
}

// Normalize converts a Func result into a Response.
func Normalize(result interface{}) (*rpcproto.Response, error) {
	switch v := result.(type) {
	case nil:
		return rpcproto.TextResponse(""), nil
	case *rpcproto.Response:
		if v == nil {
			return rpcproto.TextResponse(""), nil
		}
		return v, nil
	case string:
		return rpcproto.TextResponse(v), nil
	case []byte:
		return rpcproto.TextResponse(string(v)), nil
	case json.RawMessage:
		return rpcproto.TextResponse(string(v)), nil
	default:
		resp, err := rpcproto.JSONResponse(v)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return resp, nil
	}
}
