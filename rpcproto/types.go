package rpcproto

// Shared wire types between the transports and the dispatch core.

import (
	"encoding/json"
	"fmt"
)

// ToolDescriptor describes one callable operation. Name is the global dispatch key.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is returned by every adapter and by the router on failure.
// IsError is always serialized.
type Response struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// CallRequest is the body of an "invoke operation" call. Arguments stays raw so
// that an omitted field can be told apart from an empty object.
type CallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// DecodeArguments returns nil when arguments were omitted or null.
func (r CallRequest) DecodeArguments() (map[string]interface{}, error) {
	if len(r.Arguments) == 0 || string(r.Arguments) == "null" {
		return nil, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(r.Arguments, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

type ListToolsReply struct {
	Tools []ToolDescriptor `json:"tools"`
}

func TextResponse(text string) *Response {
	return &Response{Content: []Content{{Type: "text", Text: text}}}
}

func ErrorResponse(format string, args ...interface{}) *Response {
	return &Response{
		Content: []Content{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// JSONResponse renders v as indented JSON text.
func JSONResponse(v interface{}) (*Response, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return TextResponse(string(b)), nil
}

// Text joins all text content parts.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	out := ""
	for i, c := range r.Content {
		if i > 0 {
			out += "\n"
		}
		out += c.Text
	}
	return out
}
