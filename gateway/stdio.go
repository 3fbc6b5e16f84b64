package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/gliderlab/mcpgate/rpcproto"
	"github.com/gliderlab/mcpgate/tools"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// StdioServer speaks MCP over newline-delimited JSON-RPC. Session methods are
// served by an mcp-go MCPServer; tools/call goes through the Router so that
// every call, including one for an unknown tool, yields a Response.
type StdioServer struct {
	mcp    *server.MCPServer
	router *tools.Router
	log    zerolog.Logger

	writeMu sync.Mutex
}

func NewStdioServer(name, version string, reg *tools.Registry, router *tools.Router, log zerolog.Logger) (*StdioServer, error) {
	s := &StdioServer{
		mcp:    server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		router: router,
		log:    log,
	}
	for _, desc := range reg.Tools() {
		schema, err := json.Marshal(desc.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", desc.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(desc.Name, desc.Description, schema), s.handleTool)
	}
	return s, nil
}

// MCPServer exposes the underlying session server.
func (s *StdioServer) MCPServer() *server.MCPServer { return s.mcp }

func (s *StdioServer) handleTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if args == nil && req.Params.Arguments != nil {
		return mcp.NewToolResultError("Error: arguments must be a JSON object"), nil
	}
	return toCallToolResult(s.router.Call(ctx, req.Params.Name, args)), nil
}

func toCallToolResult(resp *rpcproto.Response) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: resp.IsError}
	for _, c := range resp.Content {
		out.Content = append(out.Content, mcp.NewTextContent(c.Text))
	}
	return out
}

// Serve reads requests from in until EOF or ctx ends. In-flight tool calls
// are allowed to finish before Serve returns.
func (s *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		r := bufio.NewReader(in)
		for {
			line, err := r.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.log.Info().Msg("stdio transport ready")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read stdin: %w", err)
		case line := <-lines:
			s.handleLine(ctx, &wg, line, out)
		}
	}
}

func (s *StdioServer) handleLine(ctx context.Context, wg *sync.WaitGroup, line []byte, out io.Writer) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Debug().Err(err).Msg("malformed request")
		s.write(out, rpcReply{JSONRPC: mcp.JSONRPC_VERSION, ID: json.RawMessage("null"),
			Error: &rpcError{Code: mcp.PARSE_ERROR, Message: "Parse error"}})
		return
	}

	if req.Method != string(mcp.MethodToolsCall) {
		reply := s.mcp.HandleMessage(ctx, line)
		if reply != nil {
			s.write(out, reply)
		}
		return
	}

	// Notifications get no reply.
	if len(req.ID) == 0 {
		return
	}

	var call rpcproto.CallRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &call); err != nil {
			s.write(out, rpcReply{JSONRPC: mcp.JSONRPC_VERSION, ID: req.ID,
				Error: &rpcError{Code: mcp.INVALID_PARAMS, Message: err.Error()}})
			return
		}
	}
	args, err := call.DecodeArguments()
	if err != nil {
		s.write(out, rpcReply{JSONRPC: mcp.JSONRPC_VERSION, ID: req.ID,
			Error: &rpcError{Code: mcp.INVALID_PARAMS, Message: err.Error()}})
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		resp := s.router.Call(ctx, call.Name, args)
		s.write(out, rpcReply{JSONRPC: mcp.JSONRPC_VERSION, ID: req.ID, Result: resp})
	}()
}

func (s *StdioServer) write(out io.Writer, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("encode reply")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := out.Write(append(b, '\n')); err != nil {
		s.log.Error().Err(err).Msg("write reply")
	}
}
