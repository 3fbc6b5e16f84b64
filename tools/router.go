package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gliderlab/mcpgate/rpcproto"
)

// Router is the single entry point for tool invocations. Every outcome is a
// well-formed Response; nothing an adapter does escapes Call.
type Router struct {
	table   *Table
	timeout time.Duration
	log     zerolog.Logger
}

type RouterOption func(*Router)

// WithCallTimeout bounds each adapter call. Zero disables the bound; the
// caller's context is honoured either way.
func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.timeout = d }
}

func WithRouterLogger(l zerolog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

func NewRouter(table *Table, opts ...RouterOption) *Router {
	r := &Router{table: table, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type callResult struct {
	resp *rpcproto.Response
	err  error
}

// Call resolves name and invokes its adapter. A nil args map means the caller
// omitted arguments entirely; an empty map is a valid call.
func (r *Router) Call(ctx context.Context, name string, args map[string]interface{}) *rpcproto.Response {
	if args == nil {
		return rpcproto.ErrorResponse("Error: %v", ErrMissingArguments)
	}

	b, ok := r.table.Lookup(name)
	if !ok {
		r.log.Debug().Str("tool", name).Msg("unknown tool")
		return rpcproto.ErrorResponse("Error: unknown tool %q", name)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	resp := r.invoke(ctx, b, args)

	r.log.Debug().
		Str("tool", name).
		Str("plugin", b.Plugin).
		Dur("duration", time.Since(start)).
		Bool("isError", resp.IsError).
		Msg("tool call")
	return resp
}

func (r *Router) invoke(ctx context.Context, b *Binding, args map[string]interface{}) *rpcproto.Response {
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Str("tool", b.Tool.Name).Interface("panic", p).Msg("adapter panicked")
				done <- callResult{err: fmt.Errorf("%v", p)}
			}
		}()
		resp, err := b.Invoke(ctx, args)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		return b.result(res)
	case <-ctx.Done():
		// A result that raced the cancellation still wins.
		select {
		case res := <-done:
			return b.result(res)
		default:
		}
		// The adapter goroutine drains into the buffered channel and exits.
		return rpcproto.ErrorResponse("Error: tool %q did not complete: %v", b.Tool.Name, ctx.Err())
	}
}

func (b *Binding) result(res callResult) *rpcproto.Response {
	switch {
	case res.err != nil:
		return rpcproto.ErrorResponse("Error: %s", res.err.Error())
	case res.resp == nil:
		return rpcproto.ErrorResponse("Error: %s: %v", b.Tool.Name, ErrNilResponse)
	default:
		return res.resp
	}
}
