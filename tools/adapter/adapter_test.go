package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gliderlab/mcpgate/rpcproto"
)

func testSet() *Set {
	return NewSet("demo").
		Add("echo", "Echo text", Object(map[string]interface{}{"text": StringParam("text")}, "text"),
			func(_ context.Context, args Args) (interface{}, error) {
				if err := args.Require("text"); err != nil {
					return nil, err
				}
				return args.String("text"), nil
			}).
		Add("stats", "Structured result", nil,
			func(context.Context, Args) (interface{}, error) {
				return map[string]int{"count": 2}, nil
			}).
		Add("raw", "Pre-built response", nil,
			func(context.Context, Args) (interface{}, error) {
				return rpcproto.ErrorResponse("not found"), nil
			}).
		Add("down", "Failing integration", nil,
			func(context.Context, Args) (interface{}, error) {
				return nil, errors.New("503 service unavailable")
			})
}

func TestSetPluginDescriptors(t *testing.T) {
	p := testSet().Plugin()
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, []string{"echo", "stats", "raw", "down"}, p.ToolNames())
	assert.Equal(t, "object", p.Tools[1].InputSchema["type"])
	assert.Equal(t, []string{"text"}, p.Tools[0].InputSchema["required"])
}

func TestSetCallNormalizes(t *testing.T) {
	s := testSet()
	ctx := context.Background()

	resp, err := s.Call(ctx, "echo", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, rpcproto.TextResponse("hi"), resp)

	resp, err = s.Call(ctx, "stats", map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, resp.IsError)
	assert.JSONEq(t, `{"count":2}`, resp.Text())

	resp, err = s.Call(ctx, "raw", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, resp.IsError)
	assert.Equal(t, "not found", resp.Text())
}

func TestSetCallEncodesFailures(t *testing.T) {
	s := testSet()
	ctx := context.Background()

	resp, err := s.Call(ctx, "down", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, resp.IsError)
	assert.Equal(t, "demo tool down failed: 503 service unavailable", resp.Text())

	resp, err = s.Call(ctx, "echo", map[string]interface{}{"text": "  "})
	require.NoError(t, err)
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Text(), "missing required argument: text")

	resp, err = s.Call(ctx, "missing", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Text(), `"missing"`)
}

func TestSetAddReplaceKeepsOrder(t *testing.T) {
	s := NewSet("p").
		Add("a", "", nil, func(context.Context, Args) (interface{}, error) { return "1", nil }).
		Add("b", "", nil, func(context.Context, Args) (interface{}, error) { return "2", nil }).
		Add("a", "", nil, func(context.Context, Args) (interface{}, error) { return "3", nil })

	assert.Equal(t, []string{"a", "b"}, s.Plugin().ToolNames())
	resp, err := s.Call(context.Background(), "a", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "3", resp.Text())
}

func TestNormalizeNil(t *testing.T) {
	resp, err := Normalize(nil)
	require.NoError(t, err)
	assert.False(t, resp.IsError)
	require.Len(t, resp.Content, 1)
}

func TestNormalizeUnencodable(t *testing.T) {
	_, err := Normalize(map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestArgsAccessors(t *testing.T) {
	a := Args{
		"s":     "text",
		"n":     float64(42),
		"ns":    "7",
		"f":     1.5,
		"b":     true,
		"bs":    "true",
		"list":  []interface{}{"x", 1, "y"},
		"csv":   "a, b,,c",
		"obj":   map[string]interface{}{"k": "v"},
		"nulls": nil,
	}

	assert.Equal(t, "text", a.String("s"))
	assert.Equal(t, "42", a.String("n"))
	assert.Equal(t, "dflt", a.StringOr("absent", "dflt"))
	assert.Equal(t, 42, a.Int("n"))
	assert.Equal(t, 7, a.Int("ns"))
	assert.Equal(t, 10, a.IntOr("absent", 10))
	assert.Equal(t, 0, a.IntOr("s", 10))
	assert.Equal(t, 1.5, a.Float("f"))
	assert.True(t, a.Bool("b"))
	assert.True(t, a.Bool("bs"))
	assert.Equal(t, []string{"x", "y"}, a.Strings("list"))
	assert.Equal(t, []string{"a", "b", "c"}, a.Strings("csv"))
	assert.Equal(t, "v", a.Map("obj")["k"])
	assert.Len(t, a.Slice("list"), 3)
	assert.False(t, a.Has("nulls"))
	assert.True(t, a.Has("s"))
}

func TestArgsRequire(t *testing.T) {
	a := Args{"a": "x", "b": "", "c": nil}
	assert.NoError(t, a.Require("a"))

	err := a.Require("a", "b", "c", "d")
	var missing *MissingArgumentError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"b", "c", "d"}, missing.Names)
	assert.Equal(t, "missing required arguments: b, c, d", err.Error())
}

func TestArgsDecode(t *testing.T) {
	var target struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}
	a := Args{"name": "n", "items": []interface{}{"i1", "i2"}}
	require.NoError(t, a.Decode(&target))
	assert.Equal(t, "n", target.Name)
	assert.Equal(t, []string{"i1", "i2"}, target.Items)

	assert.Error(t, Args{"name": 5}.Decode(&target))
}

func TestRequireCredential(t *testing.T) {
	assert.NoError(t, RequireCredential("TOKEN", "abc"))
	err := RequireCredential("TOKEN", "")
	var mc *MissingCredentialError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, "TOKEN is not configured", err.Error())
}
