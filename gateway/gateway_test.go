package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/gliderlab/mcpgate/rpcproto"
	"github.com/gliderlab/mcpgate/tools"
)

func echoPlugin(name string, toolNames ...string) tools.Plugin {
	descs := make([]rpcproto.ToolDescriptor, len(toolNames))
	for i, n := range toolNames {
		descs[i] = rpcproto.ToolDescriptor{
			Name:        n,
			Description: n + " from " + name,
			InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
		}
	}
	return tools.Plugin{
		Name:  name,
		Tools: descs,
		Adapter: func(_ context.Context, tool string, args map[string]interface{}) (*rpcproto.Response, error) {
			if msg, ok := args["fail"].(string); ok {
				return rpcproto.ErrorResponse("%s tool %s failed: %s", name, tool, msg), nil
			}
			return rpcproto.TextResponse(name + ":" + tool), nil
		},
	}
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry([]tools.Plugin{
		echoPlugin("alpha", "read_file", "shared"),
		echoPlugin("beta", "shared", "get_issue"),
	}, []string{"alpha", "beta", "ghost"})
	require.NoError(t, err)
	return reg
}

func newTestGateway(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	reg := testRegistry(t)
	g := New(cfg, reg, tools.NewRouter(reg.Table()), zerolog.Nop())
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, []byte(buf.String())
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1", Token: "secret"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","plugins":2,"tools":3}`, string(body))
}

func TestAuth(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1", Token: "secret"})

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "", map[string]string{"X-Gateway-Token": "secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEmptyTokenOnlyOnLoopback(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1"})
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv = newTestGateway(t, Config{Host: "0.0.0.0"})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "gateway token not set")
}

func TestListTools(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/tools", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply rpcproto.ListToolsReply
	require.NoError(t, json.Unmarshal(body, &reply))

	var names []string
	for _, tool := range reply.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"read_file", "shared", "get_issue"}, names)
	assert.Equal(t, "shared from alpha", reply.Tools[1].Description)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/tools", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCallTool(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1"})
	url := srv.URL + "/v1/tools/call"

	cases := []struct {
		name    string
		body    string
		text    string
		isError bool
	}{
		{"first wins", `{"name":"shared","arguments":{}}`, "alpha:shared", false},
		{"second plugin", `{"name":"get_issue","arguments":{"n":1}}`, "beta:get_issue", false},
		{"adapter error", `{"name":"read_file","arguments":{"fail":"boom"}}`, "alpha tool read_file failed: boom", true},
		{"unknown tool", `{"name":"nope","arguments":{}}`, `Error: unknown tool "nope"`, true},
		{"missing arguments", `{"name":"shared"}`, "Error: no arguments provided", true},
		{"null arguments", `{"name":"shared","arguments":null}`, "Error: no arguments provided", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, url, tc.body, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(body), `"isError"`)

			var out rpcproto.Response
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, tc.isError, out.IsError)
			require.Len(t, out.Content, 1)
			assert.Equal(t, "text", out.Content[0].Type)
			assert.Equal(t, tc.text, out.Content[0].Text)
		})
	}
}

func TestCallToolBadRequests(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1"})
	url := srv.URL + "/v1/tools/call"

	resp, _ := doJSON(t, http.MethodPost, url, `{"name":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, url, `{"name":"shared","arguments":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, url, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPlugins(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/plugins", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply PluginsReply
	require.NoError(t, json.Unmarshal(body, &reply))

	require.Len(t, reply.Plugins, 2)
	assert.Equal(t, PluginInfo{Name: "alpha", Tools: []string{"read_file", "shared"}}, reply.Plugins[0])
	assert.Equal(t, []tools.Conflict{{Tool: "shared", Winner: "alpha", Shadowed: "beta"}}, reply.Conflicts)
	assert.Equal(t, []string{"ghost"}, reply.UnknownEnabled)
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/tools"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

type wsIn struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
}

func TestWebSocket(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1", Token: "secret"})
	conn := dialWS(t, srv, "?token=secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{"type": "ping", "id": "p1"}))
	var msg wsIn
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "p1", msg.ID)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{
		"type": "call", "id": "c1",
		"content": map[string]interface{}{"name": "get_issue", "arguments": map[string]interface{}{}},
	}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "result", msg.Type)
	assert.Equal(t, "c1", msg.ID)
	var resp rpcproto.Response
	require.NoError(t, json.Unmarshal(msg.Content, &resp))
	assert.False(t, resp.IsError)
	assert.Equal(t, "beta:get_issue", resp.Text())

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{
		"type": "call", "id": "c2", "content": map[string]interface{}{"name": "get_issue"},
	}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.NoError(t, json.Unmarshal(msg.Content, &resp))
	assert.True(t, resp.IsError)
	assert.Equal(t, "Error: no arguments provided", resp.Text())

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, string(msg.Content), "invalid message format")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{"type": "list", "id": "l1"}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "tools", msg.Type)
	var list rpcproto.ListToolsReply
	require.NoError(t, json.Unmarshal(msg.Content, &list))
	assert.Len(t, list.Tools, 3)
}

func TestWebSocketRequiresToken(t *testing.T) {
	srv := newTestGateway(t, Config{Host: "127.0.0.1", Token: "secret"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/tools", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListenAndServeShutsDown(t *testing.T) {
	reg := testRegistry(t)
	g := New(Config{Host: "127.0.0.1", Port: 0}, reg, tools.NewRouter(reg.Table()), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}
