package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gliderlab/mcpgate/tools"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mcp language:go", r.URL.Query().Get("q"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		w.Write([]byte(`{"total_count":1,"items":[{"full_name":"acme/mcp","stargazers_count":7,"html_url":"https://github.com/acme/mcp"}]}`))
	})
	mux.HandleFunc("/repos/acme/mcp/contents/docs/README.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dev", r.URL.Query().Get("ref"))
		content := base64.StdEncoding.EncodeToString([]byte("# hello"))
		json.NewEncoder(w).Encode(map[string]string{"content": content, "encoding": "base64"})
	})
	mux.HandleFunc("/repos/acme/mcp/contents/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"README.md","type":"file"},{"name":"img","type":"dir"}]`))
	})
	mux.HandleFunc("/repos/acme/mcp/issues", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Crash", body["title"])
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"number":12,"title":"Crash","state":"open","user":{"login":"octo"}}`))
			return
		}
		assert.Equal(t, "closed", r.URL.Query().Get("state"))
		w.Write([]byte(`[{"number":3,"title":"Bug","state":"closed","body":"long","labels":[{"name":"bug"}],"user":{"login":"octo"}}]`))
	})
	mux.HandleFunc("/repos/acme/mcp/issues/3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number":3,"title":"Bug","state":"closed","body":"details","user":{"login":"octo"}}`))
	})
	mux.HandleFunc("/repos/acme/missing/issues/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, p tools.Plugin, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	resp, err := p.Adapter(context.Background(), name, args)
	require.NoError(t, err)
	return resp.Text(), resp.IsError
}

func TestToolNames(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, Name, p.Name)
	assert.Equal(t, []string{"search_repositories", "get_file_contents", "list_issues", "get_issue", "create_issue"}, p.ToolNames())
}

func TestSearchRepositories(t *testing.T) {
	p := New(Config{BaseURL: newServer(t).URL})
	text, isErr := call(t, p, "search_repositories", map[string]interface{}{"query": "mcp language:go", "perPage": float64(500)})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"total_count": 1`)
	assert.Contains(t, text, "acme/mcp")

	text, isErr = call(t, p, "search_repositories", map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "query")
}

func TestGetFileContents(t *testing.T) {
	p := New(Config{BaseURL: newServer(t).URL})
	text, isErr := call(t, p, "get_file_contents", map[string]interface{}{
		"owner": "acme", "repo": "mcp", "path": "/docs/README.md", "branch": "dev",
	})
	require.False(t, isErr, text)
	assert.Equal(t, "# hello", text)

	text, isErr = call(t, p, "get_file_contents", map[string]interface{}{"owner": "acme", "repo": "mcp", "path": "docs"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "- img (dir)")
}

func TestIssues(t *testing.T) {
	p := New(Config{BaseURL: newServer(t).URL, Token: "tok"})

	text, isErr := call(t, p, "list_issues", map[string]interface{}{"owner": "acme", "repo": "mcp", "state": "closed"})
	require.False(t, isErr, text)
	var issues []Issue
	require.NoError(t, json.Unmarshal([]byte(text), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, []string{"bug"}, issues[0].Labels)
	assert.Empty(t, issues[0].Body)

	text, isErr = call(t, p, "get_issue", map[string]interface{}{"owner": "acme", "repo": "mcp", "issue_number": float64(3)})
	require.False(t, isErr, text)
	assert.Contains(t, text, "details")

	text, isErr = call(t, p, "create_issue", map[string]interface{}{"owner": "acme", "repo": "mcp", "title": "Crash"})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"number": 12`)
}

func TestDownstreamErrorIsResponse(t *testing.T) {
	p := New(Config{BaseURL: newServer(t).URL})
	text, isErr := call(t, p, "get_issue", map[string]interface{}{"owner": "acme", "repo": "missing", "issue_number": float64(1)})
	assert.True(t, isErr)
	assert.Contains(t, text, "404")
	assert.Contains(t, text, "Not Found")
}

func TestCreateIssueNeedsToken(t *testing.T) {
	p := New(Config{BaseURL: newServer(t).URL})
	text, isErr := call(t, p, "create_issue", map[string]interface{}{"owner": "acme", "repo": "mcp", "title": "x"})
	assert.True(t, isErr)
	assert.Contains(t, text, TokenKey)
}
