// Package github exposes repository search, file contents and issues from the
// GitHub REST API.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
	"github.com/gliderlab/mcpgate/tools/httpapi"
)

const (
	Name           = "github"
	DefaultBaseURL = "https://api.github.com"
	TokenKey       = "GITHUB_PERSONAL_ACCESS_TOKEN"
	maxFileBytes   = 50 * 1024
)

type Config struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

type plugin struct {
	client   *httpapi.Client
	hasToken bool
}

func New(cfg Config) tools.Plugin {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	opts := []httpapi.Option{
		httpapi.WithHeader("Accept", "application/vnd.github+json"),
		httpapi.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
	}
	if cfg.Token != "" {
		opts = append(opts, httpapi.WithBearer(cfg.Token))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, httpapi.WithHTTPClient(cfg.HTTPClient))
	}
	p := &plugin{client: httpapi.New(base, opts...), hasToken: cfg.Token != ""}

	repoProps := func(extra map[string]interface{}) map[string]interface{} {
		props := map[string]interface{}{
			"owner": adapter.StringParam("Repository owner (user or organization)"),
			"repo":  adapter.StringParam("Repository name"),
		}
		for k, v := range extra {
			props[k] = v
		}
		return props
	}

	return adapter.NewSet(Name).
		Add("search_repositories", "Search for GitHub repositories",
			adapter.Object(map[string]interface{}{
				"query":   adapter.StringParam("Search query (GitHub search syntax)"),
				"page":    adapter.IntParam("Page number for pagination (default 1)"),
				"perPage": adapter.IntParam("Results per page (default 30, max 100)"),
			}, "query"), p.searchRepositories).
		Add("get_file_contents", "Get the contents of a file or directory from a GitHub repository",
			adapter.Object(repoProps(map[string]interface{}{
				"path":   adapter.StringParam("Path to the file or directory"),
				"branch": adapter.StringParam("Branch to read from"),
			}), "owner", "repo", "path"), p.getFileContents).
		Add("list_issues", "List issues in a GitHub repository",
			adapter.Object(repoProps(map[string]interface{}{
				"state":   adapter.EnumParam("Issue state", "open", "closed", "all"),
				"labels":  adapter.ArrayParam("Labels to filter by", map[string]interface{}{"type": "string"}),
				"page":    adapter.IntParam("Page number"),
				"perPage": adapter.IntParam("Results per page"),
			}), "owner", "repo"), p.listIssues).
		Add("get_issue", "Get details of a specific issue in a GitHub repository",
			adapter.Object(repoProps(map[string]interface{}{
				"issue_number": adapter.IntParam("Issue number"),
			}), "owner", "repo", "issue_number"), p.getIssue).
		Add("create_issue", "Create a new issue in a GitHub repository",
			adapter.Object(repoProps(map[string]interface{}{
				"title":     adapter.StringParam("Issue title"),
				"body":      adapter.StringParam("Issue body"),
				"labels":    adapter.ArrayParam("Labels to apply", map[string]interface{}{"type": "string"}),
				"assignees": adapter.ArrayParam("Usernames to assign", map[string]interface{}{"type": "string"}),
			}), "owner", "repo", "title"), p.createIssue).
		Plugin()
}

type Repository struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
	Stars       int    `json:"stargazers_count"`
	Language    string `json:"language"`
	UpdatedAt   string `json:"updated_at"`
}

type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	State     string   `json:"state"`
	HTMLURL   string   `json:"html_url"`
	Body      string   `json:"body,omitempty"`
	User      string   `json:"user"`
	Labels    []string `json:"labels"`
	Comments  int      `json:"comments"`
	CreatedAt string   `json:"created_at"`
}

// apiIssue is the wire shape; Issue flattens user and labels.
type apiIssue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Comments  int    `json:"comments"`
	CreatedAt string `json:"created_at"`
}

func (a apiIssue) flatten(withBody bool) Issue {
	is := Issue{
		Number:    a.Number,
		Title:     a.Title,
		State:     a.State,
		HTMLURL:   a.HTMLURL,
		User:      a.User.Login,
		Comments:  a.Comments,
		CreatedAt: a.CreatedAt,
		Labels:    make([]string, 0, len(a.Labels)),
	}
	if withBody {
		is.Body = a.Body
	}
	for _, l := range a.Labels {
		is.Labels = append(is.Labels, l.Name)
	}
	return is
}

func paging(args adapter.Args, q url.Values) {
	if page := args.Int("page"); page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if per := args.Int("perPage"); per > 0 {
		if per > 100 {
			per = 100
		}
		q.Set("per_page", strconv.Itoa(per))
	}
}

func repoPath(args adapter.Args, suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s",
		url.PathEscape(args.String("owner")), url.PathEscape(args.String("repo")), suffix)
}

func (p *plugin) searchRepositories(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("query"); err != nil {
		return nil, err
	}
	q := url.Values{"q": {args.String("query")}}
	paging(args, q)

	var out struct {
		TotalCount int          `json:"total_count"`
		Items      []Repository `json:"items"`
	}
	if err := p.client.Get(ctx, "/search/repositories", q, &out); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"total_count": out.TotalCount,
		"items":       out.Items,
	}, nil
}

func (p *plugin) getFileContents(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("owner", "repo", "path"); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(args.String("path"), "/")
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	q := url.Values{}
	if branch := args.String("branch"); branch != "" {
		q.Set("ref", branch)
	}

	var raw interface{}
	if err := p.client.Get(ctx, repoPath(args, "/contents/"+strings.Join(segments, "/")), q, &raw); err != nil {
		return nil, err
	}

	// A directory answers with an array of entries.
	if entries, ok := raw.([]interface{}); ok {
		var b strings.Builder
		fmt.Fprintf(&b, "Directory %s:\n", path)
		for _, e := range entries {
			m, _ := e.(map[string]interface{})
			fmt.Fprintf(&b, "- %v (%v)\n", m["name"], m["type"])
		}
		return b.String(), nil
	}

	file, _ := raw.(map[string]interface{})
	content, _ := file["content"].(string)
	encoding, _ := file["encoding"].(string)
	if encoding != "base64" {
		return raw, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return tools.Truncate(string(data), maxFileBytes), nil
}

func (p *plugin) listIssues(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("owner", "repo"); err != nil {
		return nil, err
	}
	q := url.Values{"state": {args.StringOr("state", "open")}}
	if labels := args.Strings("labels"); len(labels) > 0 {
		q.Set("labels", strings.Join(labels, ","))
	}
	paging(args, q)

	var raw []apiIssue
	if err := p.client.Get(ctx, repoPath(args, "/issues"), q, &raw); err != nil {
		return nil, err
	}
	issues := make([]Issue, 0, len(raw))
	for _, r := range raw {
		issues = append(issues, r.flatten(false))
	}
	return issues, nil
}

func (p *plugin) getIssue(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("owner", "repo", "issue_number"); err != nil {
		return nil, err
	}
	n := args.Int("issue_number")
	if n <= 0 {
		return nil, fmt.Errorf("issue_number must be a positive integer")
	}
	var raw apiIssue
	if err := p.client.Get(ctx, repoPath(args, "/issues/"+strconv.Itoa(n)), nil, &raw); err != nil {
		return nil, err
	}
	return raw.flatten(true), nil
}

func (p *plugin) createIssue(ctx context.Context, args adapter.Args) (interface{}, error) {
	if !p.hasToken {
		return nil, &adapter.MissingCredentialError{Key: TokenKey}
	}
	if err := args.Require("owner", "repo", "title"); err != nil {
		return nil, err
	}
	body := map[string]interface{}{"title": args.String("title")}
	if s := args.String("body"); s != "" {
		body["body"] = s
	}
	if labels := args.Strings("labels"); len(labels) > 0 {
		body["labels"] = labels
	}
	if assignees := args.Strings("assignees"); len(assignees) > 0 {
		body["assignees"] = assignees
	}

	var raw apiIssue
	if err := p.client.Post(ctx, repoPath(args, "/issues"), body, &raw); err != nil {
		return nil, err
	}
	return raw.flatten(true), nil
}
