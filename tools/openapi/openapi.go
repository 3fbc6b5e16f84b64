// Package openapi discovers public API descriptions through an APIs.guru
// style directory and summarizes their OpenAPI or Swagger documents.
package openapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
	"github.com/gliderlab/mcpgate/tools/httpapi"
)

const (
	Name                = "openapi"
	KeyDirectoryURL     = "OPENAPI_DIRECTORY_URL"
	DefaultDirectoryURL = "https://api.apis.guru/v2"

	defaultSearchLimit = 10
)

var methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

type Config struct {
	DirectoryURL string
	HTTPClient   *http.Client
}

type plugin struct {
	dir *directory
}

func New(cfg Config) tools.Plugin {
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = DefaultDirectoryURL
	}
	opts := []httpapi.Option{httpapi.WithHeader("Accept", "application/json, application/yaml, */*")}
	if cfg.HTTPClient != nil {
		opts = append(opts, httpapi.WithHTTPClient(cfg.HTTPClient))
	}
	p := &plugin{dir: newDirectory(httpapi.New(cfg.DirectoryURL, opts...))}

	ident := adapter.StringParam(`API identifier from the directory (e.g. "stripe.com", "github")`)
	method := adapter.EnumParam("HTTP method", methods...)

	return adapter.NewSet(Name).
		Add("openapi_search_apis", "Search for OpenAPI specifications by name or description",
			adapter.Object(map[string]interface{}{
				"query": adapter.StringParam("Search query for API specifications"),
				"limit": adapter.IntParam("Maximum number of results to return (default 10)"),
			}, "query"), p.searchAPIs).
		Add("openapi_get_api_overview", "Get an overview of a specific OpenAPI specification",
			adapter.Object(map[string]interface{}{"api_identifier": ident}, "api_identifier"),
			p.overview).
		Add("openapi_get_operation_details", "Get detailed information about specific API operations/endpoints",
			adapter.Object(map[string]interface{}{
				"api_identifier": ident,
				"operation_path": adapter.StringParam(`API path (e.g. "/users/{id}")`),
				"method":         method,
			}, "api_identifier"), p.operationDetails).
		Add("openapi_explore_endpoints", "Explore available endpoints for a specific API",
			adapter.Object(map[string]interface{}{
				"api_identifier": ident,
				"tag":            adapter.StringParam("Filter by endpoint tag/category"),
				"search":         adapter.StringParam("Search within endpoint paths and summaries"),
			}, "api_identifier"), p.exploreEndpoints).
		Add("openapi_generate_code_sample", "Generate code samples for API operations",
			adapter.Object(map[string]interface{}{
				"api_identifier": ident,
				"operation_path": adapter.StringParam("API path"),
				"method":         method,
				"language":       adapter.EnumParam("Code language (default javascript)", "javascript", "typescript", "python", "curl"),
			}, "api_identifier", "operation_path", "method"), p.codeSample).
		Plugin()
}

func (p *plugin) searchAPIs(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("query"); err != nil {
		return nil, err
	}
	limit := args.IntOr("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	found, err := p.dir.search(ctx, args.String("query"), limit)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return fmt.Sprintf("No APIs match %q.", args.String("query")), nil
	}
	return found, nil
}

func (p *plugin) load(ctx context.Context, args adapter.Args) (APIEntry, *Document, error) {
	if err := args.Require("api_identifier"); err != nil {
		return APIEntry{}, nil, err
	}
	entry, err := p.dir.resolve(ctx, args.String("api_identifier"))
	if err != nil {
		return APIEntry{}, nil, err
	}
	doc, err := p.dir.document(ctx, entry.SpecURL)
	if err != nil {
		return APIEntry{}, nil, err
	}
	return entry, doc, nil
}

func (p *plugin) overview(ctx context.Context, args adapter.Args) (interface{}, error) {
	entry, doc, err := p.load(ctx, args)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", doc.Info.Title, entry.ID)
	fmt.Fprintf(&b, "Version: %s, %s\n", doc.Info.Version, doc.SpecVersion())
	if base := doc.BaseURL(); base != "" {
		fmt.Fprintf(&b, "Base URL: %s\n", base)
	}
	if doc.Info.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", tools.Truncate(strings.TrimSpace(doc.Info.Description), 1000))
	}

	if schemes := doc.SecuritySchemes(); len(schemes) > 0 {
		names := make([]string, 0, len(schemes))
		for n := range schemes {
			names = append(names, n)
		}
		sort.Strings(names)
		b.WriteString("\nAuthentication:\n")
		for _, n := range names {
			s := schemes[n]
			detail := s.Scheme
			if s.In != "" {
				detail = s.Name + " in " + s.In
			}
			fmt.Fprintf(&b, "- %s: %s %s\n", n, s.Type, strings.TrimSpace(detail))
		}
	}

	endpoints := doc.Endpoints()
	byTag := map[string]int{}
	for _, e := range endpoints {
		tag := "untagged"
		if len(e.Op.Tags) > 0 {
			tag = e.Op.Tags[0]
		}
		byTag[tag]++
	}
	tags := make([]string, 0, len(byTag))
	for t := range byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	fmt.Fprintf(&b, "\n%d paths, %d operations\n", len(doc.Paths), len(endpoints))
	for _, t := range tags {
		fmt.Fprintf(&b, "- %s: %d\n", t, byTag[t])
	}
	return b.String(), nil
}

func (p *plugin) operationDetails(ctx context.Context, args adapter.Args) (interface{}, error) {
	_, doc, err := p.load(ctx, args)
	if err != nil {
		return nil, err
	}
	path, method := args.String("operation_path"), strings.ToUpper(args.String("method"))

	var matched []Endpoint
	for _, e := range doc.Endpoints() {
		if (path == "" || e.Path == path) && (method == "" || e.Method == method) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no operation matches %s %s", method, path)
	}

	var b strings.Builder
	for i, e := range matched {
		if i > 0 {
			b.WriteString("\n")
		}
		writeOperation(&b, e)
	}
	return tools.Truncate(b.String(), 50*1024), nil
}

func writeOperation(b *strings.Builder, e Endpoint) {
	fmt.Fprintf(b, "%s %s\n", e.Method, e.Path)
	if e.Op.OperationID != "" {
		fmt.Fprintf(b, "Operation ID: %s\n", e.Op.OperationID)
	}
	if e.Op.Summary != "" {
		fmt.Fprintf(b, "Summary: %s\n", e.Op.Summary)
	}
	if e.Op.Deprecated {
		b.WriteString("Deprecated\n")
	}
	if params := e.Parameters(); len(params) > 0 {
		b.WriteString("Parameters:\n")
		for _, p := range params {
			if p.Ref != "" {
				fmt.Fprintf(b, "- %s\n", p.Ref)
				continue
			}
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(b, "- %s (%s, %s%s) %s\n", p.Name, p.In, p.typeName(), req, p.Description)
		}
	}
	if rb := e.Op.RequestBody; rb != nil {
		types := make([]string, 0, len(rb.Content))
		for ct := range rb.Content {
			types = append(types, ct)
		}
		sort.Strings(types)
		fmt.Fprintf(b, "Request body: %s", strings.Join(types, ", "))
		if rb.Required {
			b.WriteString(" (required)")
		}
		b.WriteString("\n")
	}
	if len(e.Op.Responses) > 0 {
		codes := make([]string, 0, len(e.Op.Responses))
		for c := range e.Op.Responses {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		b.WriteString("Responses:\n")
		for _, c := range codes {
			fmt.Fprintf(b, "- %s: %s\n", c, e.Op.Responses[c].Description)
		}
	}
}

func (p *plugin) exploreEndpoints(ctx context.Context, args adapter.Args) (interface{}, error) {
	_, doc, err := p.load(ctx, args)
	if err != nil {
		return nil, err
	}
	tag := strings.ToLower(args.String("tag"))
	search := strings.ToLower(args.String("search"))

	var b strings.Builder
	n := 0
	for _, e := range doc.Endpoints() {
		if tag != "" && !hasTag(e.Op.Tags, tag) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.Path+" "+e.Op.Summary+" "+e.Op.Description), search) {
			continue
		}
		n++
		fmt.Fprintf(&b, "%-7s %s", e.Method, e.Path)
		if e.Op.Summary != "" {
			fmt.Fprintf(&b, "  %s", e.Op.Summary)
		}
		b.WriteString("\n")
	}
	if n == 0 {
		return "No endpoints match the given filters.", nil
	}
	return tools.Truncate(fmt.Sprintf("%d endpoints:\n%s", n, b.String()), 50*1024), nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.ToLower(t) == want {
			return true
		}
	}
	return false
}

func (p *plugin) codeSample(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("operation_path", "method"); err != nil {
		return nil, err
	}
	_, doc, err := p.load(ctx, args)
	if err != nil {
		return nil, err
	}
	path, method := args.String("operation_path"), strings.ToUpper(args.String("method"))

	var found *Endpoint
	for _, e := range doc.Endpoints() {
		if e.Path == path && e.Method == method {
			found = &e
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no operation matches %s %s", method, path)
	}
	return renderSample(args.StringOr("language", "javascript"), doc.BaseURL()+path, *found)
}

func renderSample(lang, url string, e Endpoint) (string, error) {
	hasBody := e.Op.RequestBody != nil
	switch lang {
	case "curl":
		s := fmt.Sprintf("curl -X %s %q \\\n  -H \"Accept: application/json\"", e.Method, url)
		if hasBody {
			s += " \\\n  -H \"Content-Type: application/json\" \\\n  -d '{}'"
		}
		return s + "\n", nil
	case "python":
		s := "import requests\n\n"
		call := fmt.Sprintf("requests.request(%q, %q", e.Method, url)
		if hasBody {
			call += ", json={}"
		}
		s += "response = " + call + ")\nresponse.raise_for_status()\nprint(response.json())\n"
		return s, nil
	case "javascript", "typescript":
		opts := fmt.Sprintf("{\n  method: %q,\n  headers: { Accept: 'application/json'", e.Method)
		if hasBody {
			opts += ", 'Content-Type': 'application/json' },\n  body: JSON.stringify({}),\n}"
		} else {
			opts += " },\n}"
		}
		decl := "const data = await response.json();"
		if lang == "typescript" {
			decl = "const data: unknown = await response.json();"
		}
		return fmt.Sprintf("const response = await fetch(%q, %s);\nif (!response.ok) throw new Error(`HTTP ${response.status}`);\n%s\nconsole.log(data);\n",
			url, opts, decl), nil
	}
	return "", fmt.Errorf("unsupported language %q", lang)
}
