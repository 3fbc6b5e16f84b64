// Package cloudflare wraps the Cloudflare v4 API: Workers scripts, DNS
// analytics, account audit logs and the GraphQL analytics endpoint.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
	"github.com/gliderlab/mcpgate/tools/httpapi"
)

const (
	Name           = "cloudflare"
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"
	TokenKey       = "CLOUDFLARE_API_TOKEN"
	AccountKey     = "CLOUDFLARE_ACCOUNT_ID"

	compatibilityDate = "2024-09-23"
)

type Config struct {
	Token      string
	AccountID  string
	BaseURL    string
	HTTPClient *http.Client
	// Now defaults to time.Now.
	Now func() time.Time
}

type plugin struct {
	cfg    Config
	client *httpapi.Client
}

func New(cfg Config) tools.Plugin {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	opts := []httpapi.Option{}
	if cfg.Token != "" {
		opts = append(opts, httpapi.WithBearer(cfg.Token))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, httpapi.WithHTTPClient(cfg.HTTPClient))
	}
	p := &plugin{cfg: cfg, client: httpapi.New(cfg.BaseURL, opts...)}

	return adapter.NewSet(Name).
		Add("cloudflare_list_workers", "List Workers scripts deployed in the account", nil, p.listWorkers).
		Add("cloudflare_create_worker", "Create and deploy a Cloudflare Worker",
			adapter.Object(map[string]interface{}{
				"name":   adapter.StringParam("Worker name"),
				"script": adapter.StringParam("Worker script content (ES module)"),
				"bindings": adapter.ArrayParam("Worker bindings (KV, D1, plain_text, ...)",
					map[string]interface{}{"type": "object"}),
			}, "name", "script"), p.createWorker).
		Add("cloudflare_dns_analytics", "Report DNS query volume, response times or errors for a zone",
			adapter.Object(map[string]interface{}{
				"zone_id": adapter.StringParam("DNS zone ID"),
				"metric":  adapter.EnumParam("DNS metric to analyze", "queries", "responses", "errors"),
				"since":   adapter.StringParam("Look-back window as a duration, e.g. 24h (default 24h)"),
			}, "zone_id"), p.dnsAnalytics).
		Add("cloudflare_audit_logs", "Query account audit logs",
			adapter.Object(map[string]interface{}{
				"action":     adapter.StringParam("Audit action to filter by"),
				"user":       adapter.StringParam("Actor email to filter by"),
				"time_range": adapter.StringParam("Look-back window as a duration, e.g. 72h, or an RFC 3339 start time"),
			}), p.auditLogs).
		Add("cloudflare_graphql_query", "Get analytics data using Cloudflare's GraphQL API",
			adapter.Object(map[string]interface{}{
				"query":     adapter.StringParam("GraphQL query"),
				"variables": adapter.ObjectParam("Query variables"),
			}, "query"), p.graphQL).
		Plugin()
}

// envelope is the standard v4 response wrapper.
type envelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo json.RawMessage `json:"result_info,omitempty"`
}

func (e *envelope) err() error {
	if e.Success {
		return nil
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, er := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%d: %s", er.Code, er.Message))
	}
	if len(msgs) == 0 {
		return fmt.Errorf("request was not successful")
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func (p *plugin) credentials(needAccount bool) error {
	if err := adapter.RequireCredential(TokenKey, p.cfg.Token); err != nil {
		return err
	}
	if needAccount {
		return adapter.RequireCredential(AccountKey, p.cfg.AccountID)
	}
	return nil
}

func (p *plugin) accountPath(suffix string) string {
	return "/accounts/" + url.PathEscape(p.cfg.AccountID) + suffix
}

func (p *plugin) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	var env envelope
	if err := p.client.Get(ctx, path, q, &env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return env.Result, nil
}

type WorkerScript struct {
	ID         string `json:"id"`
	CreatedOn  string `json:"created_on"`
	ModifiedOn string `json:"modified_on"`
}

func (p *plugin) listWorkers(ctx context.Context, _ adapter.Args) (interface{}, error) {
	if err := p.credentials(true); err != nil {
		return nil, err
	}
	raw, err := p.get(ctx, p.accountPath("/workers/scripts"), nil)
	if err != nil {
		return nil, err
	}
	var scripts []WorkerScript
	if err := json.Unmarshal(raw, &scripts); err != nil {
		return nil, fmt.Errorf("decode workers: %w", err)
	}
	return scripts, nil
}

func (p *plugin) createWorker(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.credentials(true); err != nil {
		return nil, err
	}
	if err := args.Require("name", "script"); err != nil {
		return nil, err
	}
	name := args.String("name")

	bindings := args.Slice("bindings")
	if bindings == nil {
		bindings = []interface{}{}
	}
	metadata := map[string]interface{}{
		"main_module":        "worker.js",
		"compatibility_date": compatibilityDate,
		"bindings":           bindings,
	}

	body, contentType, err := workerUpload(metadata, args.String("script"))
	if err != nil {
		return nil, err
	}

	data, _, err := p.client.DoRaw(ctx, http.MethodPut,
		p.accountPath("/workers/scripts/"+url.PathEscape(name)), nil, body, contentType)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Worker %s deployed", name), nil
}

// workerUpload builds the multipart body the scripts endpoint expects.
func workerUpload(metadata map[string]interface{}, script string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return nil, "", err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="worker.js"; filename="worker.js"`)
	h.Set("Content-Type", "application/javascript+module")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write([]byte(script)); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

var dnsMetrics = map[string]url.Values{
	"queries":   {"metrics": {"queryCount"}, "dimensions": {"queryName"}},
	"responses": {"metrics": {"responseTimeAvg,responseTimeMedian"}, "dimensions": {"queryType"}},
	"errors":    {"metrics": {"queryCount"}, "dimensions": {"responseCode"}},
}

func (p *plugin) dnsAnalytics(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.credentials(false); err != nil {
		return nil, err
	}
	if err := args.Require("zone_id"); err != nil {
		return nil, err
	}
	metric := args.StringOr("metric", "queries")
	preset, ok := dnsMetrics[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q (want queries, responses or errors)", metric)
	}
	since, err := p.since(args.StringOr("since", "24h"))
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range preset {
		q[k] = v
	}
	q.Set("since", since.Format(time.RFC3339))
	q.Set("until", p.cfg.Now().UTC().Format(time.RFC3339))
	if metric == "queries" {
		q.Set("sort", "-queryCount")
		q.Set("limit", "20")
	}

	raw, err := p.get(ctx, "/zones/"+url.PathEscape(args.String("zone_id"))+"/dns_analytics/report", q)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

type AuditEntry struct {
	ID     string `json:"id"`
	When   string `json:"when"`
	Action struct {
		Type   string `json:"type"`
		Result bool   `json:"result"`
	} `json:"action"`
	Actor struct {
		Email string `json:"email"`
		IP    string `json:"ip"`
	} `json:"actor"`
	Resource struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"resource"`
}

func (p *plugin) auditLogs(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.credentials(true); err != nil {
		return nil, err
	}
	q := url.Values{"direction": {"desc"}, "per_page": {"50"}}
	if a := args.String("action"); a != "" {
		q.Set("action.type", a)
	}
	if u := args.String("user"); u != "" {
		q.Set("actor.email", u)
	}
	if tr := args.String("time_range"); tr != "" {
		since, err := p.since(tr)
		if err != nil {
			return nil, err
		}
		q.Set("since", since.Format(time.RFC3339))
	}

	raw, err := p.get(ctx, p.accountPath("/audit_logs"), q)
	if err != nil {
		return nil, err
	}
	var entries []AuditEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode audit logs: %w", err)
	}
	if len(entries) == 0 {
		return "No audit log entries match the filters.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d audit log entries:\n", len(entries))
	for _, e := range entries {
		result := "ok"
		if !e.Action.Result {
			result = "failed"
		}
		fmt.Fprintf(&b, "- %s %s by %s on %s %s (%s)\n",
			e.When, e.Action.Type, e.Actor.Email, e.Resource.Type, e.Resource.ID, result)
	}
	return b.String(), nil
}

func (p *plugin) graphQL(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.credentials(false); err != nil {
		return nil, err
	}
	if err := args.Require("query"); err != nil {
		return nil, err
	}
	body := map[string]interface{}{"query": args.String("query")}
	if vars := args.Map("variables"); vars != nil {
		body["variables"] = vars
	}

	var out struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := p.client.Post(ctx, "/graphql", body, &out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	var pretty interface{}
	if err := json.Unmarshal(out.Data, &pretty); err != nil {
		return nil, fmt.Errorf("decode graphql data: %w", err)
	}
	return pretty, nil
}

// since accepts a look-back duration ("24h") or an absolute RFC 3339 time.
func (p *plugin) since(v string) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return p.cfg.Now().UTC().Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time range %q", v)
}
