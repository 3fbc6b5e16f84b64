// Package gohighlevel manages CRM contacts and conversations through the
// GoHighLevel (LeadConnector) v2 API.
package gohighlevel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
	"github.com/gliderlab/mcpgate/tools/httpapi"
)

const (
	Name           = "gohighlevel"
	DefaultBaseURL = "https://services.leadconnectorhq.com"
	APIVersion     = "2021-07-28"
	KeyAPIKey      = "GHL_API_KEY"
	KeyLocationID  = "GHL_LOCATION_ID"
)

type Config struct {
	APIKey string
	// LocationID is used when a call omits locationId.
	LocationID string
	BaseURL    string
	HTTPClient *http.Client
}

type plugin struct {
	cfg    Config
	client *httpapi.Client
}

// contactFields are the writable contact attributes accepted by create and update.
var contactFields = []string{
	"firstName", "lastName", "email", "phone", "address1", "city", "state",
	"postalCode", "website", "timezone", "companyName", "source",
}

func New(cfg Config) tools.Plugin {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	opts := []httpapi.Option{httpapi.WithHeader("Version", APIVersion)}
	if cfg.APIKey != "" {
		opts = append(opts, httpapi.WithBearer(cfg.APIKey))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, httpapi.WithHTTPClient(cfg.HTTPClient))
	}
	p := &plugin{cfg: cfg, client: httpapi.New(cfg.BaseURL, opts...)}

	location := adapter.StringParam("The location ID (defaults to " + KeyLocationID + ")")
	contactID := adapter.StringParam("The ID of the contact")
	tagList := adapter.ArrayParam("Tags", map[string]interface{}{"type": "string"})

	contactProps := func(withID bool) map[string]interface{} {
		props := map[string]interface{}{
			"locationId":   location,
			"dnd":          adapter.BoolParam("Do not disturb setting"),
			"tags":         tagList,
			"customFields": adapter.ObjectParam("Custom field values as key-value pairs"),
		}
		for _, f := range contactFields {
			props[f] = adapter.StringParam(f)
		}
		if withID {
			props["contactId"] = contactID
		}
		return props
	}

	return adapter.NewSet(Name).
		Add("ghl_get_contact", "Get a contact by ID from GoHighLevel",
			adapter.Object(map[string]interface{}{"contactId": contactID, "locationId": location}, "contactId"),
			p.getContact).
		Add("ghl_search_contacts", "Search contacts in GoHighLevel",
			adapter.Object(map[string]interface{}{
				"locationId":   location,
				"query":        adapter.StringParam("Search query (email, phone, name)"),
				"limit":        adapter.IntParam("Maximum number of results (default 20)"),
				"startAfterId": adapter.StringParam("Pagination cursor"),
			}), p.searchContacts).
		Add("ghl_create_contact", "Create a new contact in GoHighLevel",
			adapter.Object(contactProps(false)), p.createContact).
		Add("ghl_update_contact", "Update an existing contact in GoHighLevel",
			adapter.Object(contactProps(true), "contactId"), p.updateContact).
		Add("ghl_delete_contact", "Delete a contact from GoHighLevel",
			adapter.Object(map[string]interface{}{"contactId": contactID, "locationId": location}, "contactId"),
			p.deleteContact).
		Add("ghl_add_tags_to_contact", "Add tags to a contact in GoHighLevel",
			adapter.Object(map[string]interface{}{"contactId": contactID, "locationId": location, "tags": tagList}, "contactId", "tags"),
			p.tagsOp(http.MethodPost)).
		Add("ghl_remove_tags_from_contact", "Remove tags from a contact in GoHighLevel",
			adapter.Object(map[string]interface{}{"contactId": contactID, "locationId": location, "tags": tagList}, "contactId", "tags"),
			p.tagsOp(http.MethodDelete)).
		Add("ghl_send_message", "Send a message (SMS, Email, etc.) through GoHighLevel",
			adapter.Object(map[string]interface{}{
				"locationId":  location,
				"contactId":   contactID,
				"type":        adapter.EnumParam("Type of message to send", "SMS", "Email", "WhatsApp", "GMB", "IG", "FB"),
				"message":     adapter.StringParam("The message content"),
				"subject":     adapter.StringParam("Subject line (for email)"),
				"html":        adapter.StringParam("HTML content (for email)"),
				"attachments": adapter.ArrayParam("Attachment URLs", map[string]interface{}{"type": "string"}),
			}, "contactId", "type", "message"), p.sendMessage).
		Plugin()
}

// prepare checks the API key and resolves the location for a call.
func (p *plugin) prepare(args adapter.Args) (string, error) {
	if err := adapter.RequireCredential(KeyAPIKey, p.cfg.APIKey); err != nil {
		return "", err
	}
	loc := args.StringOr("locationId", p.cfg.LocationID)
	if loc == "" {
		return "", &adapter.MissingArgumentError{Names: []string{"locationId"}}
	}
	return loc, nil
}

func contactPath(args adapter.Args, suffix string) string {
	return "/contacts/" + url.PathEscape(args.String("contactId")) + suffix
}

func (p *plugin) getContact(ctx context.Context, args adapter.Args) (interface{}, error) {
	if _, err := p.prepare(args); err != nil {
		return nil, err
	}
	if err := args.Require("contactId"); err != nil {
		return nil, err
	}
	var out struct {
		Contact map[string]interface{} `json:"contact"`
	}
	if err := p.client.Get(ctx, contactPath(args, ""), nil, &out); err != nil {
		return nil, err
	}
	return out.Contact, nil
}

func (p *plugin) searchContacts(ctx context.Context, args adapter.Args) (interface{}, error) {
	loc, err := p.prepare(args)
	if err != nil {
		return nil, err
	}
	q := url.Values{"locationId": {loc}, "limit": {strconv.Itoa(args.IntOr("limit", 20))}}
	if s := args.String("query"); s != "" {
		q.Set("query", s)
	}
	if s := args.String("startAfterId"); s != "" {
		q.Set("startAfterId", s)
	}
	var out struct {
		Contacts []map[string]interface{} `json:"contacts"`
		Meta     map[string]interface{}   `json:"meta"`
	}
	if err := p.client.Get(ctx, "/contacts/", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func contactBody(args adapter.Args) map[string]interface{} {
	body := map[string]interface{}{}
	for _, f := range contactFields {
		if v := args.String(f); v != "" {
			body[f] = v
		}
	}
	if args.Has("dnd") {
		body["dnd"] = args.Bool("dnd")
	}
	if tags := args.Strings("tags"); len(tags) > 0 {
		body["tags"] = tags
	}
	if cf := args.Map("customFields"); len(cf) > 0 {
		fields := make([]map[string]interface{}, 0, len(cf))
		for k, v := range cf {
			fields = append(fields, map[string]interface{}{"key": k, "field_value": v})
		}
		body["customFields"] = fields
	}
	return body
}

func (p *plugin) createContact(ctx context.Context, args adapter.Args) (interface{}, error) {
	loc, err := p.prepare(args)
	if err != nil {
		return nil, err
	}
	body := contactBody(args)
	if len(body) == 0 {
		return nil, fmt.Errorf("at least one contact field is required")
	}
	body["locationId"] = loc

	var out struct {
		Contact map[string]interface{} `json:"contact"`
	}
	if err := p.client.Post(ctx, "/contacts/", body, &out); err != nil {
		return nil, err
	}
	return out.Contact, nil
}

func (p *plugin) updateContact(ctx context.Context, args adapter.Args) (interface{}, error) {
	if _, err := p.prepare(args); err != nil {
		return nil, err
	}
	if err := args.Require("contactId"); err != nil {
		return nil, err
	}
	body := contactBody(args)
	if len(body) == 0 {
		return nil, fmt.Errorf("nothing to update")
	}
	var out struct {
		Contact map[string]interface{} `json:"contact"`
	}
	if err := p.client.Put(ctx, contactPath(args, ""), body, &out); err != nil {
		return nil, err
	}
	return out.Contact, nil
}

func (p *plugin) deleteContact(ctx context.Context, args adapter.Args) (interface{}, error) {
	if _, err := p.prepare(args); err != nil {
		return nil, err
	}
	if err := args.Require("contactId"); err != nil {
		return nil, err
	}
	if err := p.client.Delete(ctx, contactPath(args, ""), nil); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Contact %s deleted", args.String("contactId")), nil
}

func (p *plugin) tagsOp(method string) adapter.Func {
	return func(ctx context.Context, args adapter.Args) (interface{}, error) {
		if _, err := p.prepare(args); err != nil {
			return nil, err
		}
		if err := args.Require("contactId"); err != nil {
			return nil, err
		}
		tags := args.Strings("tags")
		if len(tags) == 0 {
			return nil, &adapter.MissingArgumentError{Names: []string{"tags"}}
		}
		var out struct {
			Tags []string `json:"tags"`
		}
		if err := p.client.Do(ctx, method, contactPath(args, "/tags"), nil, map[string]interface{}{"tags": tags}, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (p *plugin) sendMessage(ctx context.Context, args adapter.Args) (interface{}, error) {
	if _, err := p.prepare(args); err != nil {
		return nil, err
	}
	if err := args.Require("contactId", "type", "message"); err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"type":      args.String("type"),
		"contactId": args.String("contactId"),
		"message":   args.String("message"),
	}
	if s := args.String("subject"); s != "" {
		body["subject"] = s
	}
	if s := args.String("html"); s != "" {
		body["html"] = s
	}
	if att := args.Strings("attachments"); len(att) > 0 {
		body["attachments"] = att
	}
	var out struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
	}
	if err := p.client.Post(ctx, "/conversations/messages", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}
