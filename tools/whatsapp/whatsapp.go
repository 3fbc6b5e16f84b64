// Package whatsapp reads chats and messages from a WhatsApp bridge's local
// message store and sends messages through the bridge's REST API.
package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
	"github.com/gliderlab/mcpgate/tools/httpapi"
)

const (
	Name             = "whatsapp"
	KeyDBPath        = "WHATSAPP_DB_PATH"
	KeyBridgeURL     = "WHATSAPP_BRIDGE_URL"
	DefaultBridgeURL = "http://localhost:8080/api"

	defaultLimit = 20
	maxLimit     = 200
)

type Config struct {
	// DBPath is the bridge's messages.db.
	DBPath     string
	BridgeURL  string
	HTTPClient *http.Client
}

type plugin struct {
	store  *store
	bridge *httpapi.Client
}

// New returns the plugin and a closer for its database handle.
func New(cfg Config) (tools.Plugin, func() error) {
	if cfg.BridgeURL == "" {
		cfg.BridgeURL = DefaultBridgeURL
	}
	var opts []httpapi.Option
	if cfg.HTTPClient != nil {
		opts = append(opts, httpapi.WithHTTPClient(cfg.HTTPClient))
	}
	p := &plugin{
		store:  &store{path: cfg.DBPath},
		bridge: httpapi.New(cfg.BridgeURL, opts...),
	}

	limit := adapter.IntParam(fmt.Sprintf("Maximum number of results (default %d)", defaultLimit))

	set := adapter.NewSet(Name).
		Add("whatsapp_search_contacts", "Search for contacts by name or phone number",
			adapter.Object(map[string]interface{}{
				"query": adapter.StringParam("Name or phone number to search for"),
			}, "query"), p.searchContacts).
		Add("whatsapp_list_chats", "List available chats with metadata",
			adapter.Object(map[string]interface{}{
				"query": adapter.StringParam("Filter chats by name or JID"),
				"limit": limit,
			}), p.listChats).
		Add("whatsapp_list_messages", "Retrieve messages with optional filters",
			adapter.Object(map[string]interface{}{
				"chat_jid":          adapter.StringParam("Chat JID to get messages from"),
				"sender":            adapter.StringParam("Sender phone number or JID"),
				"query":             adapter.StringParam("Text to search for in message content"),
				"before_message_id": adapter.StringParam("Get messages before this message ID"),
				"limit":             limit,
			}), p.listMessages).
		Add("whatsapp_get_chat", "Get information about a specific chat",
			adapter.Object(map[string]interface{}{
				"chat_jid": adapter.StringParam("The JID of the chat"),
			}, "chat_jid"), p.getChat).
		Add("whatsapp_get_last_interaction", "Get the most recent message involving a contact",
			adapter.Object(map[string]interface{}{
				"phone_number": adapter.StringParam("Contact phone number"),
			}, "phone_number"), p.lastInteraction).
		Add("whatsapp_send_message", "Send a WhatsApp message to a phone number or group JID",
			adapter.Object(map[string]interface{}{
				"recipient": adapter.StringParam("Phone number or group JID"),
				"message":   adapter.StringParam("Message text to send"),
			}, "recipient", "message"), p.sendMessage)

	return set.Plugin(), p.store.Close
}

func clampLimit(args adapter.Args) int {
	n := args.IntOr("limit", defaultLimit)
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func (p *plugin) ready() error {
	return adapter.RequireCredential(KeyDBPath, p.store.path)
}

func (p *plugin) searchContacts(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := args.Require("query"); err != nil {
		return nil, err
	}
	return p.store.searchContacts(ctx, args.String("query"), maxLimit)
}

func (p *plugin) listChats(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.store.listChats(ctx, args.String("query"), clampLimit(args))
}

func (p *plugin) listMessages(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	msgs, err := p.store.listMessages(ctx, messageFilter{
		ChatJID:  args.String("chat_jid"),
		Sender:   args.String("sender"),
		Query:    args.String("query"),
		BeforeID: args.String("before_message_id"),
		Limit:    clampLimit(args),
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return "No messages to display.", nil
	}
	return formatMessages(msgs), nil
}

func (p *plugin) getChat(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := args.Require("chat_jid"); err != nil {
		return nil, err
	}
	return p.store.getChat(ctx, args.String("chat_jid"))
}

func (p *plugin) lastInteraction(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := args.Require("phone_number"); err != nil {
		return nil, err
	}
	phone := strings.TrimPrefix(args.String("phone_number"), "+")
	msgs, err := p.store.listMessages(ctx, messageFilter{ChatJID: phone + "@s.whatsapp.net", Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("No interactions with %s found.", phone), nil
	}
	return formatMessages(msgs), nil
}

type sendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (p *plugin) sendMessage(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("recipient", "message"); err != nil {
		return nil, err
	}
	var out sendResult
	err := p.bridge.Post(ctx, "/send", map[string]string{
		"recipient": args.String("recipient"),
		"message":   args.String("message"),
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("bridge refused message: %s", out.Message)
	}
	return fmt.Sprintf("Message sent to %s", args.String("recipient")), nil
}

func formatMessages(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		from := m.Sender
		if m.IsFromMe {
			from = "Me"
		}
		chat := ""
		if m.ChatName != "" {
			chat = " Chat: " + m.ChatName
		}
		content := m.Content
		if m.MediaType != "" {
			content = fmt.Sprintf("[%s] %s", m.MediaType, content)
		}
		fmt.Fprintf(&b, "[%s]%s From: %s: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), chat, from, content)
	}
	return b.String()
}
