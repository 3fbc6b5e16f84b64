package gohighlevel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gliderlab/mcpgate/tools"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]interface{}
}

func newPlugin(t *testing.T, reply string) (tools.Plugin, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ghl-key", r.Header.Get("Authorization"))
		assert.Equal(t, APIVersion, r.Header.Get("Version"))
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if r.ContentLength > 0 {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rec.body))
		}
		calls = append(calls, rec)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "ghl-key", LocationID: "loc-default", BaseURL: srv.URL}), &calls
}

func call(t *testing.T, p tools.Plugin, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	resp, err := p.Adapter(context.Background(), name, args)
	require.NoError(t, err)
	return resp.Text(), resp.IsError
}

func TestMissingAPIKey(t *testing.T) {
	text, isErr := call(t, New(Config{}), "ghl_get_contact", map[string]interface{}{"contactId": "c1"})
	assert.True(t, isErr)
	assert.Contains(t, text, KeyAPIKey)
}

func TestMissingLocation(t *testing.T) {
	text, isErr := call(t, New(Config{APIKey: "k"}), "ghl_search_contacts", map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "locationId")
}

func TestGetContact(t *testing.T) {
	p, calls := newPlugin(t, `{"contact":{"id":"c1","firstName":"Ada"}}`)
	text, isErr := call(t, p, "ghl_get_contact", map[string]interface{}{"contactId": "c1"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Ada")
	assert.Equal(t, "/contacts/c1", (*calls)[0].path)
}

func TestSearchUsesDefaultLocation(t *testing.T) {
	p, calls := newPlugin(t, `{"contacts":[{"id":"c1"}],"meta":{"total":1}}`)
	text, isErr := call(t, p, "ghl_search_contacts", map[string]interface{}{"query": "ada"})
	require.False(t, isErr, text)
	assert.Contains(t, (*calls)[0].query, "locationId=loc-default")
	assert.Contains(t, (*calls)[0].query, "limit=20")
	assert.Contains(t, (*calls)[0].query, "query=ada")
}

func TestCreateContactBody(t *testing.T) {
	p, calls := newPlugin(t, `{"contact":{"id":"new"}}`)
	text, isErr := call(t, p, "ghl_create_contact", map[string]interface{}{
		"locationId":   "loc-9",
		"firstName":    "Ada",
		"email":        "ada@example.com",
		"dnd":          true,
		"tags":         []interface{}{"vip"},
		"customFields": map[string]interface{}{"plan": "pro"},
	})
	require.False(t, isErr, text)

	body := (*calls)[0].body
	assert.Equal(t, http.MethodPost, (*calls)[0].method)
	assert.Equal(t, "loc-9", body["locationId"])
	assert.Equal(t, "Ada", body["firstName"])
	assert.Equal(t, true, body["dnd"])
	assert.Equal(t, []interface{}{"vip"}, body["tags"])
	assert.Len(t, body["customFields"], 1)

	text, isErr = call(t, p, "ghl_create_contact", map[string]interface{}{})
	assert.True(t, isErr)
	assert.Contains(t, text, "contact field")
}

func TestTagsAddAndRemove(t *testing.T) {
	p, calls := newPlugin(t, `{"tags":["vip"]}`)
	_, isErr := call(t, p, "ghl_add_tags_to_contact", map[string]interface{}{"contactId": "c1", "tags": []interface{}{"vip"}})
	require.False(t, isErr)
	_, isErr = call(t, p, "ghl_remove_tags_from_contact", map[string]interface{}{"contactId": "c1", "tags": "vip"})
	require.False(t, isErr)

	require.Len(t, *calls, 2)
	assert.Equal(t, http.MethodPost, (*calls)[0].method)
	assert.Equal(t, http.MethodDelete, (*calls)[1].method)
	assert.Equal(t, "/contacts/c1/tags", (*calls)[1].path)
	assert.Equal(t, []interface{}{"vip"}, (*calls)[1].body["tags"])
}

func TestSendMessage(t *testing.T) {
	p, calls := newPlugin(t, `{"conversationId":"conv","messageId":"m1"}`)
	text, isErr := call(t, p, "ghl_send_message", map[string]interface{}{
		"contactId": "c1", "type": "SMS", "message": "hi",
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, "m1")
	assert.Equal(t, "/conversations/messages", (*calls)[0].path)
	assert.Equal(t, "SMS", (*calls)[0].body["type"])
}

func TestDeleteContact(t *testing.T) {
	p, calls := newPlugin(t, `{"succeded":true}`)
	text, isErr := call(t, p, "ghl_delete_contact", map[string]interface{}{"contactId": "c1"})
	require.False(t, isErr)
	assert.Equal(t, "Contact c1 deleted", text)
	assert.Equal(t, http.MethodDelete, (*calls)[0].method)
}
