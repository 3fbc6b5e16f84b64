package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gliderlab/mcpgate/tools/httpapi"
)

// APIEntry is one API in the directory, reduced to its preferred version.
type APIEntry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	SpecURL     string `json:"specUrl"`
}

// listing mirrors the APIs.guru list.json layout.
type listing map[string]struct {
	Preferred string `json:"preferred"`
	Versions  map[string]struct {
		Info struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"info"`
		SwaggerURL     string `json:"swaggerUrl"`
		SwaggerYamlURL string `json:"swaggerYamlUrl"`
	} `json:"versions"`
}

type directory struct {
	client *httpapi.Client

	mu      sync.Mutex
	entries []APIEntry
	docs    map[string]*Document
}

func newDirectory(client *httpapi.Client) *directory {
	return &directory{client: client, docs: map[string]*Document{}}
}

func (d *directory) list(ctx context.Context) ([]APIEntry, error) {
	d.mu.Lock()
	cached := d.entries
	d.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var raw listing
	if err := d.client.Get(ctx, "/list.json", nil, &raw); err != nil {
		return nil, err
	}
	entries := make([]APIEntry, 0, len(raw))
	for id, api := range raw {
		v, ok := api.Versions[api.Preferred]
		if !ok {
			continue
		}
		spec := v.SwaggerYamlURL
		if spec == "" {
			spec = v.SwaggerURL
		}
		entries = append(entries, APIEntry{
			ID:          id,
			Title:       v.Info.Title,
			Description: v.Info.Description,
			Version:     api.Preferred,
			SpecURL:     spec,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
	return entries, nil
}

func (d *directory) search(ctx context.Context, query string, limit int) ([]APIEntry, error) {
	entries, err := d.list(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []APIEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.ID), q) ||
			strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.Description), q) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// resolve finds an API by exact id, then case-insensitively, then by
// provider ("stripe" matches "stripe.com").
func (d *directory) resolve(ctx context.Context, ident string) (APIEntry, error) {
	entries, err := d.list(ctx)
	if err != nil {
		return APIEntry{}, err
	}
	lower := strings.ToLower(ident)
	for _, e := range entries {
		if e.ID == ident {
			return e, nil
		}
	}
	for _, e := range entries {
		if strings.ToLower(e.ID) == lower {
			return e, nil
		}
	}
	for _, e := range entries {
		provider := strings.ToLower(strings.SplitN(e.ID, ":", 2)[0])
		if provider == lower || strings.SplitN(provider, ".", 2)[0] == lower {
			return e, nil
		}
	}
	return APIEntry{}, fmt.Errorf("API %q not found in directory", ident)
}

func (d *directory) document(ctx context.Context, specURL string) (*Document, error) {
	d.mu.Lock()
	doc, ok := d.docs[specURL]
	d.mu.Unlock()
	if ok {
		return doc, nil
	}

	data, _, err := d.client.DoRaw(ctx, "GET", specURL, nil, nil, "")
	if err != nil {
		return nil, err
	}
	doc, err = ParseDocument(data)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.docs[specURL] = doc
	d.mu.Unlock()
	return doc, nil
}
