package openapi

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the subset of an OpenAPI 3 or Swagger 2 description the tools
// read. JSON documents decode through the YAML parser as well.
type Document struct {
	OpenAPI string `yaml:"openapi"`
	Swagger string `yaml:"swagger"`
	Info    struct {
		Title       string `yaml:"title"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
	} `yaml:"info"`
	Servers []struct {
		URL string `yaml:"url"`
	} `yaml:"servers"`
	Host     string   `yaml:"host"`
	BasePath string   `yaml:"basePath"`
	Schemes  []string `yaml:"schemes"`
	Tags     []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"tags"`
	Paths      map[string]PathItem `yaml:"paths"`
	Components struct {
		SecuritySchemes map[string]SecurityScheme `yaml:"securitySchemes"`
	} `yaml:"components"`
	SecurityDefinitions map[string]SecurityScheme `yaml:"securityDefinitions"`
}

type PathItem struct {
	Get        *Operation  `yaml:"get"`
	Put        *Operation  `yaml:"put"`
	Post       *Operation  `yaml:"post"`
	Delete     *Operation  `yaml:"delete"`
	Patch      *Operation  `yaml:"patch"`
	Head       *Operation  `yaml:"head"`
	Options    *Operation  `yaml:"options"`
	Parameters []Parameter `yaml:"parameters"`
}

type Operation struct {
	OperationID string      `yaml:"operationId"`
	Summary     string      `yaml:"summary"`
	Description string      `yaml:"description"`
	Tags        []string    `yaml:"tags"`
	Deprecated  bool        `yaml:"deprecated"`
	Parameters  []Parameter `yaml:"parameters"`
	RequestBody *struct {
		Required    bool                 `yaml:"required"`
		Description string               `yaml:"description"`
		Content     map[string]yaml.Node `yaml:"content"`
	} `yaml:"requestBody"`
	Responses map[string]struct {
		Description string `yaml:"description"`
	} `yaml:"responses"`
}

type Parameter struct {
	Ref         string `yaml:"$ref"`
	Name        string `yaml:"name"`
	In          string `yaml:"in"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Schema      struct {
		Type string `yaml:"type"`
	} `yaml:"schema"`
}

func (p Parameter) typeName() string {
	switch {
	case p.Schema.Type != "":
		return p.Schema.Type
	case p.Type != "":
		return p.Type
	}
	return "any"
}

type SecurityScheme struct {
	Type   string `yaml:"type"`
	Scheme string `yaml:"scheme"`
	In     string `yaml:"in"`
	Name   string `yaml:"name"`
}

// Endpoint is one method on one path.
type Endpoint struct {
	Method string
	Path   string
	Op     *Operation
	Shared []Parameter
}

func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	if doc.OpenAPI == "" && doc.Swagger == "" {
		return nil, fmt.Errorf("parse openapi document: no openapi or swagger version field")
	}
	return &doc, nil
}

func (d *Document) SpecVersion() string {
	if d.OpenAPI != "" {
		return "OpenAPI " + d.OpenAPI
	}
	return "Swagger " + d.Swagger
}

// BaseURL returns the first server URL, or one assembled from Swagger 2's
// host and basePath.
func (d *Document) BaseURL() string {
	if len(d.Servers) > 0 {
		return strings.TrimSuffix(d.Servers[0].URL, "/")
	}
	if d.Host == "" {
		return ""
	}
	scheme := "https"
	if len(d.Schemes) > 0 {
		scheme = d.Schemes[0]
	}
	return strings.TrimSuffix(scheme+"://"+d.Host+d.BasePath, "/")
}

func (d *Document) SecuritySchemes() map[string]SecurityScheme {
	if len(d.Components.SecuritySchemes) > 0 {
		return d.Components.SecuritySchemes
	}
	return d.SecurityDefinitions
}

// Endpoints lists every operation sorted by path, then in a fixed method order.
func (d *Document) Endpoints() []Endpoint {
	paths := make([]string, 0, len(d.Paths))
	for p := range d.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []Endpoint
	for _, p := range paths {
		item := d.Paths[p]
		for _, m := range []struct {
			name string
			op   *Operation
		}{
			{"GET", item.Get}, {"POST", item.Post}, {"PUT", item.Put}, {"PATCH", item.Patch},
			{"DELETE", item.Delete}, {"HEAD", item.Head}, {"OPTIONS", item.Options},
		} {
			if m.op != nil {
				out = append(out, Endpoint{Method: m.name, Path: p, Op: m.op, Shared: item.Parameters})
			}
		}
	}
	return out
}

// Parameters merges path-level and operation-level parameters; the
// operation's win on (name, in).
func (e Endpoint) Parameters() []Parameter {
	seen := map[string]bool{}
	var out []Parameter
	for _, p := range e.Op.Parameters {
		seen[p.In+"/"+p.Name] = true
		out = append(out, p)
	}
	for _, p := range e.Shared {
		if !seen[p.In+"/"+p.Name] {
			out = append(out, p)
		}
	}
	return out
}
