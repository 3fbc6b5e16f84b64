package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gliderlab/mcpgate/tools"
)

const petstoreYAML = `
openapi: 3.0.3
info:
  title: Petstore
  version: "1.2"
  description: Sample pet store.
servers:
  - url: https://pets.example.com/v1/
components:
  securitySchemes:
    apiKey:
      type: apiKey
      in: header
      name: X-API-Key
paths:
  /pets:
    get:
      operationId: listPets
      summary: List all pets
      tags: [pets]
      parameters:
        - name: limit
          in: query
          schema:
            type: integer
      responses:
        200:
          description: A page of pets
    post:
      operationId: createPet
      summary: Create a pet
      tags: [pets]
      requestBody:
        required: true
        content:
          application/json: {}
      responses:
        "201":
          description: Created
  /pets/{petId}:
    parameters:
      - name: petId
        in: path
        required: true
        schema:
          type: string
    get:
      operationId: showPetById
      summary: Info for a specific pet
      tags: [pets]
      responses:
        "200":
          description: Expected response to a valid request
  /store/inventory:
    get:
      summary: Returns inventory counts
      tags: [store]
      responses:
        "200":
          description: ok
`

const swaggerJSON = `{"swagger":"2.0","info":{"title":"Legacy","version":"1"},"host":"legacy.example.com","basePath":"/api","schemes":["http"],
 "paths":{"/items":{"get":{"summary":"List items","parameters":[{"name":"q","in":"query","type":"string"}],"responses":{"200":{"description":"ok"}}}}}}`

type fixture struct {
	srv       *httptest.Server
	listCalls atomic.Int32
	specCalls atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/list.json", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		list := map[string]interface{}{
			"petstore.example.com": map[string]interface{}{
				"preferred": "1.2",
				"versions": map[string]interface{}{
					"1.0": map[string]interface{}{"info": map[string]interface{}{"title": "Old"}, "swaggerYamlUrl": f.srv.URL + "/old.yaml"},
					"1.2": map[string]interface{}{
						"info":           map[string]interface{}{"title": "Petstore", "description": "Adopt animals"},
						"swaggerYamlUrl": f.srv.URL + "/specs/petstore.yaml",
					},
				},
			},
			"legacy.example.com:items": map[string]interface{}{
				"preferred": "1",
				"versions": map[string]interface{}{
					"1": map[string]interface{}{"info": map[string]interface{}{"title": "Legacy items"}, "swaggerUrl": f.srv.URL + "/specs/legacy.json"},
				},
			},
		}
		json.NewEncoder(w).Encode(list)
	})
	mux.HandleFunc("/specs/petstore.yaml", func(w http.ResponseWriter, r *http.Request) {
		f.specCalls.Add(1)
		w.Write([]byte(petstoreYAML))
	})
	mux.HandleFunc("/specs/legacy.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(swaggerJSON))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) plugin() tools.Plugin {
	return New(Config{DirectoryURL: f.srv.URL + "/v2"})
}

func call(t *testing.T, p tools.Plugin, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	resp, err := p.Adapter(context.Background(), name, args)
	require.NoError(t, err)
	return resp.Text(), resp.IsError
}

func TestSearchAPIs(t *testing.T) {
	f := newFixture(t)
	p := f.plugin()

	text, isErr := call(t, p, "openapi_search_apis", map[string]interface{}{"query": "ANIMALS"})
	require.False(t, isErr, text)
	var found []APIEntry
	require.NoError(t, json.Unmarshal([]byte(text), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "petstore.example.com", found[0].ID)
	assert.Equal(t, "1.2", found[0].Version)
	assert.Equal(t, f.srv.URL+"/specs/petstore.yaml", found[0].SpecURL)

	text, _ = call(t, p, "openapi_search_apis", map[string]interface{}{"query": "example", "limit": float64(1)})
	require.NoError(t, json.Unmarshal([]byte(text), &found))
	assert.Len(t, found, 1)

	text, _ = call(t, p, "openapi_search_apis", map[string]interface{}{"query": "zzz"})
	assert.Equal(t, `No APIs match "zzz".`, text)

	assert.EqualValues(t, 1, f.listCalls.Load())
}

func TestOverview(t *testing.T) {
	f := newFixture(t)
	p := f.plugin()

	text, isErr := call(t, p, "openapi_get_api_overview", map[string]interface{}{"api_identifier": "petstore"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Petstore (petstore.example.com)")
	assert.Contains(t, text, "Version: 1.2, OpenAPI 3.0.3")
	assert.Contains(t, text, "Base URL: https://pets.example.com/v1")
	assert.Contains(t, text, "- apiKey: apiKey X-API-Key in header")
	assert.Contains(t, text, "3 paths, 4 operations")
	assert.Contains(t, text, "- pets: 3")
	assert.Contains(t, text, "- store: 1")

	call(t, p, "openapi_get_api_overview", map[string]interface{}{"api_identifier": "PETSTORE.example.com"})
	assert.EqualValues(t, 1, f.specCalls.Load())

	text, isErr = call(t, p, "openapi_get_api_overview", map[string]interface{}{"api_identifier": "legacy"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Swagger 2.0")
	assert.Contains(t, text, "Base URL: http://legacy.example.com/api")

	text, isErr = call(t, p, "openapi_get_api_overview", map[string]interface{}{"api_identifier": "nope"})
	assert.True(t, isErr)
	assert.Contains(t, text, `API "nope" not found`)
}

func TestOperationDetails(t *testing.T) {
	p := newFixture(t).plugin()

	text, isErr := call(t, p, "openapi_get_operation_details", map[string]interface{}{
		"api_identifier": "petstore", "operation_path": "/pets/{petId}", "method": "get",
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, "GET /pets/{petId}\nOperation ID: showPetById")
	assert.Contains(t, text, "- petId (path, string, required)")
	assert.Contains(t, text, "- 200: Expected response to a valid request")

	text, _ = call(t, p, "openapi_get_operation_details", map[string]interface{}{"api_identifier": "petstore", "operation_path": "/pets"})
	assert.Contains(t, text, "GET /pets")
	assert.Contains(t, text, "POST /pets")
	assert.Contains(t, text, "Request body: application/json (required)")
	assert.Contains(t, text, "- limit (query, integer)")

	text, isErr = call(t, p, "openapi_get_operation_details", map[string]interface{}{"api_identifier": "petstore", "operation_path": "/dogs"})
	assert.True(t, isErr)
	assert.Contains(t, text, "no operation matches")
}

func TestExploreEndpoints(t *testing.T) {
	p := newFixture(t).plugin()

	text, isErr := call(t, p, "openapi_explore_endpoints", map[string]interface{}{"api_identifier": "petstore", "tag": "Store"})
	require.False(t, isErr, text)
	assert.Equal(t, "1 endpoints:\nGET     /store/inventory  Returns inventory counts\n", text)

	text, _ = call(t, p, "openapi_explore_endpoints", map[string]interface{}{"api_identifier": "petstore", "search": "specific"})
	assert.Contains(t, text, "/pets/{petId}")
	assert.NotContains(t, text, "inventory")

	text, _ = call(t, p, "openapi_explore_endpoints", map[string]interface{}{"api_identifier": "petstore", "tag": "users"})
	assert.Equal(t, "No endpoints match the given filters.", text)
}

func TestCodeSample(t *testing.T) {
	p := newFixture(t).plugin()
	base := map[string]interface{}{"api_identifier": "petstore", "operation_path": "/pets", "method": "POST"}
	with := func(lang string) map[string]interface{} {
		m := map[string]interface{}{"language": lang}
		for k, v := range base {
			m[k] = v
		}
		return m
	}

	text, isErr := call(t, p, "openapi_generate_code_sample", with("curl"))
	require.False(t, isErr, text)
	assert.Contains(t, text, `curl -X POST "https://pets.example.com/v1/pets"`)
	assert.Contains(t, text, "-d '{}'")

	text, _ = call(t, p, "openapi_generate_code_sample", with("python"))
	assert.Contains(t, text, `requests.request("POST", "https://pets.example.com/v1/pets", json={})`)

	text, _ = call(t, p, "openapi_generate_code_sample", base)
	assert.Contains(t, text, `await fetch("https://pets.example.com/v1/pets"`)
	assert.Contains(t, text, "JSON.stringify({})")

	text, _ = call(t, p, "openapi_generate_code_sample", with("typescript"))
	assert.Contains(t, text, "const data: unknown")

	text, isErr = call(t, p, "openapi_generate_code_sample", with("cobol"))
	assert.True(t, isErr)
	assert.Contains(t, text, `unsupported language "cobol"`)
}

func TestParseDocumentRejectsNonSpecs(t *testing.T) {
	_, err := ParseDocument([]byte("title: not a spec\n"))
	assert.Error(t, err)
	_, err = ParseDocument([]byte("::: not yaml"))
	assert.Error(t, err)
}

func TestDirectoryErrorsAreResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	text, isErr := call(t, New(Config{DirectoryURL: srv.URL}), "openapi_search_apis", map[string]interface{}{"query": "x"})
	assert.True(t, isErr)
	assert.Contains(t, text, "429")
	assert.Contains(t, text, "rate limited")
}
