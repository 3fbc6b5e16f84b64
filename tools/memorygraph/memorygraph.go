// Package memorygraph exposes a persistent knowledge graph of entities,
// observations and relations backed by SQLite.
package memorygraph

import (
	"context"
	"fmt"

	"github.com/gliderlab/mcpgate/storage"
	"github.com/gliderlab/mcpgate/tools"
	"github.com/gliderlab/mcpgate/tools/adapter"
)

const (
	Name      = "memory"
	KeyDBPath = "MEMORY_DB_PATH"
)

type plugin struct {
	store *storage.Storage
}

func New(store *storage.Storage) tools.Plugin {
	p := &plugin{store: store}

	str := map[string]interface{}{"type": "string"}
	strList := func(desc string) map[string]interface{} { return adapter.ArrayParam(desc, str) }

	entity := adapter.Object(map[string]interface{}{
		"name":         adapter.StringParam("The name of the entity"),
		"entityType":   adapter.StringParam("The type of the entity"),
		"observations": strList("Observations associated with the entity"),
	}, "name", "entityType")
	relation := adapter.Object(map[string]interface{}{
		"from":         adapter.StringParam("Entity where the relation starts"),
		"to":           adapter.StringParam("Entity where the relation ends"),
		"relationType": adapter.StringParam("Relation type, in active voice"),
	}, "from", "to", "relationType")

	return adapter.NewSet(Name).
		Add("create_entities", "Create multiple new entities in the knowledge graph",
			adapter.Object(map[string]interface{}{"entities": adapter.ArrayParam("Entities to create", entity)}, "entities"),
			p.createEntities).
		Add("create_relations", "Create multiple new relations between entities in the knowledge graph",
			adapter.Object(map[string]interface{}{"relations": adapter.ArrayParam("Relations to create", relation)}, "relations"),
			p.createRelations).
		Add("add_observations", "Add new observations to existing entities in the knowledge graph",
			adapter.Object(map[string]interface{}{
				"observations": adapter.ArrayParam("Observations to add", adapter.Object(map[string]interface{}{
					"entityName": adapter.StringParam("Entity to add the observations to"),
					"contents":   strList("Observation contents"),
				}, "entityName", "contents")),
			}, "observations"), p.addObservations).
		Add("delete_entities", "Delete entities and their associated relations from the knowledge graph",
			adapter.Object(map[string]interface{}{"entityNames": strList("Names of entities to delete")}, "entityNames"),
			p.deleteEntities).
		Add("delete_observations", "Delete specific observations from entities in the knowledge graph",
			adapter.Object(map[string]interface{}{
				"deletions": adapter.ArrayParam("Observations to delete", adapter.Object(map[string]interface{}{
					"entityName":   adapter.StringParam("Entity containing the observations"),
					"observations": strList("Observations to delete"),
				}, "entityName", "observations")),
			}, "deletions"), p.deleteObservations).
		Add("delete_relations", "Delete multiple relations from the knowledge graph",
			adapter.Object(map[string]interface{}{"relations": adapter.ArrayParam("Relations to delete", relation)}, "relations"),
			p.deleteRelations).
		Add("read_graph", "Read the entire knowledge graph", nil, p.readGraph).
		Add("search_nodes", "Search for nodes in the knowledge graph by name, type or observation content",
			adapter.Object(map[string]interface{}{"query": adapter.StringParam("Text to match")}, "query"),
			p.searchNodes).
		Add("open_nodes", "Open specific nodes in the knowledge graph by their names",
			adapter.Object(map[string]interface{}{"names": strList("Entity names to retrieve")}, "names"),
			p.openNodes).
		Plugin()
}

func (p *plugin) createEntities(ctx context.Context, args adapter.Args) (interface{}, error) {
	var in struct {
		Entities []storage.Entity `json:"entities"`
	}
	if err := decode(args, &in, "entities"); err != nil {
		return nil, err
	}
	return p.store.CreateEntities(ctx, in.Entities)
}

func (p *plugin) createRelations(ctx context.Context, args adapter.Args) (interface{}, error) {
	var in struct {
		Relations []storage.Relation `json:"relations"`
	}
	if err := decode(args, &in, "relations"); err != nil {
		return nil, err
	}
	for _, r := range in.Relations {
		if r.From == "" || r.To == "" || r.RelationType == "" {
			return nil, fmt.Errorf("relations need from, to and relationType")
		}
	}
	return p.store.CreateRelations(ctx, in.Relations)
}

func (p *plugin) addObservations(ctx context.Context, args adapter.Args) (interface{}, error) {
	var in struct {
		Observations []storage.ObservationSet `json:"observations"`
	}
	if err := decode(args, &in, "observations"); err != nil {
		return nil, err
	}
	return p.store.AddObservations(ctx, in.Observations)
}

func (p *plugin) deleteEntities(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("entityNames"); err != nil {
		return nil, err
	}
	if err := p.store.DeleteEntities(ctx, args.Strings("entityNames")); err != nil {
		return nil, err
	}
	return "Entities deleted successfully", nil
}

func (p *plugin) deleteObservations(ctx context.Context, args adapter.Args) (interface{}, error) {
	var in struct {
		Deletions []struct {
			EntityName   string   `json:"entityName"`
			Observations []string `json:"observations"`
		} `json:"deletions"`
	}
	if err := decode(args, &in, "deletions"); err != nil {
		return nil, err
	}
	sets := make([]storage.ObservationSet, len(in.Deletions))
	for i, d := range in.Deletions {
		sets[i] = storage.ObservationSet{EntityName: d.EntityName, Contents: d.Observations}
	}
	if err := p.store.DeleteObservations(ctx, sets); err != nil {
		return nil, err
	}
	return "Observations deleted successfully", nil
}

func (p *plugin) deleteRelations(ctx context.Context, args adapter.Args) (interface{}, error) {
	var in struct {
		Relations []storage.Relation `json:"relations"`
	}
	if err := decode(args, &in, "relations"); err != nil {
		return nil, err
	}
	if err := p.store.DeleteRelations(ctx, in.Relations); err != nil {
		return nil, err
	}
	return "Relations deleted successfully", nil
}

func (p *plugin) readGraph(ctx context.Context, _ adapter.Args) (interface{}, error) {
	return p.store.ReadGraph(ctx)
}

func (p *plugin) searchNodes(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("query"); err != nil {
		return nil, err
	}
	return p.store.SearchNodes(ctx, args.String("query"))
}

func (p *plugin) openNodes(ctx context.Context, args adapter.Args) (interface{}, error) {
	if err := args.Require("names"); err != nil {
		return nil, err
	}
	return p.store.OpenNodes(ctx, args.Strings("names"))
}

func decode(args adapter.Args, v interface{}, required ...string) error {
	if err := args.Require(required...); err != nil {
		return err
	}
	return args.Decode(v)
}
