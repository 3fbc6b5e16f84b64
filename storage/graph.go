package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

type Graph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// ObservationSet targets one entity's observations.
type ObservationSet struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
}

func (s *Storage) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func entityID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM entities WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrEntityNotFound, name)
	}
	return id, err
}

// CreateEntities inserts entities whose names are new and returns those.
// Existing names are left untouched.
func (s *Storage) CreateEntities(ctx context.Context, entities []Entity) ([]Entity, error) {
	created := []Entity{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entities {
			if strings.TrimSpace(e.Name) == "" {
				return fmt.Errorf("entity name must not be empty")
			}
			res, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO entities (name, entity_type) VALUES (?, ?)", e.Name, e.EntityType)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				continue
			}
			id, _ := res.LastInsertId()
			for _, obs := range e.Observations {
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO observations (entity_id, content) VALUES (?, ?)", id, obs); err != nil {
					return err
				}
			}
			if e.Observations == nil {
				e.Observations = []string{}
			}
			created = append(created, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateRelations inserts relations not already present and returns those.
func (s *Storage) CreateRelations(ctx context.Context, relations []Relation) ([]Relation, error) {
	created := []Relation{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range relations {
			res, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO relations (from_name, to_name, relation_type) VALUES (?, ?, ?)",
				r.From, r.To, r.RelationType)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				created = append(created, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AddObservations appends observations and reports which were new. Every
// target entity must exist.
func (s *Storage) AddObservations(ctx context.Context, sets []ObservationSet) ([]ObservationSet, error) {
	added := []ObservationSet{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, set := range sets {
			id, err := entityID(ctx, tx, set.EntityName)
			if err != nil {
				return err
			}
			result := ObservationSet{EntityName: set.EntityName, Contents: []string{}}
			for _, c := range set.Contents {
				res, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO observations (entity_id, content) VALUES (?, ?)", id, c)
				if err != nil {
					return err
				}
				if n, _ := res.RowsAffected(); n > 0 {
					result.Contents = append(result.Contents, c)
				}
			}
			added = append(added, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// DeleteEntities removes entities along with their observations and every
// relation that mentions them. Unknown names are ignored.
func (s *Storage) DeleteEntities(ctx context.Context, names []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, name := range names {
			if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE name = ?", name); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM relations WHERE from_name = ? OR to_name = ?", name, name); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteObservations removes the listed observations. Unknown entities and
// contents are ignored.
func (s *Storage) DeleteObservations(ctx context.Context, sets []ObservationSet) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, set := range sets {
			for _, c := range set.Contents {
				if _, err := tx.ExecContext(ctx, `
					DELETE FROM observations
					WHERE content = ? AND entity_id = (SELECT id FROM entities WHERE name = ?)
				`, c, set.EntityName); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Storage) DeleteRelations(ctx context.Context, relations []Relation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range relations {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM relations WHERE from_name = ? AND to_name = ? AND relation_type = ?",
				r.From, r.To, r.RelationType); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) ReadGraph(ctx context.Context) (*Graph, error) {
	entities, err := s.queryEntities(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	relations, err := s.queryRelations(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	return &Graph{Entities: entities, Relations: relations}, nil
}

// SearchNodes matches query case-insensitively against entity names, types
// and observations, and returns the relations among the matches.
func (s *Storage) SearchNodes(ctx context.Context, query string) (*Graph, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	entities, err := s.queryEntities(ctx, `
		WHERE lower(e.name) LIKE ? ESCAPE '\'
		   OR lower(e.entity_type) LIKE ? ESCAPE '\'
		   OR EXISTS (SELECT 1 FROM observations o2
		              WHERE o2.entity_id = e.id AND lower(o2.content) LIKE ? ESCAPE '\')
	`, []interface{}{pattern, pattern, pattern})
	if err != nil {
		return nil, err
	}
	return s.subgraph(ctx, entities)
}

// OpenNodes returns the named entities and the relations among them.
func (s *Storage) OpenNodes(ctx context.Context, names []string) (*Graph, error) {
	if len(names) == 0 {
		return &Graph{Entities: []Entity{}, Relations: []Relation{}}, nil
	}
	entities, err := s.queryEntities(ctx, "WHERE e.name IN ("+placeholders(len(names))+")", toArgs(names))
	if err != nil {
		return nil, err
	}
	return s.subgraph(ctx, entities)
}

func (s *Storage) subgraph(ctx context.Context, entities []Entity) (*Graph, error) {
	g := &Graph{Entities: entities, Relations: []Relation{}}
	if len(entities) == 0 {
		return g, nil
	}
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	ph := placeholders(len(names))
	args := append(toArgs(names), toArgs(names)...)
	relations, err := s.queryRelations(ctx, "WHERE from_name IN ("+ph+") AND to_name IN ("+ph+")", args)
	if err != nil {
		return nil, err
	}
	g.Relations = relations
	return g, nil
}

func (s *Storage) queryEntities(ctx context.Context, where string, args []interface{}) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.name, e.entity_type, o.content
		FROM entities e
		LEFT JOIN observations o ON o.entity_id = e.id
		`+where+`
		ORDER BY e.id, o.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := []Entity{}
	var lastID int64 = -1
	for rows.Next() {
		var (
			id      int64
			e       Entity
			content sql.NullString
		)
		if err := rows.Scan(&id, &e.Name, &e.EntityType, &content); err != nil {
			return nil, err
		}
		if id != lastID {
			e.Observations = []string{}
			entities = append(entities, e)
			lastID = id
		}
		if content.Valid {
			last := &entities[len(entities)-1]
			last.Observations = append(last.Observations, content.String)
		}
	}
	return entities, rows.Err()
}

func (s *Storage) queryRelations(ctx context.Context, where string, args []interface{}) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT from_name, to_name, relation_type FROM relations "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	relations := []Relation{}
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.From, &r.To, &r.RelationType); err != nil {
			return nil, err
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
