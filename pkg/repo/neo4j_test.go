package repo_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/vanfleet/pkg/repo"
	"github.com/WessleyAI/vanfleet/pkg/repo/repotest"
)

type entity struct {
	ID   string
	Name string
}

func newTestRepo(o repo.Opener, opts ...repo.Neo4jOption[entity, string]) *repo.Neo4jRepo[entity, string] {
	return repo.NewNeo4jRepo[entity, string](
		o, "Entity",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			m, err := repo.Props(rec, "n")
			if err != nil {
				return entity{}, err
			}
			id, _ := m["id"].(string)
			name, _ := m["name"].(string)
			return entity{ID: id, Name: name}, nil
		},
		opts...,
	)
}

func node(id, name string) *neo4j.Record {
	return repotest.Record("n", map[string]any{"id": id, "name": name})
}

// --- Get ---

func TestGet_Success(t *testing.T) {
	o := repotest.New(func(string, map[string]any) ([]*neo4j.Record, error) {
		return []*neo4j.Record{node("1", "Alice")}, nil
	})
	e, err := newTestRepo(o).Get(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != "1" || e.Name != "Alice" {
		t.Fatalf("got %+v", e)
	}
	if o.Closed() != 1 {
		t.Fatal("session not closed")
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := newTestRepo(repotest.New(nil)).Get(context.Background(), "x")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_RunError(t *testing.T) {
	o := repotest.New(func(string, map[string]any) ([]*neo4j.Record, error) {
		return nil, errors.New("db down")
	})
	_, err := newTestRepo(o).Get(context.Background(), "x")
	if err == nil || err.Error() != "db down" {
		t.Fatalf("expected db down, got %v", err)
	}
}

func TestGet_NodeValue(t *testing.T) {
	o := repotest.New(func(string, map[string]any) ([]*neo4j.Record, error) {
		return []*neo4j.Record{repotest.Record("n", neo4j.Node{Props: map[string]any{"id": "7", "name": "Node"}})}, nil
	})
	e, err := newTestRepo(o).Get(context.Background(), "7")
	if err != nil || e.Name != "Node" {
		t.Fatalf("got %+v, %v", e, err)
	}
}

// --- List ---

func TestList_FiltersAndLimit(t *testing.T) {
	o := repotest.New(func(string, map[string]any) ([]*neo4j.Record, error) {
		return []*neo4j.Record{node("1", "A"), node("2", "B")}, nil
	})
	items, err := newTestRepo(o).List(context.Background(), repo.ListOpts{
		Filter: map[string]any{"status": "active", "kind": "van"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items", len(items))
	}
	call := o.Calls()[0]
	if !strings.Contains(call.Cypher, "WHERE n.kind = $f0 AND n.status = $f1") {
		t.Fatalf("unexpected cypher %q", call.Cypher)
	}
	if call.Params["limit"] != 100 || call.Params["f1"] != "active" {
		t.Fatalf("unexpected params %v", call.Params)
	}
}

func TestList_FromRecordError(t *testing.T) {
	o := repotest.New(func(string, map[string]any) ([]*neo4j.Record, error) {
		return []*neo4j.Record{repotest.Record("n", "not a map")}, nil
	})
	if _, err := newTestRepo(o).List(context.Background(), repo.ListOpts{Limit: 10}); err == nil {
		t.Fatal("expected error")
	}
}

// --- Upsert / Delete / Count ---

func TestUpsert(t *testing.T) {
	o := repotest.New(nil)
	if err := newTestRepo(o).Upsert(context.Background(), entity{ID: "3", Name: "C"}); err != nil {
		t.Fatal(err)
	}
	call := o.Calls()[0]
	if !strings.HasPrefix(call.Cypher, "MERGE (n:Entity {id: $id})") || call.Params["id"] != "3" {
		t.Fatalf("unexpected call %+v", call)
	}
}

func TestUpsert_CustomIDKey(t *testing.T) {
	o := repotest.New(nil)
	r := newTestRepo(o, repo.WithIDKey[entity, string]("uuid"))
	if err := r.Upsert(context.Background(), entity{ID: "3"}); err == nil {
		t.Fatal("expected missing id property error")
	}
}

func TestDelete(t *testing.T) {
	o := repotest.New(nil)
	if err := newTestRepo(o).Delete(context.Background(), "3"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(o.Calls()[0].Cypher, "DETACH DELETE") {
		t.Fatalf("unexpected cypher %q", o.Calls()[0].Cypher)
	}
}

func TestCount(t *testing.T) {
	o := repotest.New(func(string, map[string]any) ([]*neo4j.Record, error) {
		return []*neo4j.Record{repotest.Record("c", int64(12))}, nil
	})
	n, err := newTestRepo(o).Count(context.Background())
	if err != nil || n != 12 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestLabel(t *testing.T) {
	if newTestRepo(repotest.New(nil)).Label() != "Entity" {
		t.Fatal("label")
	}
}
