package graph

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/vanfleet/engine/dedup"
	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/recon"
	"github.com/WessleyAI/vanfleet/pkg/repo/repotest"
)

// --- Fake graph ---

// fakeGraph answers the statements Store issues from in-memory node maps.
type fakeGraph struct {
	mu      sync.Mutex
	vans    map[string]map[string]any
	drivers map[string]map[string]any
	images  map[string]map[string]any
	failOn  string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		vans:    make(map[string]map[string]any),
		drivers: make(map[string]map[string]any),
		images:  make(map[string]map[string]any),
	}
}

func (g *fakeGraph) handle(cypher string, params map[string]any) ([]*neo4j.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failOn != "" && strings.Contains(cypher, g.failOn) {
		return nil, errors.New("neo4j unavailable")
	}
	switch {
	case strings.HasPrefix(cypher, "MERGE (n:Van"):
		upsert(g.vans, params)
	case strings.HasPrefix(cypher, "MERGE (n:Driver"):
		upsert(g.drivers, params)
	case strings.HasPrefix(cypher, "MATCH (n:Van {"):
		return one(g.vans, params["id"].(string)), nil
	case strings.HasPrefix(cypher, "MATCH (n:Driver {"):
		return one(g.drivers, params["id"].(string)), nil
	case strings.HasPrefix(cypher, "MATCH (n:Van) RETURN properties(n)"):
		keys := slices.Sorted(maps.Keys(g.vans))
		off, lim := params["offset"].(int), params["limit"].(int)
		var out []*neo4j.Record
		for i := off; i < len(keys) && i < off+lim; i++ {
			out = append(out, repotest.Record("n", maps.Clone(g.vans[keys[i]])))
		}
		return out, nil
	case strings.HasPrefix(cypher, "MERGE (i:Image"):
		id := params["id"].(string)
		if _, ok := g.images[id]; !ok {
			g.images[id] = map[string]any{"fingerprint": params["fp"], "key_fold": params["key"], "first_seen_at": params["at"]}
		}
	case strings.HasPrefix(cypher, "MATCH (i:Image {id"):
		_, ok := g.images[params["id"].(string)]
		n := int64(0)
		if ok {
			n = 1
		}
		return []*neo4j.Record{repotest.Record("c", n)}, nil
	case strings.HasPrefix(cypher, "MATCH (i:Image {key_fold"):
		var out []*neo4j.Record
		for _, id := range slices.Sorted(maps.Keys(g.images)) {
			img := g.images[id]
			if img["key_fold"] == params["key"] {
				out = append(out, repotest.Record("fingerprint", img["fingerprint"], "first_seen_at", img["first_seen_at"]))
			}
		}
		return out, nil
	}
	return nil, nil
}

func upsert(nodes map[string]map[string]any, params map[string]any) {
	id := params["id"].(string)
	n, ok := nodes[id]
	if !ok {
		n = make(map[string]any)
		nodes[id] = n
	}
	for k, v := range params["props"].(map[string]any) {
		n[k] = v
	}
}

func one(nodes map[string]map[string]any, id string) []*neo4j.Record {
	n, ok := nodes[id]
	if !ok {
		return nil
	}
	return []*neo4j.Record{repotest.Record("n", maps.Clone(n))}
}

func newTestStore() (*Store, *fakeGraph, *repotest.Opener) {
	g := newFakeGraph()
	o := repotest.New(g.handle)
	return New(o, nil), g, o
}

var (
	_ recon.RecordStore = (*Store)(nil)
	_ recon.Lister      = (*Store)(nil)
	_ dedup.SeenStore   = (*Store)(nil)
)

// --- Vans ---

func TestStore_PutGetRoundTrip(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	rec := domain.NewVehicleRecord("van_07", at)
	rec.Attributes[domain.FieldNotes] = "new tyres"
	rec.Damage = domain.DamageState{
		Severity:      2,
		Description:   "scratch",
		AffectedSides: domain.SideSet{domain.SideFront, domain.SideRear},
		Status:        domain.StatusActive,
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get(ctx, "VAN_07")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Key != "van_07" {
		t.Fatalf("key = %q", got.Key)
	}
	if got.Attr(domain.FieldNotes) != "new tyres" || got.Attr(domain.FieldType) != domain.DefaultType {
		t.Fatalf("attributes = %v", got.Attributes)
	}
	if got.Damage.Severity != 2 || got.Damage.Description != "scratch" {
		t.Fatalf("damage = %+v", got.Damage)
	}
	if !slices.Equal(got.Damage.AffectedSides, rec.Damage.AffectedSides) {
		t.Fatalf("sides = %v", got.Damage.AffectedSides)
	}
	if !got.CreatedAt.Equal(at) {
		t.Fatalf("created_at = %v", got.CreatedAt)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s, _, _ := newTestStore()
	_, ok, err := s.Get(context.Background(), "van_99")
	if err != nil || ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
}

func TestStore_GetError(t *testing.T) {
	s, g, _ := newTestStore()
	g.failOn = "MATCH (n:Van"
	if _, _, err := s.Get(context.Background(), "van_01"); err == nil || !strings.HasPrefix(err.Error(), "graph: get van") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestStore_PutLinksImages(t *testing.T) {
	s, _, o := newTestStore()
	if err := s.Put(context.Background(), domain.NewVehicleRecord("van_01", time.Now())); err != nil {
		t.Fatal(err)
	}
	calls := o.Calls()
	if len(calls) != 2 || !strings.Contains(calls[1].Cypher, "HAS_IMAGE") {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if calls[1].Params["key"] != "van_01" {
		t.Fatalf("link params %v", calls[1].Params)
	}
}

func TestStore_ListPages(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	for _, k := range []string{"van_03", "van_01", "van_02"} {
		if err := s.Put(ctx, domain.NewVehicleRecord(domain.CanonicalKey(k), time.Now())); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].Key != "van_01" || list[2].Key != "van_03" {
		t.Fatalf("List = %v", list)
	}
}

// --- Fingerprints ---

func TestStore_SeenMarkSeen(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	fp := dedup.FingerprintOf([]byte("photo"))
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seen, err := s.Seen(ctx, "van_01", fp)
	if err != nil || seen {
		t.Fatalf("Seen before mark = %v, %v", seen, err)
	}
	if err := s.MarkSeen(ctx, "van_01", fp, first); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSeen(ctx, "VAN_01", fp, first.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	seen, err = s.Seen(ctx, "Van_01", fp)
	if err != nil || !seen {
		t.Fatalf("Seen after mark = %v, %v", seen, err)
	}
	other, _ := s.Seen(ctx, "van_02", fp)
	if other {
		t.Fatal("fingerprint leaked to another van")
	}

	imgs, err := s.Images(ctx, "van_01")
	if err != nil {
		t.Fatal(err)
	}
	if len(imgs) != 1 || imgs[0].Fingerprint != fp.String() || !imgs[0].FirstSeenAt.Equal(first) {
		t.Fatalf("Images = %+v", imgs)
	}
}

func TestStore_ReconcilerEndToEnd(t *testing.T) {
	s, _, _ := newTestStore()
	r := recon.New(s, s, nil)
	ctx := context.Background()
	fp := dedup.FingerprintOf([]byte("img"))
	obs := domain.Observation{Severity: 3, Description: "dent", Side: domain.SideRear}

	rec, dup, err := r.IngestImage(ctx, "van 5", fp, obs)
	if err != nil || dup {
		t.Fatalf("first image = %v, %v", dup, err)
	}
	if rec.Damage.Status != domain.StatusNeedsMaintenance {
		t.Fatalf("status = %s", rec.Damage.Status)
	}
	again, dup, err := r.IngestImage(ctx, "VAN_05", fp, obs)
	if err != nil || !dup {
		t.Fatalf("second image = %v, %v", dup, err)
	}
	if again.Damage.Severity != 3 || again.Key != "van_05" {
		t.Fatalf("stored = %+v", again)
	}
}

// --- Drivers ---

func TestStore_Drivers(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	if _, ok, err := s.GetDriver(ctx, "U1"); ok || err != nil {
		t.Fatalf("GetDriver missing = %v, %v", ok, err)
	}
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	in := domain.DriverStats{DriverID: "U1", Name: "Sam", Reports: 2, Uploads: 2, AvgDamage: 1.5, LastUploadAt: at}
	if err := s.PutDriver(ctx, in); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetDriver(ctx, "U1")
	if err != nil || !ok {
		t.Fatalf("GetDriver = %v, %v", ok, err)
	}
	if got != in {
		t.Fatalf("got %+v, want %+v", got, in)
	}
}

// --- Mapping ---

func TestVanFromProps_StoredTypes(t *testing.T) {
	rec, err := vanFromProps(map[string]any{
		"key":            "van_12",
		"severity":       int64(7),
		"affected_sides": []any{"roof", "bogus", "front"},
		"status":         "needs_maintenance",
		"created_at":     "2024-02-03T04:05:06Z",
		"attr_type":      "Transit",
		"attr_":          "ignored",
		"attr_rating":    int64(3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Damage.Severity != 3 {
		t.Fatalf("severity not clamped: %d", rec.Damage.Severity)
	}
	if !slices.Equal(rec.Damage.AffectedSides, domain.SideSet{domain.SideFront, domain.SideRoof}) {
		t.Fatalf("sides = %v", rec.Damage.AffectedSides)
	}
	if rec.Damage.Status != domain.StatusNeedsMaintenance {
		t.Fatalf("status = %s", rec.Damage.Status)
	}
	if rec.CreatedAt.Year() != 2024 {
		t.Fatalf("created_at = %v", rec.CreatedAt)
	}
	if len(rec.Attributes) != 1 || rec.Attributes["type"] != "Transit" {
		t.Fatalf("attributes = %v", rec.Attributes)
	}
}

func TestVanFromProps_NoKey(t *testing.T) {
	if _, err := vanFromProps(map[string]any{}); err == nil {
		t.Fatal("expected error")
	}
}
