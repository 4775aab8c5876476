package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/importer"
	"github.com/WessleyAI/vanfleet/engine/ingest"
	"github.com/WessleyAI/vanfleet/engine/semantic"
	"github.com/WessleyAI/vanfleet/internal/backend"
	"github.com/WessleyAI/vanfleet/internal/config"
	"github.com/WessleyAI/vanfleet/pkg/metrics"
)

func newTestServer(t *testing.T) (*httptest.Server, *server) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := backend.Memory()
	fleet := metrics.NewFleet(metrics.New())
	api := newServer(b.Service(fleet, log), b, fleet, log)
	ts := httptest.NewServer(api.Handler(config.HTTPConfig{CORSOrigin: "*"}))
	t.Cleanup(ts.Close)
	return ts, api
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestMentionThenGet(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/mentions", `{"text": "van 12 is a Ford Transit"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first mention status = %d", resp.StatusCode)
	}
	res := decode[ingest.MentionResult](t, resp)
	if res.Record.Key != "van_12" || !res.Created {
		t.Fatalf("result = %+v", res)
	}

	if resp := do(t, http.MethodPost, ts.URL+"/api/mentions", `{"identifier": "VAN 12"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat mention status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/vans/van%2012", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	row := decode[importer.Row](t, resp)
	if row.Key != "van_12" || row.Attributes[domain.FieldType] != "Ford Transit" || row.Condition != "excellent" {
		t.Fatalf("row = %+v", row)
	}

	list := decode[[]importer.Row](t, do(t, http.MethodGet, ts.URL+"/api/vans", ""))
	if len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}
}

func TestErrorStatuses(t *testing.T) {
	ts, _ := newTestServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing van", http.MethodGet, "/api/vans/van_99", "", http.StatusNotFound},
		{"blank key", http.MethodGet, "/api/vans/%20", "", http.StatusBadRequest},
		{"mention without id", http.MethodPost, "/api/mentions", `{"text": "nothing here"}`, http.StatusBadRequest},
		{"broken body", http.MethodPost, "/api/mentions", `{`, http.StatusBadRequest},
		{"image without bytes", http.MethodPost, "/api/images", `{"identifier": "van 1"}`, http.StatusBadRequest},
		{"bad export format", http.MethodGet, "/api/export?format=xml", "", http.StatusBadRequest},
		{"similar without archive", http.MethodGet, "/api/vans/van_01/similar", "", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if body := decode[map[string]string](t, resp); body["error"] == "" {
				t.Fatalf("missing error message: %v", body)
			}
		})
	}
}

func TestImageEscalatesAndStats(t *testing.T) {
	ts, _ := newTestServer(t)
	img := ingest.Image{
		Identifier:  "van 3",
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("photo")),
		Reply:       `{"damage_level": 3, "damage_description": "front smashed", "van_side": "front"}`,
	}
	body, _ := json.Marshal(img)

	resp := do(t, http.MethodPost, ts.URL+"/api/images", string(body))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	res := decode[ingest.ImageResult](t, resp)
	if !res.Escalated || res.Record.Damage.Status != domain.StatusNeedsMaintenance {
		t.Fatalf("result = %+v", res)
	}

	dup := decode[ingest.ImageResult](t, do(t, http.MethodPost, ts.URL+"/api/images", string(body)))
	if !dup.Duplicate {
		t.Fatalf("second upload = %+v", dup)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/stats", "")
	st := decode[struct {
		Vans             int64            `json:"vans"`
		ByCondition      map[string]int64 `json:"by_condition"`
		NeedsMaintenance int64            `json:"needs_maintenance"`
	}](t, resp)
	if st.Vans != 1 || st.NeedsMaintenance != 1 || st.ByCondition["poor"] != 1 {
		t.Fatalf("stats = %+v", st)
	}

	resp = do(t, http.MethodGet, ts.URL+"/metrics", "")
	out, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`vanfleet_images_total{outcome="applied"} 1`, "vanfleet_vans 1", "vanfleet_http_requests_total"} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestImportExportDelete(t *testing.T) {
	ts, _ := newTestServer(t)
	sheet := "Van Number,Type,Notes\nvan 7,Ford Transit,ok\nvan_7_1,,new tyres\n,,\nvan 8,Sprinter,\n"

	resp := do(t, http.MethodPost, ts.URL+"/api/import", sheet)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d", resp.StatusCode)
	}
	res := decode[importResult](t, resp)
	if res.Imported != 2 || strings.Join(res.Keys, ",") != "van_07,van_08" || len(res.Errors) != 0 {
		t.Fatalf("import = %+v", res)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/export?format=csv", "")
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q", ct)
	}
	out, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(out), "van_number,type,") || !strings.Contains(string(out), "new tyres") {
		t.Fatalf("export = %s", out)
	}

	if resp := do(t, http.MethodDelete, ts.URL+"/api/vans/van_07", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/api/vans/van_07", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d", resp.StatusCode)
	}
}

// fakeArchive returns canned matches.
type fakeArchive struct {
	mu      sync.Mutex
	query   domain.Observation
	deleted []domain.CanonicalKey
}

func (f *fakeArchive) Similar(_ context.Context, obs domain.Observation, k int) ([]semantic.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = obs
	if k != 2 {
		return nil, errors.New("unexpected k")
	}
	return []semantic.Match{{VehicleKey: "van_09", Severity: obs.Severity, Side: obs.Side}}, nil
}

func (f *fakeArchive) DeleteVehicle(_ context.Context, key domain.CanonicalKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeArchive) state() (domain.Observation, []domain.CanonicalKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query, slices.Clone(f.deleted)
}

func TestSimilarAndArchiveDelete(t *testing.T) {
	ts, api := newTestServer(t)
	arch := &fakeArchive{}
	api.archive = arch

	img, _ := json.Marshal(ingest.Image{
		Identifier:  "van 2",
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("p")),
		Reply:       `{"damage_level": 2, "van_side": "rear"}`,
	})
	do(t, http.MethodPost, ts.URL+"/api/images", string(img))

	resp := do(t, http.MethodGet, ts.URL+"/api/vans/van_02/similar?k=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	matches := decode[[]semantic.Match](t, resp)
	if len(matches) != 1 || matches[0].VehicleKey != "van_09" {
		t.Fatalf("matches = %+v", matches)
	}
	if q, _ := arch.state(); q.VehicleKey != "van_02" || q.Severity != 2 || q.Side != domain.SideRear {
		t.Fatalf("query = %+v", q)
	}

	do(t, http.MethodDelete, ts.URL+"/api/vans/van_02", "")
	if _, deleted := arch.state(); len(deleted) != 1 || deleted[0] != "van_02" {
		t.Fatalf("archive deletes = %v", deleted)
	}
}
