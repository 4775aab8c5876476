package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/graph"
	"github.com/WessleyAI/vanfleet/engine/importer"
	"github.com/WessleyAI/vanfleet/engine/ingest"
	"github.com/WessleyAI/vanfleet/engine/merge"
	"github.com/WessleyAI/vanfleet/engine/recon"
	"github.com/WessleyAI/vanfleet/engine/semantic"
	"github.com/WessleyAI/vanfleet/internal/backend"
	"github.com/WessleyAI/vanfleet/internal/config"
	"github.com/WessleyAI/vanfleet/pkg/fn"
	"github.com/WessleyAI/vanfleet/pkg/metrics"
	"github.com/WessleyAI/vanfleet/pkg/mid"
	"github.com/WessleyAI/vanfleet/pkg/resilience"
)

// maxBody caps request bodies; images arrive base64 encoded.
const maxBody = 32 << 20

// statser reports fleet-wide counts without loading every record.
type statser interface {
	Stats(ctx context.Context) (graph.FleetStats, error)
}

// similarity searches and prunes archived observations.
type similarity interface {
	Similar(ctx context.Context, obs domain.Observation, k int) ([]semantic.Match, error)
	DeleteVehicle(ctx context.Context, key domain.CanonicalKey) error
}

type server struct {
	svc     *ingest.Service
	records recon.RecordStore
	stats   statser
	archive similarity
	fleet   *metrics.Fleet
	log     *slog.Logger
}

func newServer(svc *ingest.Service, b *backend.Backend, fleet *metrics.Fleet, log *slog.Logger) *server {
	s := &server{svc: svc, records: b.Records, fleet: fleet, log: log}
	if b.Graph != nil {
		s.stats = b.Graph
	}
	if b.Archive != nil {
		s.archive = b.Archive
	}
	return s
}

// Handler returns the routed API with middleware applied.
func (s *server) Handler(cfg config.HTTPConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/vans", s.handleList)
	mux.HandleFunc("GET /api/vans/{key}", s.handleGet)
	mux.HandleFunc("DELETE /api/vans/{key}", s.handleDelete)
	mux.HandleFunc("GET /api/vans/{key}/similar", s.handleSimilar)
	mux.HandleFunc("POST /api/mentions", s.handleMention)
	mux.HandleFunc("POST /api/images", s.handleImage)
	mux.HandleFunc("POST /api/import", s.handleImport)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.Handle("GET /metrics", s.fleet.Registry().Handler())

	chain := []mid.Middleware{
		mid.Recover(s.log),
		mid.OTel("vanfleet-api"),
		mid.Logger(s.log),
		mid.Metrics(s.fleet.Registry()),
		mid.CORS(cfg.CORSOrigin),
	}
	if cfg.RateLimit > 0 {
		lim := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.RateBurst})
		chain = append(chain, mid.RateLimit(lim))
	}
	return mid.Chain(mux, chain...)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	mid.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.list(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mid.JSON(w, http.StatusOK, fn.Map(recs, importer.Flatten))
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	mid.JSON(w, http.StatusOK, importer.Flatten(rec))
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	del, canDelete := s.records.(recon.Deleter)
	if !canDelete {
		mid.Error(w, http.StatusNotImplemented, "store does not support delete")
		return
	}
	if err := del.Delete(r.Context(), key); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.archive != nil {
		if err := s.archive.DeleteVehicle(r.Context(), key); err != nil {
			s.log.Warn("archive delete failed", "key", key, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		mid.Error(w, http.StatusNotImplemented, "observation archive not configured")
		return
	}
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))
	query := domain.Observation{
		VehicleKey:  rec.Key,
		Severity:    rec.Damage.Severity,
		Description: rec.Damage.Description,
	}
	if sides := rec.Damage.AffectedSides; len(sides) > 0 {
		query.Side = sides[0]
	}
	matches, err := s.archive.Similar(r.Context(), query, k)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mid.JSON(w, http.StatusOK, matches)
}

func (s *server) handleMention(w http.ResponseWriter, r *http.Request) {
	var m ingest.Mention
	if !decodeBody(w, r, &m) {
		return
	}
	res, err := s.svc.Mention(r.Context(), m)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mid.JSON(w, createdOr(res.Created), res)
}

func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	var img ingest.Image
	if !decodeBody(w, r, &img) {
		return
	}
	res, err := s.svc.Image(r.Context(), img)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mid.JSON(w, createdOr(res.Created), res)
}

type importResult struct {
	Imported int      `json:"imported"`
	Keys     []string `json:"keys"`
	Errors   []string `json:"errors,omitempty"`
}

func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	rows, err := importer.Read(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		mid.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	merged, errs := s.svc.Import(r.Context(), rows)
	res := importResult{
		Imported: len(merged),
		Keys:     fn.Map(merge.SortedKeys(merged), domain.CanonicalKey.String),
		Errors:   fn.Map(errs, error.Error),
	}
	status := http.StatusOK
	if len(merged) == 0 && len(errs) > 0 {
		status = http.StatusUnprocessableEntity
	}
	mid.JSON(w, status, res)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := importer.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		mid.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.list(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	byKey := make(map[domain.CanonicalKey]domain.VehicleRecord, len(recs))
	for _, rec := range recs {
		byKey[rec.Key] = rec
	}
	data, err := importer.Marshal(byKey, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypes[format])
	_, _ = w.Write(data)
}

var contentTypes = map[importer.Format]string{
	importer.FormatCSV:  "text/csv",
	importer.FormatJSON: "application/json",
	importer.FormatYAML: "application/yaml",
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	var (
		st  graph.FleetStats
		err error
	)
	if s.stats != nil {
		st, err = s.stats.Stats(r.Context())
	} else {
		var recs []domain.VehicleRecord
		if recs, err = s.list(r.Context()); err == nil {
			st = summarize(recs)
		}
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.fleet.SetVans(int(st.Vans))
	mid.JSON(w, http.StatusOK, st)
}

// --- Helpers ---

func (s *server) list(ctx context.Context) ([]domain.VehicleRecord, error) {
	l, ok := s.records.(recon.Lister)
	if !ok {
		return nil, errors.New("store cannot list records")
	}
	return l.List(ctx)
}

// lookup resolves the {key} path value to a stored record, writing the
// error response itself when it cannot.
func (s *server) lookup(w http.ResponseWriter, r *http.Request) (domain.VehicleRecord, bool) {
	key, ok := pathKey(w, r)
	if !ok {
		return domain.VehicleRecord{}, false
	}
	rec, found, err := s.records.Get(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return domain.VehicleRecord{}, false
	}
	if !found {
		mid.Error(w, http.StatusNotFound, fmt.Sprintf("%s: %v", domain.ErrNotFound, key))
		return domain.VehicleRecord{}, false
	}
	return rec, true
}

func pathKey(w http.ResponseWriter, r *http.Request) (domain.CanonicalKey, bool) {
	key, err := domain.Normalize(r.PathValue("key"))
	if err != nil {
		mid.Error(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return key, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		mid.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func createdOr(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// fail maps service errors to status codes.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve), fn.IsPermanent(err):
		mid.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, resilience.ErrCircuitOpen):
		mid.Error(w, http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, context.Canceled):
		mid.Error(w, http.StatusServiceUnavailable, "request canceled")
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		mid.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// summarize computes fleet stats from a full listing.
func summarize(recs []domain.VehicleRecord) graph.FleetStats {
	st := graph.FleetStats{
		Vans:        int64(len(recs)),
		ByStatus:    make(map[string]int64),
		ByCondition: make(map[string]int64),
	}
	for _, rec := range recs {
		st.ByStatus[string(rec.Damage.Status)]++
		st.ByCondition[string(rec.Damage.Condition())]++
		if rec.Damage.Status == domain.StatusNeedsMaintenance {
			st.NeedsMaintenance++
		}
	}
	return st
}
