package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/pkg/repo"
)

// FleetStats summarizes the stored fleet.
type FleetStats struct {
	Vans             int64            `json:"vans"`
	Images           int64            `json:"images"`
	Drivers          int64            `json:"drivers"`
	ByStatus         map[string]int64 `json:"by_status"`
	ByCondition      map[string]int64 `json:"by_condition"`
	NeedsMaintenance int64            `json:"needs_maintenance"`
}

// NodeCounts returns node counts grouped by label.
func (s *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	recs, err := repo.Collect(ctx, s.opener,
		`MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: node counts: %w", err)
	}
	return countsByName(recs, "type"), nil
}

// Stats returns fleet-wide counts.
func (s *Store) Stats(ctx context.Context) (FleetStats, error) {
	nodes, err := s.NodeCounts(ctx)
	if err != nil {
		return FleetStats{}, err
	}
	recs, err := repo.Collect(ctx, s.opener,
		`MATCH (v:Van) RETURN v.status AS status, v.severity AS severity, count(*) AS count`, nil)
	if err != nil {
		return FleetStats{}, fmt.Errorf("graph: stats: %w", err)
	}
	st := FleetStats{
		Vans:        nodes[LabelVan],
		Images:      nodes[LabelImage],
		Drivers:     nodes[LabelDriver],
		ByStatus:    make(map[string]int64),
		ByCondition: make(map[string]int64),
	}
	for _, rec := range recs {
		props := rec.AsMap()
		status := domain.ParseStatus(strProp(props, "status"))
		n := intProp(props, "count")
		st.ByStatus[string(status)] += n
		st.ByCondition[string(domain.ConditionOf(int(intProp(props, "severity"))))] += n
		if status == domain.StatusNeedsMaintenance {
			st.NeedsMaintenance += n
		}
	}
	return st, nil
}

// TopDamaged returns the most damaged vans, most recently updated first among equals.
func (s *Store) TopDamaged(ctx context.Context, limit int) ([]domain.VehicleRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	recs, err := repo.Collect(ctx, s.opener,
		`MATCH (n:Van) WHERE n.severity > 0
		 RETURN properties(n) AS n
		 ORDER BY n.severity DESC, n.updated_at DESC LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: top damaged: %w", err)
	}
	out := make([]domain.VehicleRecord, 0, len(recs))
	for _, rec := range recs {
		v, err := vanFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("graph: top damaged: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// TopDrivers returns drivers ordered by upload count.
func (s *Store) TopDrivers(ctx context.Context, limit int) ([]domain.DriverStats, error) {
	if limit <= 0 {
		limit = 10
	}
	recs, err := repo.Collect(ctx, s.opener,
		`MATCH (n:Driver) RETURN properties(n) AS n ORDER BY n.uploads DESC, n.id LIMIT $limit`,
		map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: top drivers: %w", err)
	}
	out := make([]domain.DriverStats, 0, len(recs))
	for _, rec := range recs {
		d, err := driverFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("graph: top drivers: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func countsByName(recs []*neo4j.Record, nameKey string) map[string]int64 {
	counts := make(map[string]int64)
	for _, rec := range recs {
		typ, _ := rec.Get(nameKey)
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts
}
