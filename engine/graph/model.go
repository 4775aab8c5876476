// Package graph persists the fleet in Neo4j: one (:Van) node per canonical
// key, (:Image) nodes for processed photo fingerprints and (:Driver) nodes
// for upload statistics.
package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/pkg/repo"
)

// Node labels and relationship types.
const (
	LabelVan    = "Van"
	LabelImage  = "Image"
	LabelDriver = "Driver"
	RelHasImage = "HAS_IMAGE"
)

// attrPrefix namespaces record attributes among the Van node's own properties.
const attrPrefix = "attr_"

func vanToMap(r domain.VehicleRecord) map[string]any {
	m := map[string]any{
		"key_fold":           r.Key.Fold(),
		"key":                r.Key.String(),
		"severity":           int64(r.Damage.Severity),
		"damage_description": r.Damage.Description,
		"affected_sides":     r.Damage.AffectedSides.Strings(),
		"status":             string(r.Damage.Status),
		"created_at":         r.CreatedAt.UTC(),
		"updated_at":         r.UpdatedAt.UTC(),
	}
	for k, v := range r.Attributes {
		m[attrPrefix+k] = v
	}
	return m
}

func vanFromRecord(rec *neo4j.Record) (domain.VehicleRecord, error) {
	props, err := repo.Props(rec, "n")
	if err != nil {
		return domain.VehicleRecord{}, err
	}
	return vanFromProps(props)
}

func vanFromProps(props map[string]any) (domain.VehicleRecord, error) {
	key := strProp(props, "key")
	if key == "" {
		return domain.VehicleRecord{}, fmt.Errorf("graph: van node without key")
	}
	r := domain.VehicleRecord{
		Key:        domain.CanonicalKey(key),
		Attributes: make(map[string]string),
		Damage: domain.DamageState{
			Severity:      domain.ClampSeverity(int(intProp(props, "severity"))),
			Description:   strProp(props, "damage_description"),
			AffectedSides: domain.SideSetOf(strSliceProp(props, "affected_sides")),
			Status:        domain.ParseStatus(strProp(props, "status")),
		},
		CreatedAt: timeProp(props, "created_at"),
		UpdatedAt: timeProp(props, "updated_at"),
	}
	for k, v := range props {
		if name, ok := strings.CutPrefix(k, attrPrefix); ok && name != "" {
			if s, ok := v.(string); ok {
				r.Attributes[name] = s
			}
		}
	}
	return r, nil
}

func driverToMap(s domain.DriverStats) map[string]any {
	return map[string]any{
		"id":             s.DriverID,
		"name":           s.Name,
		"reports":        int64(s.Reports),
		"uploads":        int64(s.Uploads),
		"avg_damage":     s.AvgDamage,
		"last_upload_at": s.LastUploadAt.UTC(),
	}
}

func driverFromRecord(rec *neo4j.Record) (domain.DriverStats, error) {
	props, err := repo.Props(rec, "n")
	if err != nil {
		return domain.DriverStats{}, err
	}
	return domain.DriverStats{
		DriverID:     strProp(props, "id"),
		Name:         strProp(props, "name"),
		Reports:      int(intProp(props, "reports")),
		Uploads:      int(intProp(props, "uploads")),
		AvgDamage:    floatProp(props, "avg_damage"),
		LastUploadAt: timeProp(props, "last_upload_at"),
	}, nil
}

// imageID is the Image node id for one (van, fingerprint) pair.
func imageID(keyFold, fp string) string { return keyFold + ":" + fp }

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func timeProp(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func strSliceProp(props map[string]any, key string) []string {
	switch v := props[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
