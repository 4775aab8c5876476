// Package semantic archives accepted damage observations in Qdrant and finds
// vans whose damage looks alike.
package semantic

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// Dims is the length of a damage signature: severity plus one slot per side.
var Dims = 1 + len(domain.Sides)

// Signature encodes an observation as a fixed-length vector. Slot 0 holds
// severity scaled to [0, 1]; the remaining slots one-hot encode the side.
func Signature(obs domain.Observation) []float32 {
	v := make([]float32, Dims)
	v[0] = float32(domain.ClampSeverity(obs.Severity)) / float32(domain.MaxSeverity)
	i := slices.Index(domain.Sides, obs.Side)
	if i < 0 {
		i = len(domain.Sides) - 1
	}
	v[1+i] = 1
	return v
}

// PointID is the deterministic point id of one (van, fingerprint) pair, so
// re-archiving the same photo overwrites instead of duplicating.
func PointID(key domain.CanonicalKey, fingerprint string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key.Fold()+"|"+fingerprint)).String()
}

// Match is one archived observation similar to a query.
type Match struct {
	ID          string              `json:"id"`
	VehicleKey  domain.CanonicalKey `json:"vehicle_key"`
	Fingerprint string              `json:"fingerprint"`
	Severity    int                 `json:"severity"`
	Side        domain.Side         `json:"side"`
	Description string              `json:"description"`
	Timestamp   time.Time           `json:"timestamp"`
	Distance    float32             `json:"distance"`
}
