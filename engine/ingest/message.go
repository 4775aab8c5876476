package ingest

import (
	"time"

	"github.com/WessleyAI/vanfleet/engine/assess"
	"github.com/WessleyAI/vanfleet/engine/domain"
)

// NATS subjects.
const (
	SubjectMention = "fleet.mention"
	SubjectImage   = "fleet.image"
	SubjectDLQ     = "fleet.ingest.dlq"
	SubjectUpdated = "fleet.vehicle.updated"
	SubjectAlert   = "fleet.vehicle.alert"
)

// Mention is a driver message that names a van. Identifier wins over an
// identifier extracted from Text. Text may also carry a model ("Ford
// Transit") and a 0-3 rating which are merged into the record.
type Mention struct {
	Text       string `json:"text,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Driver     string `json:"driver,omitempty"`
}

// Image is one photo of a van. The image is identified by ImageBase64 when
// present, otherwise by the hex Fingerprint. Damage comes from Assessment
// when set, otherwise from parsing the vision Reply.
type Image struct {
	Identifier  string             `json:"identifier,omitempty"`
	Text        string             `json:"text,omitempty"`
	ImageBase64 string             `json:"image_base64,omitempty"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	Assessment  *assess.Assessment `json:"assessment,omitempty"`
	Reply       string             `json:"reply,omitempty"`
	DriverID    string             `json:"driver_id,omitempty"`
	TakenAt     time.Time          `json:"taken_at,omitempty"`
}

// Update is published on SubjectUpdated after a record changed.
type Update struct {
	Key         domain.CanonicalKey  `json:"key"`
	Record      domain.VehicleRecord `json:"record"`
	Created     bool                 `json:"created"`
	Fingerprint string               `json:"fingerprint,omitempty"`
}

// Alert is published on SubjectAlert when a van first needs maintenance.
type Alert struct {
	Key         domain.CanonicalKey `json:"key"`
	Severity    int                 `json:"severity"`
	Condition   domain.Condition    `json:"condition"`
	Description string              `json:"description"`
	Sides       []string            `json:"sides"`
	At          time.Time           `json:"at"`
}

// DeadLetter wraps a message that could not be processed.
type DeadLetter struct {
	Subject  string `json:"subject"`
	Payload  []byte `json:"payload"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// MentionResult is the outcome of a Mention.
type MentionResult struct {
	Record  domain.VehicleRecord `json:"record"`
	Created bool                 `json:"created"`
}

// ImageResult is the outcome of an Image.
type ImageResult struct {
	Record      domain.VehicleRecord `json:"record"`
	Fingerprint string               `json:"fingerprint"`
	Duplicate   bool                 `json:"duplicate"`
	Created     bool                 `json:"created"`
	Escalated   bool                 `json:"escalated"`
}
