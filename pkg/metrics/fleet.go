package metrics

import "time"

const prefix = "vanfleet_"

// Fleet is the set of series the reconciliation service reports.
type Fleet struct {
	reg *Registry
}

// NewFleet binds fleet series to reg.
func NewFleet(reg *Registry) *Fleet { return &Fleet{reg: reg} }

// Registry returns the underlying registry.
func (f *Fleet) Registry() *Registry { return f.reg }

// Mention counts an ingested text mention by outcome (merged, skipped, invalid, failed).
func (f *Fleet) Mention(outcome string) {
	f.reg.Counter(WithLabels(prefix+"mentions_total", "outcome", outcome), "Text mentions processed").Inc()
}

// Image counts an image observation by outcome (applied, duplicate, invalid, failed).
func (f *Fleet) Image(outcome string) {
	f.reg.Counter(WithLabels(prefix+"images_total", "outcome", outcome), "Image observations processed").Inc()
}

// Escalation counts a status transition caused by damage.
func (f *Fleet) Escalation(status string) {
	f.reg.Counter(WithLabels(prefix+"escalations_total", "status", status), "Status escalations").Inc()
}

// DeadLetter counts messages sent to the dead-letter subject.
func (f *Fleet) DeadLetter(subject string) {
	f.reg.Counter(WithLabels(prefix+"dlq_total", "subject", subject), "Messages dead-lettered").Inc()
}

// Retry counts a message republished for another attempt.
func (f *Fleet) Retry(subject string) {
	f.reg.Counter(WithLabels(prefix+"retries_total", "subject", subject), "Messages republished for retry").Inc()
}

// Stage observes how long a pipeline stage took.
func (f *Fleet) Stage(stage string, start time.Time) {
	f.reg.Histogram(WithLabels(prefix+"stage_duration_seconds", "stage", stage), "Per-stage duration", nil).Since(start)
}

// Imported counts records produced by a bulk import.
func (f *Fleet) Imported(n int) {
	f.reg.Counter(prefix+"imported_records_total", "Records produced by bulk import").Add(int64(n))
}

// SetVans reports the current number of stored vans.
func (f *Fleet) SetVans(n int) {
	f.reg.Gauge(prefix+"vans", "Vans currently stored").Set(int64(n))
}
