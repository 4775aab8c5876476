// Package damage folds per-photo observations into a van's aggregate damage
// state. Severity only escalates and maintenance status is one-way.
package damage

import "github.com/WessleyAI/vanfleet/engine/domain"

// NewState returns the state of a van with no observations.
func NewState() domain.DamageState {
	return domain.NewDamageState()
}

// Apply returns the state after one observation. state is not modified.
//
// Out-of-range severities are clamped. An unknown side is never recorded.
// The move to needs_maintenance happens when severity first reaches the
// maximum and is never reversed here.
func Apply(state domain.DamageState, obs domain.Observation) domain.DamageState {
	next := state
	prev := state.Severity

	next.Severity = max(state.Severity, domain.ClampSeverity(obs.Severity))

	if side := domain.ParseSide(string(obs.Side)); side != domain.SideUnknown {
		next.AffectedSides = state.AffectedSides.With(side)
	}

	next.Description = domain.Accumulate(state.Description, obs.Description)

	if next.Status == "" {
		next.Status = domain.StatusActive
	}
	if next.Severity == domain.MaxSeverity && prev < domain.MaxSeverity {
		next.Status = domain.StatusNeedsMaintenance
	}
	return next
}

// ApplyAll folds observations in order.
func ApplyAll(state domain.DamageState, obs ...domain.Observation) domain.DamageState {
	for _, o := range obs {
		state = Apply(state, o)
	}
	return state
}

// Escalated reports whether moving from before to after crossed into
// maintenance. Callers use it to raise a single alert per transition.
func Escalated(before, after domain.DamageState) bool {
	return before.Status != domain.StatusNeedsMaintenance && after.Status == domain.StatusNeedsMaintenance
}

// Combine folds another aggregate for the same van into state, as if that
// aggregate's observations had been applied: severity is the maximum, sides
// are unioned, descriptions accumulate and maintenance status sticks.
func Combine(state, other domain.DamageState) domain.DamageState {
	next := state
	next.Severity = max(state.Severity, domain.ClampSeverity(other.Severity))
	for _, side := range other.AffectedSides {
		if side != domain.SideUnknown {
			next.AffectedSides = next.AffectedSides.With(side)
		}
	}
	next.Description = domain.Accumulate(state.Description, other.Description)
	if next.Status == "" {
		next.Status = domain.StatusActive
	}
	if other.Status == domain.StatusNeedsMaintenance ||
		(next.Severity == domain.MaxSeverity && state.Severity < domain.MaxSeverity) {
		next.Status = domain.StatusNeedsMaintenance
	}
	return next
}
