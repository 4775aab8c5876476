// Package ingest runs van mentions, photo assessments and bulk imports
// through the reconciler. The same Service backs the NATS consumer and the
// HTTP API; work on one van is serialized with a per-key lock.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/vanfleet/engine/assess"
	"github.com/WessleyAI/vanfleet/engine/damage"
	"github.com/WessleyAI/vanfleet/engine/dedup"
	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/driver"
	"github.com/WessleyAI/vanfleet/engine/merge"
	"github.com/WessleyAI/vanfleet/engine/recon"
	"github.com/WessleyAI/vanfleet/pkg/fn"
	"github.com/WessleyAI/vanfleet/pkg/keylock"
	"github.com/WessleyAI/vanfleet/pkg/metrics"
	"github.com/WessleyAI/vanfleet/pkg/natsutil"
	"github.com/WessleyAI/vanfleet/pkg/resilience"
	"github.com/WessleyAI/vanfleet/pkg/vannlp"
)

// ErrNoImage means an image message carried neither bytes nor a fingerprint.
var ErrNoImage = errors.New("image bytes or fingerprint required")

// Archiver stores accepted observations for similarity search.
type Archiver interface {
	Put(ctx context.Context, obs domain.Observation) error
}

// Emitter publishes fleet events.
type Emitter interface {
	Emit(ctx context.Context, subject string, v any) error
}

// NATSEmitter publishes events as JSON on a NATS connection.
type NATSEmitter struct {
	Conn *nats.Conn
}

func (e NATSEmitter) Emit(ctx context.Context, subject string, v any) error {
	return natsutil.Publish(ctx, e.Conn, subject, v)
}

// Deps holds the collaborators of a Service. Only Reconciler is required.
type Deps struct {
	Reconciler *recon.Reconciler
	Drivers    driver.Store
	Archive    Archiver
	Events     Emitter
	Locks      keylock.Locker
	Breaker    *resilience.Breaker
	Retry      fn.RetryOpts
	Metrics    *metrics.Fleet
	Logger     *slog.Logger
}

// Service applies ingest operations to the fleet.
type Service struct {
	recon   *recon.Reconciler
	drivers driver.Store
	archive Archiver
	events  Emitter
	locks   keylock.Locker
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	metrics *metrics.Fleet
	log     *slog.Logger

	image fn.Stage[Image, applied]
}

// New creates a Service, filling unset dependencies with defaults.
func New(deps Deps) *Service {
	s := &Service{
		recon:   deps.Reconciler,
		drivers: deps.Drivers,
		archive: deps.Archive,
		events:  deps.Events,
		locks:   deps.Locks,
		breaker: deps.Breaker,
		retry:   deps.Retry,
		metrics: deps.Metrics,
		log:     deps.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.recon == nil {
		s.recon = recon.New(nil, nil, s.log)
	}
	if s.locks == nil {
		s.locks = keylock.New()
	}
	if s.breaker == nil {
		s.breaker = resilience.NewBreaker(resilience.BreakerOpts{
			Name: "store",
			OnStateChange: func(name string, from, to resilience.State) {
				s.log.Warn("ingest: breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = fn.DefaultRetry
	}
	if s.metrics == nil {
		s.metrics = metrics.NewFleet(metrics.New())
	}

	decode := fn.Traced("ingest.decode", fn.Lift(s.decodeImage))
	apply := fn.Traced("ingest.apply", fn.Lift(s.applyImage))
	s.image = fn.Then(
		fn.Then(loggedTap[Image]("decode", s.log), decode),
		fn.Then(apply, fn.Tap(s.afterImage)),
	)
	return s
}

// loggedTap logs that a stage is about to run.
func loggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.Tap(func(context.Context, T) {
		log.Debug("stage.enter", "stage", name)
	})
}

// permanent marks validation failures so they are neither retried nor
// counted against the store breaker.
func permanent(err error) error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return fn.Permanent(err)
	}
	return err
}

// call runs a store operation through the breaker with retries.
func call[T any](ctx context.Context, s *Service, op string, f func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer s.metrics.Stage(op, start)
	r := fn.Retry(ctx, s.retry, func(ctx context.Context) fn.Result[T] {
		v, err := resilience.Do(s.breaker, ctx, func(ctx context.Context) (T, error) {
			v, err := f(ctx)
			return v, permanent(err)
		})
		return fn.FromPair(v, err)
	})
	return r.Unwrap()
}

func (s *Service) emit(ctx context.Context, subject string, v any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, subject, v); err != nil {
		s.log.Warn("ingest: emit failed", "subject", subject, "error", err)
	}
}

// identifierOf prefers an explicit identifier over one found in text.
func identifierOf(identifier, text string) string {
	if id := strings.TrimSpace(identifier); id != "" {
		return id
	}
	if id, ok := vannlp.ExtractIdentifier(text); ok {
		return id
	}
	return ""
}

// Mention records that a van was named, creating it when new, and merges
// any type, rating or driver the message carries.
func (s *Service) Mention(ctx context.Context, m Mention) (MentionResult, error) {
	raw := identifierOf(m.Identifier, m.Text)
	key, err := domain.Normalize(raw)
	if err != nil {
		s.metrics.Mention("invalid")
		return MentionResult{}, fn.Permanent(err)
	}
	unlock, err := s.locks.Acquire(ctx, key.Fold())
	if err != nil {
		s.metrics.Mention("failed")
		return MentionResult{}, fmt.Errorf("ingest: %w", err)
	}
	defer unlock()

	res, err := call(ctx, s, "mention", func(ctx context.Context) (MentionResult, error) {
		rec, created, err := s.recon.IngestMention(ctx, raw)
		return MentionResult{Record: rec, Created: created}, err
	})
	if err != nil {
		s.metrics.Mention("failed")
		return MentionResult{}, err
	}

	changed := res.Created
	if row := mentionRow(raw, m); len(row) > 1 {
		rec, err := call(ctx, s, "merge", func(ctx context.Context) (domain.VehicleRecord, error) {
			merged, errs := s.recon.BulkMergeInto(ctx, []domain.RawRow{row})
			if len(errs) > 0 {
				return domain.VehicleRecord{}, errors.Join(errs...)
			}
			rec, ok := merge.Lookup(merged, key)
			if !ok {
				return domain.VehicleRecord{}, fmt.Errorf("ingest: merge of %s returned no record", key)
			}
			return rec, nil
		})
		if err != nil {
			s.metrics.Mention("failed")
			return MentionResult{}, err
		}
		changed = changed || !maps.Equal(res.Record.Attributes, rec.Attributes)
		res.Record = rec
	}

	if !changed {
		s.metrics.Mention("skipped")
		return res, nil
	}
	s.metrics.Mention("merged")
	s.emit(ctx, SubjectUpdated, Update{Key: res.Record.Key, Record: res.Record, Created: res.Created})
	return res, nil
}

// mentionRow builds the attribute row a mention contributes.
func mentionRow(raw string, m Mention) domain.RawRow {
	row := domain.RawRow{domain.KeyField: raw}
	if mm, ok := vannlp.ExtractModel(m.Text); ok {
		row[domain.FieldType] = mm.Type()
	}
	if n, ok := vannlp.ExtractRating(m.Text); ok {
		row[domain.FieldRating] = strconv.Itoa(n)
	}
	if d := strings.TrimSpace(m.Driver); d != "" {
		row[domain.FieldDriver] = d
	}
	return row
}

type decoded struct {
	raw    string
	key    domain.CanonicalKey
	fp     dedup.Fingerprint
	obs    domain.Observation
	driver string
}

type applied struct {
	in     decoded
	result ImageResult
}

// Image applies one photo assessment. A repeated photo of the same van is
// reported as a duplicate and changes nothing.
func (s *Service) Image(ctx context.Context, img Image) (ImageResult, error) {
	a, err := s.image(ctx, img).Unwrap()
	if err != nil {
		switch {
		case fn.IsPermanent(err):
			s.metrics.Image("invalid")
		default:
			s.metrics.Image("failed")
		}
		return ImageResult{}, err
	}
	return a.result, nil
}

func (s *Service) decodeImage(_ context.Context, img Image) (decoded, error) {
	raw := identifierOf(img.Identifier, img.Text)
	key, err := domain.Normalize(raw)
	if err != nil {
		return decoded{}, fn.Permanent(err)
	}

	var fp dedup.Fingerprint
	switch {
	case img.ImageBase64 != "":
		data, err := base64.StdEncoding.DecodeString(img.ImageBase64)
		if err != nil {
			return decoded{}, fn.Permanent(&domain.ValidationError{Field: "image_base64", Wrapped: err})
		}
		fp = dedup.FingerprintOf(data)
	case img.Fingerprint != "":
		fp, err = dedup.ParseFingerprint(img.Fingerprint)
		if err != nil {
			return decoded{}, fn.Permanent(domain.NewValidationError("fingerprint", img.Fingerprint, err))
		}
	default:
		return decoded{}, fn.Permanent(domain.NewValidationError("image", "", ErrNoImage))
	}

	a := assess.Parse(img.Reply)
	if img.Assessment != nil {
		a = *img.Assessment
	}
	return decoded{
		raw:    raw,
		key:    key,
		fp:     fp,
		obs:    a.Observation(key, fp.String(), img.TakenAt),
		driver: strings.TrimSpace(img.DriverID),
	}, nil
}

func (s *Service) applyImage(ctx context.Context, in decoded) (applied, error) {
	unlock, err := s.locks.Acquire(ctx, in.key.Fold())
	if err != nil {
		return applied{}, fmt.Errorf("ingest: %w", err)
	}
	defer unlock()

	type prior struct {
		rec   domain.VehicleRecord
		found bool
	}
	before, err := call(ctx, s, "get", func(ctx context.Context) (prior, error) {
		rec, ok, err := s.recon.Records.Get(ctx, in.key)
		return prior{rec, ok}, err
	})
	if err != nil {
		return applied{}, fmt.Errorf("ingest: get %s: %w", in.key, err)
	}
	if !before.found {
		before.rec.Damage = domain.NewDamageState()
	}

	type outcome struct {
		rec domain.VehicleRecord
		dup bool
	}
	out, err := call(ctx, s, "apply", func(ctx context.Context) (outcome, error) {
		rec, dup, err := s.recon.IngestImage(ctx, in.raw, in.fp, in.obs)
		return outcome{rec, dup}, err
	})
	if err != nil {
		return applied{}, err
	}

	if in.obs.Timestamp.IsZero() {
		in.obs.Timestamp = out.rec.UpdatedAt
	}
	return applied{in: in, result: ImageResult{
		Record:      out.rec,
		Fingerprint: in.fp.String(),
		Duplicate:   out.dup,
		Created:     !before.found && !out.dup,
		Escalated:   !out.dup && damage.Escalated(before.rec.Damage, out.rec.Damage),
	}}, nil
}

// afterImage runs the side effects of an accepted photo. Their failures are
// logged; the observation itself is already stored.
func (s *Service) afterImage(ctx context.Context, a applied) {
	res := a.result
	if res.Duplicate {
		s.metrics.Image("duplicate")
		return
	}
	s.metrics.Image("applied")

	if s.drivers != nil && a.in.driver != "" {
		if err := s.reportDriver(ctx, a.in.driver, a.in.obs); err != nil {
			s.log.Warn("ingest: driver report failed", "driver", a.in.driver, "error", err)
		}
	}
	if s.archive != nil {
		if err := s.archive.Put(ctx, a.in.obs); err != nil {
			s.log.Warn("ingest: archive failed", "key", a.in.key, "error", err)
		}
	}

	s.emit(ctx, SubjectUpdated, Update{
		Key:         res.Record.Key,
		Record:      res.Record,
		Created:     res.Created,
		Fingerprint: res.Fingerprint,
	})
	if res.Escalated {
		s.metrics.Escalation(string(res.Record.Damage.Status))
		s.emit(ctx, SubjectAlert, Alert{
			Key:         res.Record.Key,
			Severity:    res.Record.Damage.Severity,
			Condition:   res.Record.Damage.Condition(),
			Description: res.Record.Damage.Description,
			Sides:       res.Record.Damage.AffectedSides.Strings(),
			At:          res.Record.UpdatedAt,
		})
	}
}

func (s *Service) reportDriver(ctx context.Context, id string, obs domain.Observation) error {
	unlock, err := s.locks.Acquire(ctx, "driver:"+id)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = driver.Tracker{Store: s.drivers}.Report(ctx, id, obs.Severity, obs.Timestamp)
	return err
}

// Import merges rows onto the stored records. Every key the rows touch is
// locked, in sorted order, for the duration of the merge. Only records the
// rows changed produce an update event.
func (s *Service) Import(ctx context.Context, rows []domain.RawRow) (map[domain.CanonicalKey]domain.VehicleRecord, []error) {
	unlock, err := s.lockAll(ctx, lockOrder(rows))
	if err != nil {
		return nil, []error{fmt.Errorf("ingest: import: %w", err)}
	}
	defer unlock()

	start := time.Now()
	merged, changed, errs := s.recon.BulkMergeChanges(ctx, rows)
	s.metrics.Stage("import", start)
	s.metrics.Imported(len(merged))
	for _, key := range changed {
		s.emit(ctx, SubjectUpdated, Update{Key: key, Record: merged[key]})
	}
	return merged, errs
}

// lockAll acquires keys in order. On failure the holds taken so far are
// released.
func (s *Service) lockAll(ctx context.Context, keys []string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range keys {
		unlock, err := s.locks.Acquire(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func lockOrder(rows []domain.RawRow) []string {
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		key, err := domain.RowKey(domain.CanonicalRow(row))
		if err != nil {
			continue
		}
		seen[key.Fold()] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}
