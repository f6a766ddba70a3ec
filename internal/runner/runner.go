// Package runner drives a migration run: plan, apply, verify, report.
package runner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schemaguard/internal/database"
	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/models"
	"github.com/ksred/schemaguard/internal/planner"
	"github.com/ksred/schemaguard/internal/utils"
)

// StateStore is the applied-migration bookkeeping the runner needs
type StateStore interface {
	Ensure(ctx context.Context) error
	Applied(ctx context.Context) (map[string]models.AppliedRecord, error)
}

// Executor applies a single migration
type Executor interface {
	Apply(ctx context.Context, unit migration.Unit) (*models.AppliedRecord, error)
}

// Verifier compares an expected shape against the live schema
type Verifier interface {
	Verify(ctx context.Context, version string, expected migration.Shape) (*database.VerificationResult, error)
}

// Observer is notified of every result and every finished run
type Observer interface {
	ObserveResult(version string, status string, duration time.Duration)
	ObserveRun(mode string, ok bool, finishedAt time.Time, duration time.Duration)
}

// Runner applies and checks migrations against one database
type Runner struct {
	store    StateStore
	executor Executor
	verifier Verifier
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithObserver registers an observer, such as a metrics recorder
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a runner from its parts
func New(store StateStore, executor Executor, verifier Verifier, logger zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		executor: executor,
		verifier: verifier,
		logger:   utils.Component(logger, "runner"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewForDB wires the database backed store, executor and verifier
func NewForDB(db *gorm.DB, execOpts database.ExecutorOptions, logger zerolog.Logger, opts ...Option) *Runner {
	store := database.NewStateStore(db, logger)
	return New(
		store,
		database.NewExecutor(db, store, execOpts, logger),
		database.NewVerifier(db, logger),
		logger,
		opts...,
	)
}

// Run applies every pending migration in dependency order and verifies each
// one. Migrations recorded by an earlier run are re-verified.
//
// A failed or drifted migration does not stop the run; its dependents are
// skipped and independent migrations continue. Planning errors are returned
// before anything touches the database. A connection error aborts the run
// and is returned together with the partial report.
func (r *Runner) Run(ctx context.Context, units []migration.Unit) (*Report, error) {
	ordered, err := planner.Order(units)
	if err != nil {
		return nil, err
	}

	report := &Report{Mode: ModeRun, StartedAt: r.now()}

	if err := r.store.Ensure(ctx); err != nil {
		return nil, err
	}
	applied, err := r.store.Applied(ctx)
	if err != nil {
		return nil, err
	}
	report.Unknown = r.unknownVersions(units, applied)

	pending, err := planner.Plan(units, appliedSet(applied))
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("total", len(units)).
		Int("applied", len(units)-len(pending)).
		Int("pending", len(pending)).
		Msg("Starting migration run")

	blocked := make(map[string]bool)

	// One pass in dependency order. Pending units come up in plan order since
	// a plan is a subsequence of the full order.
	for _, unit := range ordered {
		if record, ok := applied[unit.Version]; ok {
			res, err := r.checkApplied(ctx, unit, record, StatusAlreadyApplied)
			if err != nil {
				return r.abort(report, res, err)
			}
			if res.Failed() {
				blocked[unit.Version] = true
			}
			r.add(report, res)
			continue
		}

		if err := ctx.Err(); err != nil {
			return r.abort(report, Result{Version: unit.Version, Name: unit.Name, Status: StatusPending, Err: err}, err)
		}

		if dep, isBlocked := planner.BlockedBy(unit, blocked); isBlocked {
			blocked[unit.Version] = true
			r.logger.Warn().Str("version", unit.Version).Str("blocked_by", dep).Msg("Skipping migration")
			r.add(report, Result{
				Version:   unit.Version,
				Name:      unit.Name,
				Status:    StatusSkipped,
				BlockedBy: dep,
				Checksum:  unit.Checksum(),
				Err:       fmt.Errorf("skipped: dependency '%s' did not complete", dep),
			})
			continue
		}

		res, err := r.apply(ctx, unit)
		if err != nil {
			return r.abort(report, res, err)
		}
		if res.Failed() {
			blocked[unit.Version] = true
		}
		r.add(report, res)
	}

	r.finish(report)
	return report, nil
}

// Check verifies recorded migrations and lists pending ones without
// changing anything. A missing state table means nothing is applied.
func (r *Runner) Check(ctx context.Context, units []migration.Unit) (*Report, error) {
	ordered, err := planner.Order(units)
	if err != nil {
		return nil, err
	}

	report := &Report{Mode: ModeCheck, StartedAt: r.now()}

	applied, err := r.store.Applied(ctx)
	if err != nil {
		return nil, err
	}
	report.Unknown = r.unknownVersions(units, applied)

	for _, unit := range ordered {
		record, ok := applied[unit.Version]
		if !ok {
			r.add(report, Result{
				Version:  unit.Version,
				Name:     unit.Name,
				Status:   StatusPending,
				Checksum: unit.Checksum(),
			})
			continue
		}

		res, err := r.checkApplied(ctx, unit, record, StatusVerified)
		if err != nil {
			return r.abort(report, res, err)
		}
		r.add(report, res)
	}

	r.finish(report)
	return report, nil
}

// Pending returns the migrations a run would apply, in order
func (r *Runner) Pending(ctx context.Context, units []migration.Unit) ([]migration.Unit, error) {
	if _, err := planner.Order(units); err != nil {
		return nil, err
	}
	applied, err := r.store.Applied(ctx)
	if err != nil {
		return nil, err
	}
	return planner.Plan(units, appliedSet(applied))
}

// apply runs one pending migration and verifies it. The error is non-nil
// only when the run must stop.
func (r *Runner) apply(ctx context.Context, unit migration.Unit) (Result, error) {
	res := Result{
		Version:  unit.Version,
		Name:     unit.Name,
		Status:   StatusApplying,
		Checksum: unit.Checksum(),
	}
	start := r.now()

	record, err := r.executor.Apply(ctx, unit)
	switch {
	case err == nil:
		res.Applied = true
		res.Status = StatusApplied
		res.AppliedAt = &record.AppliedAt
	case utils.IsAlreadyApplied(err):
		// Another runner won the race; treat it like any recorded migration
		res.AlreadyApplied = true
		res.Status = StatusAlreadyApplied
	case utils.IsMigrationFailed(err):
		res.Status = StatusFailed
		res.Err = err
		res.Duration = r.now().Sub(start)
		return res, nil
	default:
		res.Status = StatusFailed
		res.Err = err
		res.Duration = r.now().Sub(start)
		return res, err
	}

	final := StatusVerified
	if res.AlreadyApplied {
		final = StatusAlreadyApplied
	}
	if err := r.verify(ctx, unit, &res, "", final); err != nil {
		return res, err
	}
	res.Duration = r.now().Sub(start)
	return res, nil
}

// checkApplied compares a recorded migration with its source and the live
// schema. ok is the status used when nothing drifted.
func (r *Runner) checkApplied(ctx context.Context, unit migration.Unit, record models.AppliedRecord, ok Status) (Result, error) {
	appliedAt := record.AppliedAt
	res := Result{
		Version:        unit.Version,
		Name:           unit.Name,
		AlreadyApplied: true,
		Checksum:       record.Checksum,
		AppliedAt:      &appliedAt,
	}
	start := r.now()

	var checksumDrift string
	if !record.ChecksumMatches(unit.Checksum()) {
		checksumDrift = fmt.Sprintf("checksum recorded %s, current %s", shortChecksum(record.Checksum), shortChecksum(unit.Checksum()))
	}

	if err := r.verify(ctx, unit, &res, checksumDrift, ok); err != nil {
		return res, err
	}
	res.Duration = r.now().Sub(start)
	return res, nil
}

// verify fills in the verification outcome. A non-empty checksumDrift marks
// the result drifted even when the schema matches. Verified is true only
// when nothing drifted.
//
// A lost connection or a cancelled context is returned and ends the run.
// Any other catalog read failure marks just this migration failed.
func (r *Runner) verify(ctx context.Context, unit migration.Unit, res *Result, checksumDrift string, ok Status) error {
	prior := res.Status
	res.Status = StatusVerifying

	vr, err := r.verifier.Verify(ctx, unit.Version, unit.Expect)
	if err != nil {
		res.Err = err
		if utils.IsConnectionError(err) || ctx.Err() != nil {
			res.Status = prior
			if res.Status == "" {
				res.Status = StatusFailed
			}
			return err
		}
		res.Status = StatusFailed
		r.logger.Error().Err(err).Str("version", unit.Version).Msg("Could not verify migration")
		return nil
	}
	res.Verification = vr

	if vr.Matched && checksumDrift == "" {
		res.Verified = true
		res.Status = ok
		return nil
	}

	reason := "schema does not match"
	var details []string
	if checksumDrift != "" {
		reason = "checksum mismatch"
		details = append(details, checksumDrift)
	}
	details = append(details, vr.Missing...)

	res.Verified = false
	res.Status = StatusDrifted
	res.Err = &utils.DriftError{Version: unit.Version, Reason: reason, Details: details}
	r.logger.Warn().Str("version", unit.Version).Strs("details", details).Msg("Migration drifted")
	return nil
}

func (r *Runner) add(report *Report, res Result) {
	report.Results = append(report.Results, res)

	event := r.logger.Info()
	if res.Failed() {
		event = r.logger.Error().Err(res.Err)
	}
	event.Str("version", res.Version).Str("status", string(res.Status)).Dur("duration", res.Duration).Msg("Migration finished")

	if r.observer != nil {
		r.observer.ObserveResult(res.Version, string(res.Status), res.Duration)
	}
}

// abort records the in-flight result and closes the report
func (r *Runner) abort(report *Report, res Result, err error) (*Report, error) {
	if res.Version != "" {
		if res.Err == nil {
			res.Err = err
		}
		if res.Status == "" || res.Status == StatusApplying || res.Status == StatusVerifying {
			res.Status = StatusFailed
		}
		r.add(report, res)
	}
	report.Aborted = true
	r.logger.Error().Err(err).Msg("Migration run aborted")
	r.finish(report)
	return report, err
}

func (r *Runner) finish(report *Report) {
	report.FinishedAt = r.now()
	if r.observer != nil {
		r.observer.ObserveRun(string(report.Mode), report.OK(), report.FinishedAt, report.Duration())
	}

	counts := report.Counts()
	r.logger.Info().
		Str("mode", string(report.Mode)).
		Bool("ok", report.OK()).
		Int("verified", counts[StatusVerified]+counts[StatusAlreadyApplied]).
		Int("failed", counts[StatusFailed]).
		Int("drifted", counts[StatusDrifted]).
		Int("skipped", counts[StatusSkipped]).
		Int("pending", counts[StatusPending]).
		Dur("duration", report.Duration()).
		Msg("Migration run finished")
}

// unknownVersions lists recorded versions that no declared migration has
func (r *Runner) unknownVersions(units []migration.Unit, applied map[string]models.AppliedRecord) []string {
	declared := make(map[string]bool, len(units))
	for _, u := range units {
		declared[u.Version] = true
	}

	var unknown []string
	for version := range applied {
		if !declared[version] {
			unknown = append(unknown, version)
		}
	}
	sort.Slice(unknown, func(i, j int) bool {
		return migration.CompareVersions(unknown[i], unknown[j]) < 0
	})

	for _, version := range unknown {
		r.logger.Warn().Str("version", version).Msg("Recorded migration is not declared in the manifest")
	}
	return unknown
}

func appliedSet(applied map[string]models.AppliedRecord) map[string]bool {
	set := make(map[string]bool, len(applied))
	for version := range applied {
		set[version] = true
	}
	return set
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
