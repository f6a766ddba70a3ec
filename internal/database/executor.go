package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/models"
	"github.com/ksred/schemaguard/internal/utils"
)

// ExecutorOptions bounds how long a single migration may run.
// Zero values leave the server defaults in place.
type ExecutorOptions struct {
	// Timeout caps the whole transaction, client side
	Timeout time.Duration
	// StatementTimeout and LockTimeout are applied with SET LOCAL on postgres
	StatementTimeout time.Duration
	LockTimeout      time.Duration
}

// Executor applies one migration per transaction and records it in the same
// transaction, so a migration is either fully applied and recorded or not at all.
type Executor struct {
	db     *gorm.DB
	store  *StateStore
	opts   ExecutorOptions
	logger zerolog.Logger
	now    func() time.Time
}

// NewExecutor creates a new executor
func NewExecutor(db *gorm.DB, store *StateStore, opts ExecutorOptions, logger zerolog.Logger) *Executor {
	return &Executor{
		db:     db,
		store:  store,
		opts:   opts,
		logger: utils.Component(logger, "executor"),
		now:    time.Now,
	}
}

// Apply runs the unit's forward SQL and inserts its applied record.
//
// Errors:
//   - ErrAlreadyApplied when another runner recorded the version first
//   - ConnectionError when the database became unreachable
//   - MigrationFailedError for anything else; the transaction was rolled back
func (e *Executor) Apply(ctx context.Context, unit migration.Unit) (*models.AppliedRecord, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	log := e.logger.With().Str("version", unit.Version).Str("name", unit.Name).Logger()
	log.Info().Msg("Applying migration")

	start := e.now()
	var record models.AppliedRecord

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.setLocalTimeouts(tx); err != nil {
			return err
		}

		if err := tx.Exec(unit.ForwardSQL).Error; err != nil {
			return err
		}

		record = models.AppliedRecord{
			Version:    unit.Version,
			Name:       unit.Name,
			Checksum:   unit.Checksum(),
			AppliedAt:  e.now().UTC(),
			DurationMs: e.now().Sub(start).Milliseconds(),
		}
		return e.store.Record(tx, &record)
	})

	duration := e.now().Sub(start)
	switch {
	case err == nil:
		log.Info().Dur("duration", duration).Msg("Migration applied")
		return &record, nil
	case errors.Is(err, utils.ErrAlreadyApplied):
		log.Warn().Msg("Migration was recorded by another runner, rolled back")
		return nil, err
	case errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled):
		return nil, fmt.Errorf("migration %s interrupted: %w", unit.Version, err)
	case isConnectionError(err):
		log.Error().Err(err).Msg("Lost connection while applying migration")
		return nil, utils.WrapConnectionError("apply "+unit.Version, err)
	default:
		log.Error().Err(err).Dur("duration", duration).Msg("Migration failed, rolled back")
		return nil, utils.WrapMigrationFailed(unit.Version, err)
	}
}

// setLocalTimeouts scopes server side timeouts to the current transaction
func (e *Executor) setLocalTimeouts(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if ms := e.opts.StatementTimeout.Milliseconds(); ms > 0 {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)).Error; err != nil {
			return err
		}
	}
	if ms := e.opts.LockTimeout.Milliseconds(); ms > 0 {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)).Error; err != nil {
			return err
		}
	}
	return nil
}
