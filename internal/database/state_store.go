package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schemaguard/internal/models"
	"github.com/ksred/schemaguard/internal/utils"
)

// StateStore reads and writes the schema_migrations table
type StateStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStateStore creates a new state store
func NewStateStore(db *gorm.DB, logger zerolog.Logger) *StateStore {
	return &StateStore{
		db:     db,
		logger: utils.Component(logger, "state_store"),
	}
}

// Ensure creates the schema_migrations table if it does not exist
func (s *StateStore) Ensure(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.AppliedRecord{}); err != nil {
		if isConnectionError(err) {
			return utils.WrapConnectionError("ensure state table", err)
		}
		return fmt.Errorf("failed to create state table: %w", err)
	}
	return nil
}

// Exists reports whether the schema_migrations table exists. It never creates it.
func (s *StateStore) Exists(ctx context.Context) (bool, error) {
	return tableExists(s.db.WithContext(ctx), models.AppliedRecord{}.TableName())
}

// List returns every applied record, oldest first. A missing table reads as
// empty; a failed lookup is an error.
func (s *StateStore) List(ctx context.Context) ([]models.AppliedRecord, error) {
	exists, err := s.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.logger.Debug().Msg("State table does not exist yet")
		return []models.AppliedRecord{}, nil
	}

	var records []models.AppliedRecord
	if err := s.db.WithContext(ctx).Order("applied_at ASC, id ASC").Find(&records).Error; err != nil {
		if isConnectionError(err) {
			return nil, utils.WrapConnectionError("read state", err)
		}
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	return records, nil
}

// Applied returns the applied records keyed by version
func (s *StateStore) Applied(ctx context.Context) (map[string]models.AppliedRecord, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	applied := make(map[string]models.AppliedRecord, len(records))
	for _, r := range records {
		applied[r.Version] = r
	}
	return applied, nil
}

// Get returns the record for a version, or nil when it was never applied
func (s *StateStore) Get(ctx context.Context, version string) (*models.AppliedRecord, error) {
	exists, err := s.Exists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	var record models.AppliedRecord
	err = s.db.WithContext(ctx).Where("version = ?", version).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		if isConnectionError(err) {
			return nil, utils.WrapConnectionError("read state", err)
		}
		return nil, fmt.Errorf("failed to read migration %s: %w", version, err)
	}
	return &record, nil
}

// Record inserts an applied record using tx, which must be the transaction
// that ran the migration's SQL. A duplicate version returns ErrAlreadyApplied.
func (s *StateStore) Record(tx *gorm.DB, record *models.AppliedRecord) error {
	if err := tx.Create(record).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("migration %s: %w", record.Version, utils.ErrAlreadyApplied)
		}
		return fmt.Errorf("failed to record migration %s: %w", record.Version, err)
	}
	return nil
}
