package models

import (
	"time"
)

// AppliedRecord is the row written, inside the migration's own transaction,
// once a migration has been applied. Rows are never updated or deleted.
type AppliedRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Version    string    `gorm:"uniqueIndex;not null;size:255" json:"version"`
	Name       string    `gorm:"not null;default:''" json:"name"`
	Checksum   string    `gorm:"not null;size:64" json:"checksum"`
	AppliedAt  time.Time `gorm:"not null" json:"applied_at"`
	DurationMs int64     `gorm:"not null;default:0" json:"duration_ms"`
}

// TableName ensures consistent table naming
func (AppliedRecord) TableName() string {
	return "schema_migrations"
}

// ChecksumMatches reports whether the stored checksum equals the given one
func (r AppliedRecord) ChecksumMatches(checksum string) bool {
	return r.Checksum == checksum
}
