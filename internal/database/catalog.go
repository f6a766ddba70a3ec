package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ksred/schemaguard/internal/utils"
)

// The gorm migrator's HasTable and HasIndex discard query errors and report
// false, which would turn a dropped connection into a missing object. These
// lookups run the same catalog queries and return the error.

// tableExists reports whether table exists. A "schema.table" name is looked
// up in that schema, anything else in the current one.
func tableExists(db *gorm.DB, table string) (bool, error) {
	var count int64
	var err error

	switch db.Dialector.Name() {
	case "postgres":
		schema, name := splitQualified(table)
		if schema == "" {
			err = db.Raw("SELECT count(*) FROM information_schema.tables WHERE table_schema = CURRENT_SCHEMA() AND table_name = ? AND table_type = 'BASE TABLE'",
				name).Scan(&count).Error
		} else {
			err = db.Raw("SELECT count(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ? AND table_type = 'BASE TABLE'",
				schema, name).Scan(&count).Error
		}
	case "sqlite":
		err = db.Raw("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&count).Error
	default:
		var tables []string
		tables, err = db.Migrator().GetTables()
		for _, t := range tables {
			if strings.EqualFold(t, table) {
				count++
			}
		}
	}

	if err != nil {
		return false, catalogError("look up table "+table, err)
	}
	return count > 0, nil
}

// indexExists reports whether an index named name exists on table
func indexExists(db *gorm.DB, table, name string) (bool, error) {
	var count int64
	var err error

	switch db.Dialector.Name() {
	case "postgres":
		schema, tbl := splitQualified(table)
		if schema == "" {
			err = db.Raw("SELECT count(*) FROM pg_indexes WHERE schemaname = CURRENT_SCHEMA() AND tablename = ? AND indexname = ?",
				tbl, name).Scan(&count).Error
		} else {
			err = db.Raw("SELECT count(*) FROM pg_indexes WHERE schemaname = ? AND tablename = ? AND indexname = ?",
				schema, tbl, name).Scan(&count).Error
		}
	case "sqlite":
		err = db.Raw("SELECT count(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND name = ?", table, name).Scan(&count).Error
	default:
		var indexes []gorm.Index
		indexes, err = db.Migrator().GetIndexes(table)
		for _, idx := range indexes {
			if strings.EqualFold(idx.Name(), name) {
				count++
			}
		}
	}

	if err != nil {
		return false, catalogError("look up index "+name, err)
	}
	return count > 0, nil
}

func catalogError(operation string, err error) error {
	if isConnectionError(err) {
		return utils.WrapConnectionError(operation, err)
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

func splitQualified(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i > 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
