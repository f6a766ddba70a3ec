package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/utils"
)

// VerificationResult compares the expected shape of a migration with what
// the live catalog shows
type VerificationResult struct {
	Version  string          `json:"version"`
	Expected migration.Shape `json:"expected"`
	Observed migration.Shape `json:"observed"`
	Missing  []string        `json:"missing,omitempty"`
	Matched  bool            `json:"matched"`
}

// Verifier inspects the live schema. It never writes.
type Verifier struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(db *gorm.DB, logger zerolog.Logger) *Verifier {
	return &Verifier{
		db:     db,
		logger: utils.Component(logger, "verifier"),
	}
}

// Verify checks every table, column and index in expected. An empty shape
// always matches. Only catalog read failures are returned as errors.
func (v *Verifier) Verify(ctx context.Context, version string, expected migration.Shape) (*VerificationResult, error) {
	result := &VerificationResult{
		Version:  version,
		Expected: expected,
	}
	db := v.db.WithContext(ctx)
	m := db.Migrator()

	tables := make(map[string]bool)
	hasTable := func(table string) (bool, error) {
		exists, seen := tables[table]
		if !seen {
			var err error
			if exists, err = tableExists(db, table); err != nil {
				return false, err
			}
			tables[table] = exists
		}
		return exists, nil
	}

	for _, table := range expected.Tables {
		exists, err := hasTable(table)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Observed.Tables = append(result.Observed.Tables, table)
		} else {
			result.Missing = append(result.Missing, "table "+table)
		}
	}

	columnTypes := make(map[string]map[string]string)
	for _, col := range expected.Columns {
		exists, err := hasTable(col.Table)
		if err != nil {
			return nil, err
		}
		if !exists {
			result.Missing = append(result.Missing, "column "+col.String())
			continue
		}

		observed, ok := columnTypes[col.Table]
		if !ok {
			var err error
			observed, err = v.readColumns(m, col.Table)
			if err != nil {
				return nil, err
			}
			columnTypes[col.Table] = observed
		}

		actualType, exists := observed[strings.ToLower(col.Name)]
		if !exists {
			result.Missing = append(result.Missing, "column "+col.String())
			continue
		}
		if col.Type != "" && !typesMatch(col.Type, actualType) {
			result.Missing = append(result.Missing,
				fmt.Sprintf("column %s has type %s, expected %s", col.String(), actualType, col.Type))
			continue
		}
		result.Observed.Columns = append(result.Observed.Columns, migration.Column{
			Table: col.Table,
			Name:  col.Name,
			Type:  actualType,
		})
	}

	for _, idx := range expected.Indexes {
		exists, err := hasTable(idx.Table)
		if err != nil {
			return nil, err
		}
		if exists {
			if exists, err = indexExists(db, idx.Table, idx.Name); err != nil {
				return nil, err
			}
		}
		if exists {
			result.Observed.Indexes = append(result.Observed.Indexes, idx)
		} else {
			result.Missing = append(result.Missing, "index "+idx.String())
		}
	}

	result.Matched = len(result.Missing) == 0

	v.logger.Debug().
		Str("version", version).
		Bool("matched", result.Matched).
		Strs("missing", result.Missing).
		Msg("Verified schema shape")

	return result, nil
}

// VerifyUnit verifies the unit's declared shape
func (v *Verifier) VerifyUnit(ctx context.Context, unit migration.Unit) (*VerificationResult, error) {
	return v.Verify(ctx, unit.Version, unit.Expect)
}

// readColumns returns lower-cased column name to database type name
func (v *Verifier) readColumns(m gorm.Migrator, table string) (map[string]string, error) {
	cols, err := m.ColumnTypes(table)
	if err != nil {
		return nil, catalogError("read columns of "+table, err)
	}

	out := make(map[string]string, len(cols))
	for _, c := range cols {
		out[strings.ToLower(c.Name())] = c.DatabaseTypeName()
	}
	return out, nil
}

// typeAliases folds SQL standard spellings onto the short names the
// postgres catalog reports
var typeAliases = map[string]string{
	"boolean":                     "bool",
	"integer":                     "int4",
	"int":                         "int4",
	"serial":                      "int4",
	"smallint":                    "int2",
	"bigint":                      "int8",
	"bigserial":                   "int8",
	"real":                        "float4",
	"double precision":            "float8",
	"character varying":           "varchar",
	"character":                   "bpchar",
	"char":                        "bpchar",
	"decimal":                     "numeric",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"time without time zone":      "time",
	"time with time zone":         "timetz",
}

// normalizeType lower-cases a type name and strips any length or precision
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		if j := strings.IndexByte(t[i:], ')'); j >= 0 {
			t = t[:i] + " " + t[i+j+1:]
		} else {
			t = t[:i]
		}
	}
	t = strings.Join(strings.Fields(t), " ")
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}

func typesMatch(expected, actual string) bool {
	return normalizeType(expected) == normalizeType(actual)
}
