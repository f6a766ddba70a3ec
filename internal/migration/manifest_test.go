package migration

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/schemaguard/internal/utils"
)

const inventoryManifest = `
migrations:
  - version: "0010"
    name: add_inventory_tracking
    up: 0010_add_inventory_tracking.up.sql
    down: 0010_add_inventory_tracking.down.sql
    verify:
      columns:
        - table: vendor_products
          name: track_inventory
          type: boolean
        - table: vendor_products
          name: available_quantity
  - version: "0011"
    name: add_vendor_availability
    up_sql: |
      CREATE TABLE IF NOT EXISTS vendor_availability (id VARCHAR PRIMARY KEY);
    depends_on: ["0010", "0010"]
    verify:
      tables: [vendor_availability]
      indexes:
        - table: vendor_availability
          name: idx_vendor_availability_date
`

func TestLoadDir(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations.yaml":                      {Data: []byte(inventoryManifest)},
		"0010_add_inventory_tracking.up.sql":   {Data: []byte("ALTER TABLE vendor_products ADD COLUMN IF NOT EXISTS track_inventory BOOLEAN;")},
		"0010_add_inventory_tracking.down.sql": {Data: []byte("ALTER TABLE vendor_products DROP COLUMN track_inventory;")},
	}

	units, err := LoadDir(fsys, "")
	require.NoError(t, err)
	require.Len(t, units, 2)

	first := units[0]
	assert.Equal(t, "0010", first.Version)
	assert.Equal(t, "add_inventory_tracking", first.Name)
	assert.Contains(t, first.ForwardSQL, "ADD COLUMN IF NOT EXISTS track_inventory")
	assert.True(t, first.HasDown())
	assert.Empty(t, first.DependsOn)
	require.Len(t, first.Expect.Columns, 2)
	assert.Equal(t, Column{Table: "vendor_products", Name: "track_inventory", Type: "boolean"}, first.Expect.Columns[0])

	second := units[1]
	assert.Equal(t, "0011", second.Version)
	assert.Contains(t, second.ForwardSQL, "CREATE TABLE IF NOT EXISTS vendor_availability")
	assert.False(t, second.HasDown())
	assert.Equal(t, []string{"0010"}, second.DependsOn, "duplicate dependencies are collapsed")
	assert.Equal(t, []string{"vendor_availability"}, second.Expect.Tables)
	assert.Equal(t, []Index{{Table: "vendor_availability", Name: "idx_vendor_availability_date"}}, second.Expect.Indexes)
}

func TestLoadDir_MissingManifest(t *testing.T) {
	_, err := LoadDir(fstest.MapFS{}, "custom.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read manifest custom.yaml")
}

func TestLoadDir_MissingSQLFile(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations.yaml": {Data: []byte(`
migrations:
  - version: "0001"
    up: missing.sql
`)},
	}

	_, err := LoadDir(fsys, "migrations.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrations[0001]: up")
}

func TestParseManifest(t *testing.T) {
	t.Run("Empty document", func(t *testing.T) {
		_, err := ParseManifest([]byte(""))
		require.Error(t, err)
		assert.True(t, utils.IsValidationError(err))
	})

	t.Run("Unknown keys are rejected", func(t *testing.T) {
		_, err := ParseManifest([]byte(`
migrations:
  - version: "0001"
    up_sql: SELECT 1
    dependson: ["0000"]
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse manifest")
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		_, err := ParseManifest([]byte("migrations: [unterminated"))
		require.Error(t, err)
	})
}

func TestManifest_UnitsValidation(t *testing.T) {
	manifest := &Manifest{Migrations: []Entry{
		{Version: "", UpSQL: "SELECT 1"},
		{Version: "0002"},
		{Version: "0003", Up: "a.sql", UpSQL: "SELECT 1"},
		{Version: "0004", UpSQL: "SELECT 1", DependsOn: []string{"0004"}},
		{Version: "0005", UpSQL: "   "},
		{Version: "0006", UpSQL: "SELECT 1", Verify: Shape{Columns: []Column{{Table: "t"}}}},
		{Version: "0007", UpSQL: "SELECT 1"},
		{Version: "0007", UpSQL: "SELECT 2"},
	}}

	units, err := manifest.Units(fstest.MapFS{})
	require.Error(t, err)
	assert.Nil(t, units)

	msg := err.Error()
	assert.Contains(t, msg, "migrations[0].version")
	assert.Contains(t, msg, "one of up or up_sql is required")
	assert.Contains(t, msg, "up and up_sql are mutually exclusive")
	assert.Contains(t, msg, "a migration cannot depend on itself")
	assert.Contains(t, msg, "forward SQL is empty")
	assert.Contains(t, msg, "migrations[0006].verify.columns")
	assert.Contains(t, msg, "migration '0007' is declared more than once")
}

func TestManifest_UnitsKeepsOrder(t *testing.T) {
	manifest := &Manifest{Migrations: []Entry{
		{Version: "0002", UpSQL: "SELECT 2"},
		{Version: "0001", UpSQL: "SELECT 1"},
	}}

	units, err := manifest.Units(nil)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "0002", units[0].Version)
	assert.Equal(t, "0001", units[1].Version)
}
