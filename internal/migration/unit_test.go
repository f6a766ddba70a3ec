package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	// sha256("") is well known
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(""))

	a := Unit{Version: "0010", ForwardSQL: "CREATE TABLE t (c INT);"}
	b := Unit{Version: "0010", ForwardSQL: "CREATE TABLE t (c INT); "}

	assert.Len(t, a.Checksum(), 64)
	assert.Equal(t, a.Checksum(), Checksum(a.ForwardSQL))
	assert.NotEqual(t, a.Checksum(), b.Checksum(), "whitespace is part of the checksum")
}

func TestUnit_HasDown(t *testing.T) {
	assert.False(t, Unit{}.HasDown())
	assert.False(t, Unit{DownSQL: "  \n"}.HasDown())
	assert.True(t, Unit{DownSQL: "DROP TABLE t;"}.HasDown())
}

func TestUnit_String(t *testing.T) {
	assert.Equal(t, "0010", Unit{Version: "0010"}.String())
	assert.Equal(t, "0010_add_inventory_tracking", Unit{Version: "0010", Name: "add_inventory_tracking"}.String())
}

func TestShape_IsEmpty(t *testing.T) {
	assert.True(t, Shape{}.IsEmpty())
	assert.False(t, Shape{Tables: []string{"t"}}.IsEmpty())
	assert.False(t, Shape{Columns: []Column{{Table: "t", Name: "c"}}}.IsEmpty())
	assert.False(t, Shape{Indexes: []Index{{Table: "t", Name: "idx"}}}.IsEmpty())
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0010", "0011", -1},
		{"0011", "0010", 1},
		{"9", "10", -1},
		{"v2", "v10", -1},
		{"20240101_001", "20240101_002", -1},
		{"20240101_002", "20231231_999", 1},
		{"abc", "abd", -1},
		{"a", "a1", -1},
		{"same", "same", 0},
		{"010", "10", -1},
		{"10", "010", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b))
		})
	}
}

func TestSortByVersion(t *testing.T) {
	units := []Unit{
		{Version: "10"},
		{Version: "2"},
		{Version: "1"},
		{Version: "001a"},
	}

	SortByVersion(units)

	var got []string
	for _, u := range units {
		got = append(got, u.Version)
	}
	assert.Equal(t, []string{"1", "001a", "2", "10"}, got)
}
