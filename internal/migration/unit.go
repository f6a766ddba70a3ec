// Package migration describes schema migration units and how they are loaded.
package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Unit is one immutable schema change. Version is the unique identity.
type Unit struct {
	Version    string
	Name       string
	ForwardSQL string
	DownSQL    string
	DependsOn  []string
	Expect     Shape
}

// Shape describes the schema objects a migration is expected to leave behind
type Shape struct {
	Tables  []string `yaml:"tables,omitempty" json:"tables,omitempty"`
	Columns []Column `yaml:"columns,omitempty" json:"columns,omitempty"`
	Indexes []Index  `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// Column is a column expected on a table. Type is optional.
type Column struct {
	Table string `yaml:"table" json:"table"`
	Name  string `yaml:"name" json:"name"`
	Type  string `yaml:"type,omitempty" json:"type,omitempty"`
}

// Index is a named index expected on a table
type Index struct {
	Table string `yaml:"table" json:"table"`
	Name  string `yaml:"name" json:"name"`
}

// Checksum returns the hex SHA-256 of the forward SQL
func (u Unit) Checksum() string {
	return Checksum(u.ForwardSQL)
}

// Checksum returns the lowercase hex SHA-256 digest of sql
func Checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// HasDown reports whether the unit ships down SQL
func (u Unit) HasDown() bool {
	return strings.TrimSpace(u.DownSQL) != ""
}

func (u Unit) String() string {
	if u.Name == "" {
		return u.Version
	}
	return u.Version + "_" + u.Name
}

// IsEmpty reports whether nothing is expected
func (s Shape) IsEmpty() bool {
	return len(s.Tables) == 0 && len(s.Columns) == 0 && len(s.Indexes) == 0
}

func (c Column) String() string {
	return fmt.Sprintf("%s.%s", c.Table, c.Name)
}

func (i Index) String() string {
	return fmt.Sprintf("%s on %s", i.Name, i.Table)
}

// SortByVersion sorts units in natural version order
func SortByVersion(units []Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		return CompareVersions(units[i].Version, units[j].Version) < 0
	})
}

// CompareVersions orders versions naturally: runs of digits compare by
// numeric value, everything else byte by byte. "9" sorts before "10".
func CompareVersions(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if isDigit(a[i]) && isDigit(b[j]) {
			si, sj := i, j
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			if c := compareNumeric(a[si:i], b[sj:j]); c != 0 {
				return c
			}
			continue
		}
		if a[i] != b[j] {
			if a[i] < b[j] {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case len(a)-i < len(b)-j:
		return -1
	case len(a)-i > len(b)-j:
		return 1
	}
	// Equal under natural order, e.g. "010" and "10"; fall back to raw bytes
	return strings.Compare(a, b)
}

func compareNumeric(a, b string) int {
	ta := strings.TrimLeft(a, "0")
	tb := strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		if len(ta) < len(tb) {
			return -1
		}
		return 1
	}
	return strings.Compare(ta, tb)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
