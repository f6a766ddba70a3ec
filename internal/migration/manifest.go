package migration

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/ksred/schemaguard/internal/utils"
)

// DefaultManifest is the manifest file name looked up in a migrations directory
const DefaultManifest = "migrations.yaml"

// Manifest is the on-disk description of a set of migrations
type Manifest struct {
	Migrations []Entry `yaml:"migrations"`
}

// Entry is one migration in a manifest. SQL comes either from a file
// relative to the manifest (Up/Down) or inline (UpSQL/DownSQL).
type Entry struct {
	Version   string   `yaml:"version"`
	Name      string   `yaml:"name"`
	Up        string   `yaml:"up,omitempty"`
	UpSQL     string   `yaml:"up_sql,omitempty"`
	Down      string   `yaml:"down,omitempty"`
	DownSQL   string   `yaml:"down_sql,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Verify    Shape    `yaml:"verify,omitempty"`
}

// LoadDir reads the manifest named name from fsys and resolves every entry
// into a Unit. All validation problems are reported together.
func LoadDir(fsys fs.FS, name string) ([]Unit, error) {
	if name == "" {
		name = DefaultManifest
	}

	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", name, err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	return manifest.Units(fsys)
}

// ParseManifest decodes manifest YAML, rejecting unknown keys
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, utils.WrapValidationError("migrations", "manifest is empty")
		}
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

// Units resolves the manifest entries into units, reading SQL files from fsys
func (m *Manifest) Units(fsys fs.FS) ([]Unit, error) {
	var result *multierror.Error
	units := make([]Unit, 0, len(m.Migrations))
	seen := make(map[string]bool, len(m.Migrations))

	for i, entry := range m.Migrations {
		field := fmt.Sprintf("migrations[%d]", i)
		if entry.Version != "" {
			field = fmt.Sprintf("migrations[%s]", entry.Version)
		}

		if errs := entry.validate(field); len(errs) > 0 {
			result = multierror.Append(result, errs...)
			continue
		}
		if seen[entry.Version] {
			result = multierror.Append(result, &utils.DuplicateMigrationError{Version: entry.Version})
			continue
		}
		seen[entry.Version] = true

		up, err := readSQL(fsys, entry.Up, entry.UpSQL)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: up: %w", field, err))
			continue
		}
		if strings.TrimSpace(up) == "" {
			result = multierror.Append(result, utils.InvalidFieldError(field+".up", "forward SQL is empty"))
			continue
		}
		down, err := readSQL(fsys, entry.Down, entry.DownSQL)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: down: %w", field, err))
			continue
		}

		units = append(units, Unit{
			Version:    entry.Version,
			Name:       entry.Name,
			ForwardSQL: up,
			DownSQL:    down,
			DependsOn:  dedupe(entry.DependsOn),
			Expect:     entry.Verify,
		})
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return units, nil
}

func (e Entry) validate(field string) []error {
	var errs []error
	if strings.TrimSpace(e.Version) == "" {
		errs = append(errs, utils.RequiredFieldError(field+".version"))
	}
	if e.Up == "" && e.UpSQL == "" {
		errs = append(errs, utils.InvalidFieldError(field+".up", "one of up or up_sql is required"))
	}
	if e.Up != "" && e.UpSQL != "" {
		errs = append(errs, utils.InvalidFieldError(field+".up", "up and up_sql are mutually exclusive"))
	}
	if e.Down != "" && e.DownSQL != "" {
		errs = append(errs, utils.InvalidFieldError(field+".down", "down and down_sql are mutually exclusive"))
	}
	for _, dep := range e.DependsOn {
		if dep == e.Version {
			errs = append(errs, utils.InvalidFieldError(field+".depends_on", "a migration cannot depend on itself"))
		}
	}
	for _, table := range e.Verify.Tables {
		if table == "" {
			errs = append(errs, utils.InvalidFieldError(field+".verify.tables", "table name is empty"))
		}
	}
	for _, col := range e.Verify.Columns {
		if col.Table == "" || col.Name == "" {
			errs = append(errs, utils.InvalidFieldError(field+".verify.columns", "table and name are required"))
		}
	}
	for _, idx := range e.Verify.Indexes {
		if idx.Table == "" || idx.Name == "" {
			errs = append(errs, utils.InvalidFieldError(field+".verify.indexes", "table and name are required"))
		}
	}
	return errs
}

func readSQL(fsys fs.FS, path, inline string) (string, error) {
	if path == "" {
		return inline, nil
	}
	if fsys == nil {
		return "", fmt.Errorf("no filesystem to read %s from", path)
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
