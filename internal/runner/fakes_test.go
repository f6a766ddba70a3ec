package runner

import (
	"context"
	"time"

	"github.com/ksred/schemaguard/internal/database"
	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/models"
)

type fakeStore struct {
	applied    map[string]models.AppliedRecord
	ensureErr  error
	appliedErr error
	ensured    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{applied: make(map[string]models.AppliedRecord)}
}

func (s *fakeStore) Ensure(ctx context.Context) error {
	s.ensured++
	return s.ensureErr
}

func (s *fakeStore) Applied(ctx context.Context) (map[string]models.AppliedRecord, error) {
	if s.appliedErr != nil {
		return nil, s.appliedErr
	}
	out := make(map[string]models.AppliedRecord, len(s.applied))
	for k, v := range s.applied {
		out[k] = v
	}
	return out, nil
}

type fakeExecutor struct {
	store *fakeStore
	errs  map[string]error
	calls []string
}

func (e *fakeExecutor) Apply(ctx context.Context, unit migration.Unit) (*models.AppliedRecord, error) {
	e.calls = append(e.calls, unit.Version)
	if err := e.errs[unit.Version]; err != nil {
		return nil, err
	}
	record := models.AppliedRecord{
		Version:   unit.Version,
		Name:      unit.Name,
		Checksum:  unit.Checksum(),
		AppliedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	e.store.applied[unit.Version] = record
	return &record, nil
}

type fakeVerifier struct {
	missing map[string][]string
	errs    map[string]error
	calls   []string
}

func (v *fakeVerifier) Verify(ctx context.Context, version string, expected migration.Shape) (*database.VerificationResult, error) {
	v.calls = append(v.calls, version)
	if err := v.errs[version]; err != nil {
		return nil, err
	}
	missing := v.missing[version]
	return &database.VerificationResult{
		Version:  version,
		Expected: expected,
		Missing:  missing,
		Matched:  len(missing) == 0,
	}, nil
}

type fakeObserver struct {
	results map[string]string
	runs    []bool
}

func (o *fakeObserver) ObserveResult(version string, status string, duration time.Duration) {
	if o.results == nil {
		o.results = make(map[string]string)
	}
	o.results[version] = status
}

func (o *fakeObserver) ObserveRun(mode string, ok bool, finishedAt time.Time, duration time.Duration) {
	o.runs = append(o.runs, ok)
}
