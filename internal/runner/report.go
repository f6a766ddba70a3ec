package runner

import (
	"time"

	"github.com/ksred/schemaguard/internal/database"
)

// Status is where a migration ended up in a run
type Status string

const (
	StatusPending        Status = "pending"
	StatusApplying       Status = "applying"
	StatusApplied        Status = "applied"
	StatusFailed         Status = "failed"
	StatusVerifying      Status = "verifying"
	StatusVerified       Status = "verified"
	StatusDrifted        Status = "drifted"
	StatusSkipped        Status = "skipped"
	StatusAlreadyApplied Status = "already_applied"
)

// Mode names what produced a report
type Mode string

const (
	ModeRun   Mode = "run"
	ModeCheck Mode = "check"
)

// Result is the outcome for one migration. Verified means the checksum and
// the schema shape both matched; Verification.Matched covers the shape alone.
type Result struct {
	Version        string
	Name           string
	Status         Status
	Applied        bool
	Verified       bool
	AlreadyApplied bool
	BlockedBy      string
	Checksum       string
	AppliedAt      *time.Time
	Duration       time.Duration
	Verification   *database.VerificationResult
	Err            error
}

// Failed reports whether the result counts against the exit code
func (r Result) Failed() bool {
	switch r.Status {
	case StatusFailed, StatusDrifted, StatusSkipped:
		return true
	}
	return false
}

// Report collects the results of one run or check
type Report struct {
	Mode       Mode
	Results    []Result
	Unknown    []string
	StartedAt  time.Time
	FinishedAt time.Time
	// Aborted is set when a connection error stopped the run early
	Aborted bool
}

// Result returns the result for a version
func (r *Report) Result(version string) (Result, bool) {
	for _, res := range r.Results {
		if res.Version == version {
			return res, true
		}
	}
	return Result{}, false
}

// Counts returns the number of results per status
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// OK reports whether every migration ended applied and verified. In check
// mode a pending migration is also a failure.
func (r *Report) OK() bool {
	if r.Aborted {
		return false
	}
	for _, res := range r.Results {
		if res.Failed() {
			return false
		}
		if r.Mode == ModeCheck && res.Status == StatusPending {
			return false
		}
	}
	return true
}

// ExitCode is 0 when OK, 1 otherwise
func (r *Report) ExitCode() int {
	if r.OK() {
		return 0
	}
	return 1
}

// Duration is how long the run took
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
