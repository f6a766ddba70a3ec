// Package report renders run and check results for people and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/runner"
)

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	failColor = color.New(color.FgRed, color.Bold).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	dimColor  = color.New(color.Faint).SprintFunc()
)

// WriteText prints a human readable summary followed by one line per migration
func WriteText(w io.Writer, rep *runner.Report) error {
	counts := rep.Counts()

	header := fmt.Sprintf("schemaguard %s: %d verified, %d applied, %d failed, %d drifted, %d skipped",
		rep.Mode,
		counts[runner.StatusVerified]+counts[runner.StatusAlreadyApplied],
		appliedCount(rep),
		counts[runner.StatusFailed],
		counts[runner.StatusDrifted],
		counts[runner.StatusSkipped],
	)
	if n := counts[runner.StatusPending]; n > 0 {
		header += fmt.Sprintf(", %d pending", n)
	}
	header += fmt.Sprintf(" (%s)", rep.Duration().Round(time.Millisecond))

	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, res := range rep.Results {
		name := res.Version
		if res.Name != "" {
			name += " " + res.Name
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", marker(res.Status), name, paintStatus(res.Status), detail(res))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, version := range rep.Unknown {
		fmt.Fprintf(w, "%s recorded migration %s is not in the manifest\n", warnColor("warning:"), version)
	}
	if rep.Aborted {
		fmt.Fprintln(w, failColor("run aborted before all migrations were processed"))
	}
	return nil
}

// WritePlan prints the migrations a run would apply
func WritePlan(w io.Writer, pending []migration.Unit) error {
	if len(pending) == 0 {
		_, err := fmt.Fprintln(w, okColor("nothing to apply"))
		return err
	}

	if _, err := fmt.Fprintf(w, "%d migration(s) to apply:\n", len(pending)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, unit := range pending {
		deps := "-"
		if len(unit.DependsOn) > 0 {
			deps = strings.Join(unit.DependsOn, ",")
		}
		fmt.Fprintf(tw, "  %d.\t%s\t%s\tdepends on %s\n", i+1, unit.Version, unit.Name, deps)
	}
	return tw.Flush()
}

func appliedCount(rep *runner.Report) int {
	n := 0
	for _, res := range rep.Results {
		if res.Applied {
			n++
		}
	}
	return n
}

func marker(status runner.Status) string {
	switch status {
	case runner.StatusVerified, runner.StatusAlreadyApplied:
		return okColor("ok")
	case runner.StatusFailed, runner.StatusDrifted:
		return failColor("!!")
	case runner.StatusSkipped:
		return warnColor("--")
	default:
		return dimColor("..")
	}
}

func paintStatus(status runner.Status) string {
	s := string(status)
	switch status {
	case runner.StatusVerified, runner.StatusAlreadyApplied:
		return okColor(s)
	case runner.StatusFailed, runner.StatusDrifted:
		return failColor(s)
	case runner.StatusSkipped:
		return warnColor(s)
	default:
		return s
	}
}

func detail(res runner.Result) string {
	switch {
	case res.Status == runner.StatusSkipped:
		return "blocked by " + res.BlockedBy
	case res.Err != nil:
		return res.Err.Error()
	case res.Applied:
		return dimColor("applied in " + res.Duration.Round(time.Millisecond).String())
	case res.AppliedAt != nil:
		return dimColor("applied " + res.AppliedAt.UTC().Format(time.RFC3339))
	default:
		return ""
	}
}

type jsonResult struct {
	Version        string     `json:"version"`
	Name           string     `json:"name,omitempty"`
	Status         string     `json:"status"`
	Applied        bool       `json:"applied"`
	Verified       bool       `json:"verified"`
	AlreadyApplied bool       `json:"already_applied"`
	BlockedBy      string     `json:"blocked_by,omitempty"`
	Checksum       string     `json:"checksum,omitempty"`
	AppliedAt      *time.Time `json:"applied_at,omitempty"`
	DurationMs     int64      `json:"duration_ms"`
	Missing        []string   `json:"missing,omitempty"`
	Error          string     `json:"error,omitempty"`
}

type jsonReport struct {
	Mode       string         `json:"mode"`
	OK         bool           `json:"ok"`
	ExitCode   int            `json:"exit_code"`
	Aborted    bool           `json:"aborted,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMs int64          `json:"duration_ms"`
	Counts     map[string]int `json:"counts"`
	Unknown    []string       `json:"unknown_versions,omitempty"`
	Migrations []jsonResult   `json:"migrations"`
}

// WriteJSON writes the report as one indented JSON document
func WriteJSON(w io.Writer, rep *runner.Report) error {
	out := jsonReport{
		Mode:       string(rep.Mode),
		OK:         rep.OK(),
		ExitCode:   rep.ExitCode(),
		Aborted:    rep.Aborted,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		DurationMs: rep.Duration().Milliseconds(),
		Counts:     make(map[string]int),
		Unknown:    rep.Unknown,
		Migrations: make([]jsonResult, 0, len(rep.Results)),
	}
	for status, n := range rep.Counts() {
		out.Counts[string(status)] = n
	}

	for _, res := range rep.Results {
		jr := jsonResult{
			Version:        res.Version,
			Name:           res.Name,
			Status:         string(res.Status),
			Applied:        res.Applied,
			Verified:       res.Verified,
			AlreadyApplied: res.AlreadyApplied,
			BlockedBy:      res.BlockedBy,
			Checksum:       res.Checksum,
			AppliedAt:      res.AppliedAt,
			DurationMs:     res.Duration.Milliseconds(),
		}
		if res.Verification != nil {
			jr.Missing = res.Verification.Missing
		}
		if res.Err != nil {
			jr.Error = res.Err.Error()
		}
		out.Migrations = append(out.Migrations, jr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
