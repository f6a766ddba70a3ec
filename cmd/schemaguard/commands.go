package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/report"
	"github.com/ksred/schemaguard/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply pending migrations and verify every migration",
	Long: `Apply every pending migration in dependency order, each in its own
transaction, then verify the schema it promised. Migrations applied by an
earlier run are re-verified.

A failed or drifted migration does not stop independent migrations, but
everything that depends on it is skipped. Exits 1 if anything failed,
drifted or was skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		rep, err := s.runner().Run(cmd.Context(), s.units)
		return finish(cmd.OutOrStdout(), rep, err, true)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify applied migrations without changing anything",
	Long: `Verify every applied migration against its checksum and its declared
schema shape, and list pending migrations. Nothing is written, not even the
state table. Exits 1 if anything is pending or drifted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		rep, err := s.runner().Check(cmd.Context(), s.units)
		return finish(cmd.OutOrStdout(), rep, err, true)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	Long: `Show every migration with its state, like check, but always exit 0
unless the database cannot be read.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		rep, err := s.runner().Check(cmd.Context(), s.units)
		return finish(cmd.OutOrStdout(), rep, err, false)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the migrations run would apply, in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		pending, err := s.runner().Pending(cmd.Context(), s.units)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writePlanJSON(cmd.OutOrStdout(), pending)
		}
		return report.WritePlan(cmd.OutOrStdout(), pending)
	},
}

// finish renders whatever report exists and maps it to an exit code
func finish(w io.Writer, rep *runner.Report, runErr error, strict bool) error {
	if rep != nil {
		var err error
		if jsonOutput {
			err = report.WriteJSON(w, rep)
		} else {
			err = report.WriteText(w, rep)
		}
		if err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if strict && rep.ExitCode() != 0 {
		return &exitError{code: rep.ExitCode()}
	}
	return nil
}

type planEntry struct {
	Version   string   `json:"version"`
	Name      string   `json:"name,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Checksum  string   `json:"checksum"`
	HasDown   bool     `json:"has_down"`
}

func writePlanJSON(w io.Writer, pending []migration.Unit) error {
	entries := make([]planEntry, 0, len(pending))
	for _, u := range pending {
		entries = append(entries, planEntry{
			Version:   u.Version,
			Name:      u.Name,
			DependsOn: u.DependsOn,
			Checksum:  u.Checksum(),
			HasDown:   u.HasDown(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{"pending": entries})
}
