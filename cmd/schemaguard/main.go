// Package main provides the schemaguard CLI, which applies and verifies
// PostgreSQL schema migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

// Global flags
var (
	configPath      string
	migrationsDir   string
	manifestName    string
	jsonOutput      bool
	logLevel        string
	metricsTextfile string
)

var rootCmd = &cobra.Command{
	Use:   "schemaguard",
	Short: "Apply and verify PostgreSQL schema migrations",
	Long: `schemaguard applies versioned SQL migrations in dependency order, one
transaction per migration, and verifies after each one that the tables,
columns and indexes it promised actually exist.

Examples:
  schemaguard run                      # Apply pending migrations
  schemaguard check                    # Verify without changing anything
  schemaguard plan                     # Show what run would apply
  schemaguard status --json            # Applied state as JSON
  schemaguard run --dir ./db/migrations`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "Migrations directory (overrides migrations.dir)")
	rootCmd.PersistentFlags().StringVar(&manifestName, "manifest", "", "Manifest file name inside the migrations directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
}

// exitError carries a non-zero exit code for a command that already
// reported its outcome
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.Bold).Sprint("Error: ")+err.Error())
	return 1
}
