package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/ksred/schemaguard/internal/config"
	"github.com/ksred/schemaguard/internal/database"
	"github.com/ksred/schemaguard/internal/metrics"
	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/planner"
	"github.com/ksred/schemaguard/internal/runner"
	"github.com/ksred/schemaguard/internal/utils"
)

// session is everything one command needs: config, logger, the loaded
// migrations and a single database connection
type session struct {
	cfg      *config.Config
	logger   zerolog.Logger
	units    []migration.Unit
	db       *database.Database
	recorder *metrics.Recorder
}

// openSession loads config and migrations, validates the dependency graph
// and only then connects
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfiguration()
	if err != nil {
		return nil, err
	}

	logger := setupLogging(cfg)
	logger.Debug().Str("version", version).Msg("Starting schemaguard")

	units, err := loadMigrations(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := planner.Order(units); err != nil {
		return nil, err
	}
	logger.Info().Int("count", len(units)).Str("dir", cfg.Migrations.Dir).Msg("Loaded migrations")

	db, err := connectToDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:    cfg,
		logger: logger,
		units:  units,
		db:     db,
	}
	if cfg.Metrics.Textfile != "" {
		s.recorder = metrics.NewRecorder()
	}
	return s, nil
}

// runner builds a runner on the session's connection
func (s *session) runner() *runner.Runner {
	var opts []runner.Option
	if s.recorder != nil {
		opts = append(opts, runner.WithObserver(s.recorder))
	}
	return runner.NewForDB(s.db.DB(), database.ExecutorOptions{
		Timeout:          s.cfg.Runner.Timeout,
		StatementTimeout: s.cfg.Runner.StatementTimeout,
		LockTimeout:      s.cfg.Runner.LockTimeout,
	}, s.logger, opts...)
}

// close writes metrics, if enabled, and releases the connection
func (s *session) close() {
	if s.recorder != nil {
		if err := s.recorder.WriteTextfile(s.cfg.Metrics.Textfile); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write metrics")
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close database connection")
	}
}

// loadConfiguration loads the config file and applies flag overrides
func loadConfiguration() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if migrationsDir != "" {
		cfg.Migrations.Dir = migrationsDir
	}
	if manifestName != "" {
		cfg.Migrations.Manifest = manifestName
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsTextfile != "" {
		cfg.Metrics.Textfile = metricsTextfile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the application logger. Logs go to stderr so
// stdout carries only the report.
func setupLogging(cfg *config.Config) zerolog.Logger {
	logConfig := utils.LoggerConfig{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		CallerInfo: cfg.Log.Level == "debug",
		LogFile:    cfg.Log.File,
		Output:     os.Stderr,
	}
	return utils.SetupGlobalLogger(logConfig)
}

// loadMigrations reads the manifest and SQL files from the migrations directory
func loadMigrations(cfg *config.Config) ([]migration.Unit, error) {
	info, err := os.Stat(cfg.Migrations.Dir)
	if err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations directory: %s is not a directory", cfg.Migrations.Dir)
	}
	return migration.LoadDir(os.DirFS(cfg.Migrations.Dir), cfg.Migrations.Manifest)
}

// connectToDatabase establishes the run's database connection
func connectToDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*database.Database, error) {
	logger.Info().Str("target", cfg.RedactedDatabaseURL()).Msg("Connecting to PostgreSQL database")

	db := database.NewDatabase(database.Options{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		DBName:         cfg.Database.DBName,
		SSLMode:        cfg.Database.SSLMode,
		SearchPath:     cfg.Database.Schema,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		ConnectRetries: cfg.Database.ConnectRetries,
		MaxOpenConns:   cfg.Database.MaxOpenConns,
		LogLevel:       cfg.Database.LogLevel,
	}, logger)

	if err := db.Connect(ctx); err != nil {
		return nil, err
	}

	healthCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	if err := db.Health(healthCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
