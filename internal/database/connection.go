package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/schemaguard/internal/utils"
)

// Options holds everything needed to open the target database
type Options struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	SearchPath     string
	ConnectTimeout time.Duration
	ConnectRetries int
	MaxOpenConns   int
	LogLevel       string
}

// Database manages the connection to the target database for one run
type Database struct {
	db     *gorm.DB
	opts   Options
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewDatabase creates a new Database instance
func NewDatabase(opts Options, logger zerolog.Logger) *Database {
	return &Database{
		opts:   opts,
		logger: utils.Component(logger, "database"),
	}
}

// Connect establishes a connection to the PostgreSQL database, retrying
// with exponential backoff. Failures are returned as ConnectionError.
func (d *Database) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dsn := d.buildDSN()

	var db *gorm.DB
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		db, err = gorm.Open(postgres.Open(dsn), GormConfig(d.opts.LogLevel))
		if err != nil {
			d.logger.Warn().Err(err).Int("attempt", attempt).Msg("Database connection attempt failed")
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, d.newBackoff(ctx)); err != nil {
		return utils.WrapConnectionError("connect", fmt.Errorf("after %d attempts: %w", attempt, err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return utils.WrapConnectionError("connect", fmt.Errorf("failed to get underlying sql.DB: %w", err))
	}

	// One run holds one connection; DDL runs strictly one migration at a time
	maxOpen := d.opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(0)

	d.db = db
	d.logger.Info().
		Str("host", d.opts.Host).
		Int("port", d.opts.Port).
		Str("database", d.opts.DBName).
		Str("sslmode", d.opts.SSLMode).
		Int("attempts", attempt).
		Msg("Connected to database")

	return nil
}

// GormConfig returns the gorm configuration shared by every connection.
// PrepareStmt stays off so multi-statement migration files run as one
// simple-protocol exec.
func GormConfig(logLevel string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(logLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		PrepareStmt:    false,
		TranslateError: true,
	}
}

func (d *Database) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	retries := d.opts.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)
}

// Health checks the database connection health
func (d *Database) Health(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return fmt.Errorf("database not connected")
	}

	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return utils.WrapConnectionError("ping", err)
	}

	return nil
}

// Close closes the database connection. Safe to call more than once.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}

	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	d.db = nil
	return nil
}

// DB returns the underlying gorm.DB instance
func (d *Database) DB() *gorm.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// SetDB sets the underlying gorm.DB instance (for testing)
func (d *Database) SetDB(db *gorm.DB) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.db = db
}

// WithTransaction executes a function within a database transaction
func (d *Database) WithTransaction(ctx context.Context, fn func(*gorm.DB) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return fmt.Errorf("database not connected")
	}

	return d.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
}

// buildDSN constructs the PostgreSQL DSN from the options
func (d *Database) buildDSN() string {
	host := orDefault(d.opts.Host, "localhost")
	port := d.opts.Port
	if port == 0 {
		port = 5432
	}
	user := orDefault(d.opts.User, "postgres")
	dbname := orDefault(d.opts.DBName, "postgres")
	sslmode := orDefault(d.opts.SSLMode, "require")

	timeout := d.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// connect_timeout is whole seconds; round partial seconds up
	seconds := int((timeout + time.Second - 1) / time.Second)

	parts := []string{
		"host=" + quoteDSNValue(host),
		fmt.Sprintf("port=%d", port),
		"user=" + quoteDSNValue(user),
		"password=" + quoteDSNValue(d.opts.Password),
		"dbname=" + quoteDSNValue(dbname),
		"sslmode=" + quoteDSNValue(sslmode),
		fmt.Sprintf("connect_timeout=%d", seconds),
		"TimeZone=UTC",
	}
	if d.opts.SearchPath != "" {
		parts = append(parts, "search_path="+quoteDSNValue(d.opts.SearchPath))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes a keyword/value DSN value when it is empty or
// contains characters that would otherwise end it
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
}

// parseLogLevel returns the GORM log level for a config string
func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
