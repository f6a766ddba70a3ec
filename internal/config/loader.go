package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigName("schemaguard")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/schemaguard")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".schemaguard"))
		}
	}

	// Set defaults (these will be overridden by config file and env vars)
	setDefaults(v)

	// SCHEMAGUARD_DATABASE_HOST overrides database.host, and so on
	v.SetEnvPrefix("SCHEMAGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	// Read configuration file (if exists)
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file doesn't exist, we have defaults and env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// A connection URL overrides individual database settings
	for _, name := range []string{"SCHEMAGUARD_DATABASE_URL", "DATABASE_URL"} {
		if dbURL := os.Getenv(name); dbURL != "" {
			if err := parseDatabaseURL(v, dbURL); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", name, err)
			}
			break
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := NewDefault()

	// Database defaults
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.schema", d.Database.Schema)
	v.SetDefault("database.connect_timeout", d.Database.ConnectTimeout)
	v.SetDefault("database.connect_retries", d.Database.ConnectRetries)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.log_level", d.Database.LogLevel)

	// Migration source defaults
	v.SetDefault("migrations.dir", d.Migrations.Dir)
	v.SetDefault("migrations.manifest", d.Migrations.Manifest)

	// Runner defaults
	v.SetDefault("runner.timeout", d.Runner.Timeout)
	v.SetDefault("runner.statement_timeout", d.Runner.StatementTimeout)
	v.SetDefault("runner.lock_timeout", d.Runner.LockTimeout)

	// Log defaults
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// bindEnvVars binds the conventional unprefixed variables as fallbacks
func bindEnvVars(v *viper.Viper) {
	// libpq environment variables
	v.BindEnv("database.host", "SCHEMAGUARD_DATABASE_HOST", "PGHOST")
	v.BindEnv("database.port", "SCHEMAGUARD_DATABASE_PORT", "PGPORT")
	v.BindEnv("database.user", "SCHEMAGUARD_DATABASE_USER", "PGUSER")
	v.BindEnv("database.password", "SCHEMAGUARD_DATABASE_PASSWORD", "PGPASSWORD")
	v.BindEnv("database.dbname", "SCHEMAGUARD_DATABASE_DBNAME", "PGDATABASE")
	v.BindEnv("database.sslmode", "SCHEMAGUARD_DATABASE_SSLMODE", "PGSSLMODE")

	// Log level can be set via LOG_LEVEL or SCHEMAGUARD_LOG_LEVEL
	v.BindEnv("log.level", "SCHEMAGUARD_LOG_LEVEL", "LOG_LEVEL")
}

// parseDatabaseURL parses a PostgreSQL connection URL and sets the database
// config values it specifies. Settings absent from the URL are left alone.
func parseDatabaseURL(v *viper.Viper, dbURL string) error {
	dsn, err := pq.ParseURL(dbURL)
	if err != nil {
		return err
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		return err
	}
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("database name not found in URL")
	}

	conn, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return err
	}

	v.Set("database.dbname", conn.Database)
	if u.Hostname() != "" {
		v.Set("database.host", conn.Host)
	}
	if u.Port() != "" {
		v.Set("database.port", int(conn.Port))
	}
	if u.User != nil {
		v.Set("database.user", conn.User)
		if _, ok := u.User.Password(); ok {
			v.Set("database.password", conn.Password)
		}
	}

	// pgconn turns sslmode into a TLS config, so the mode is read from the URL
	query := u.Query()
	if query.Has("sslmode") {
		v.Set("database.sslmode", query.Get("sslmode"))
	}
	if query.Has("connect_timeout") {
		v.Set("database.connect_timeout", conn.ConnectTimeout.String())
	}
	if searchPath, ok := conn.RuntimeParams["search_path"]; ok {
		v.Set("database.schema", searchPath)
	}

	return nil
}
