package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Config represents the main application configuration
type Config struct {
	Database   Database   `json:"database" mapstructure:"database"`
	Migrations Migrations `json:"migrations" mapstructure:"migrations"`
	Runner     Runner     `json:"runner" mapstructure:"runner"`
	Log        Log        `json:"log" mapstructure:"log"`
	Metrics    Metrics    `json:"metrics" mapstructure:"metrics"`
}

// Database represents the target database configuration
type Database struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	User           string        `json:"user" mapstructure:"user"`
	Password       string        `json:"-" mapstructure:"password"`
	DBName         string        `json:"dbname" mapstructure:"dbname"`
	SSLMode        string        `json:"sslmode" mapstructure:"sslmode"`
	Schema         string        `json:"schema" mapstructure:"schema"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	ConnectRetries int           `json:"connect_retries" mapstructure:"connect_retries"`
	MaxOpenConns   int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	LogLevel       string        `json:"log_level" mapstructure:"log_level"`
}

// Migrations locates the migration manifest
type Migrations struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	Manifest string `json:"manifest" mapstructure:"manifest"`
}

// Runner bounds how long a single migration may take
type Runner struct {
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	StatementTimeout time.Duration `json:"statement_timeout" mapstructure:"statement_timeout"`
	LockTimeout      time.Duration `json:"lock_timeout" mapstructure:"lock_timeout"`
}

// Log represents logging configuration
type Log struct {
	Level  string `json:"level" mapstructure:"level"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
	File   string `json:"file" mapstructure:"file"`
}

// Metrics configures the Prometheus textfile output. Empty disables it.
type Metrics struct {
	Textfile string `json:"textfile" mapstructure:"textfile"`
}

// NewDefault returns a Config instance with default values
func NewDefault() *Config {
	return &Config{
		Database: Database{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Password:       "",
			DBName:         "postgres",
			SSLMode:        "require",
			ConnectTimeout: 5 * time.Second,
			ConnectRetries: 3,
			MaxOpenConns:   1,
			LogLevel:       "silent",
		},
		Migrations: Migrations{
			Dir:      "migrations",
			Manifest: "migrations.yaml",
		},
		Runner: Runner{
			Timeout:          0,
			StatementTimeout: 0,
			LockTimeout:      10 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Pretty: false,
		},
	}
}

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if !validSSLModes[c.Database.SSLMode] {
		return fmt.Errorf("invalid sslmode: %s", c.Database.SSLMode)
	}
	if c.Database.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.Database.ConnectRetries < 0 {
		return fmt.Errorf("connect retries cannot be negative")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("max open connections must be greater than 0")
	}

	// Migrations validation
	if c.Migrations.Dir == "" {
		return fmt.Errorf("migrations directory is required")
	}
	if c.Migrations.Manifest == "" {
		return fmt.Errorf("migrations manifest is required")
	}

	// Runner validation
	if c.Runner.Timeout < 0 || c.Runner.StatementTimeout < 0 || c.Runner.LockTimeout < 0 {
		return fmt.Errorf("runner timeouts cannot be negative")
	}

	// Log validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	return nil
}

// DatabaseURL constructs a PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return c.databaseURL().String()
}

// RedactedDatabaseURL is DatabaseURL with the password masked, safe to log
func (c *Config) RedactedDatabaseURL() string {
	return c.databaseURL().Redacted()
}

func (c *Config) databaseURL() *url.URL {
	params := url.Values{}
	params.Set("sslmode", c.Database.SSLMode)
	params.Set("connect_timeout", strconv.Itoa(int(c.Database.ConnectTimeout.Seconds())))
	if c.Database.Schema != "" {
		params.Set("search_path", c.Database.Schema)
	}

	var userInfo *url.Userinfo
	if c.Database.Password == "" {
		userInfo = url.User(c.Database.User)
	} else {
		userInfo = url.UserPassword(c.Database.User, c.Database.Password)
	}

	return &url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     c.Database.DBName,
		RawQuery: params.Encode(),
	}
}
