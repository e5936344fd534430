package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "MAPIT_"

// Config holds the global configuration for mapit commands
type Config struct {
	// Input settings
	ControlFile string // Path to the import control YAML
	CacheDir    string // Element cache root
	APIURL      string // OSM API used to fill the element cache
	Offline     bool   // Never fetch missing elements

	// Output settings
	Projection int     // Export SRID (4326 or 3857)
	Tolerance  float64 // Export simplification tolerance in output units

	// Database settings
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	// Lookup cache
	RedisAddr     string // empty = no cache
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Processing settings
	Workers int
	DryRun  bool
	Verbose bool

	// Logging and metrics
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging
	MetricsFile     string        // Prometheus textfile written after an import
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		CacheDir:        "./mapit_cache",
		APIURL:          "https://www.openstreetmap.org/api/0.6",
		Projection:      4326,
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "mapit",
		DBUser:          "postgres",
		DBSchema:        "public",
		CacheTTL:        24 * time.Hour,
		Workers:         runtime.NumCPU(),
		MetricsInterval: 30 * time.Second,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Projection != 4326 && c.Projection != 3857 {
		return fmt.Errorf("unsupported projection %d", c.Projection)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative")
	}
	if c.DBSchema == "" {
		return fmt.Errorf("schema is required")
	}
	return nil
}

// LoadEnv reads .env files (missing files are ignored) into the process
// environment and applies MAPIT_* overrides to c. Variables already set in
// the environment win over file values.
func (c *Config) LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return c.ApplyEnv(os.LookupEnv)
}

// ApplyEnv applies MAPIT_* overrides read through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	strs := map[string]*string{
		"DB_HOST":        &c.DBHost,
		"DB_NAME":        &c.DBName,
		"DB_USER":        &c.DBUser,
		"DB_PASSWORD":    &c.DBPassword,
		"DB_SCHEMA":      &c.DBSchema,
		"CACHE_DIR":      &c.CacheDir,
		"API_URL":        &c.APIURL,
		"CONTROL_FILE":   &c.ControlFile,
		"REDIS_ADDR":     &c.RedisAddr,
		"REDIS_PASSWORD": &c.RedisPassword,
		"LOG_FILE":       &c.LogFile,
		"METRICS_FILE":   &c.MetricsFile,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DB_PORT":    &c.DBPort,
		"WORKERS":    &c.Workers,
		"REDIS_DB":   &c.RedisDB,
		"PROJECTION": &c.Projection,
	}
	for name, dst := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"CACHE_TTL":        &c.CacheTTL,
		"METRICS_INTERVAL": &c.MetricsInterval,
	}
	for name, dst := range durations {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
			}
			*dst = d
		}
	}

	if v, ok := get("VERBOSE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sVERBOSE %q: %w", EnvPrefix, v, err)
		}
		c.Verbose = b
	}
	return nil
}
