package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/railsection-simulator/core"
)

// Case sources understood by the server.
const (
	SourceBuiltin  = "builtin"
	SourceJSON     = "json"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
)

// ErrInvalidConfig wraps every configuration problem reported by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the simulator server and CLI.
type Config struct {
	// Listeners
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string
	CORSOrigins []string

	// Case source
	CaseSource     string
	CasesDir       string
	SQLiteDatabase string
	DatabaseURL    string

	// Sessions
	TickInterval time.Duration
	ResumeDelay  time.Duration
	DefaultSpeed float64
	AutoApprove  bool

	// Engine policy
	Policy core.Policy
}

// LoadDotEnv loads the first file, then lets the remaining files override
// it. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", ".env.local"}
	}
	_ = godotenv.Load(paths[0])
	for _, p := range paths[1:] {
		_ = godotenv.Overload(p)
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	policy := core.DefaultPolicy()
	policy.HeadwayMinutes = getEnvFloat("HEADWAY_MIN", policy.HeadwayMinutes)
	policy.StoppingFactor = getEnvFloat("STOPPING_FACTOR", policy.StoppingFactor)
	policy.SlowingFactor = getEnvFloat("SLOWING_FACTOR", policy.SlowingFactor)
	policy.UtilizationScale = getEnvFloat("UTILIZATION_SCALE", policy.UtilizationScale)
	policy.TimeStep = getEnvDuration("TIME_STEP", policy.TimeStep)

	return &Config{
		GRPCAddr:    getEnv("GRPC_ADDR", ":50061"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8081"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		CaseSource:     strings.ToLower(getEnv("CASE_SOURCE", SourceBuiltin)),
		CasesDir:       getEnv("CASES_DIR", "./cases"),
		SQLiteDatabase: getEnv("SQLITE_DATABASE", "./railsim.db"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		TickInterval: time.Duration(getEnvInt("TICK_INTERVAL_MS", 100)) * time.Millisecond,
		ResumeDelay:  time.Duration(getEnvInt("RESUME_DELAY_MS", 100)) * time.Millisecond,
		DefaultSpeed: getEnvFloat("DEFAULT_SPEED", 1),
		AutoApprove:  getEnvBool("AUTO_APPROVE", false),

		Policy: policy,
	}
}

// Validate reports every inconsistent setting joined into one error.
func (c *Config) Validate() error {
	var errs []error
	switch c.CaseSource {
	case SourceBuiltin:
	case SourceJSON:
		if c.CasesDir == "" {
			errs = append(errs, errors.New("CASES_DIR is required for the json case source"))
		}
	case SourceSQLite:
		if c.SQLiteDatabase == "" {
			errs = append(errs, errors.New("SQLITE_DATABASE is required for the sqlite case source"))
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres case source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CASE_SOURCE %q", c.CaseSource))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL_MS must be positive, got %v", c.TickInterval))
	}
	if c.ResumeDelay < 0 {
		errs = append(errs, fmt.Errorf("RESUME_DELAY_MS must not be negative, got %v", c.ResumeDelay))
	}
	if c.DefaultSpeed <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_SPEED must be positive, got %v", c.DefaultSpeed))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
