// Package config loads ledger settings from the environment.
//
// An optional .env file is read first (godotenv never overrides variables
// that are already set). Every setting has a LEDGER_ prefixed variable;
// PORT is honoured as a fallback for platforms that inject it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Env  string
	Port int

	Store           string
	SQLitePath      string
	PostgresDSN     string
	PostgresMaxOpen int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string

	AuthSecret   string
	AuthDisabled bool

	AwardsFile    string
	WeeklyGoal    int64
	RetryInterval time.Duration
	RetryQueue    int
	TraceStdout   bool
	CORSOrigins   []string
	DemoScenarios bool
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.Getenv)
}

// FromLookup builds a Config from any getenv-like function.
func FromLookup(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:             firstNonEmpty(getenv("LEDGER_ENV"), "dev"),
		Port:            parseOptionalInt(firstNonEmpty(getenv("LEDGER_PORT"), getenv("PORT")), 8080),
		Store:           strings.ToLower(firstNonEmpty(getenv("LEDGER_STORE"), StoreSQLite)),
		SQLitePath:      firstNonEmpty(getenv("LEDGER_SQLITE_PATH"), "ledger.db"),
		PostgresDSN:     getenv("LEDGER_POSTGRES_DSN"),
		PostgresMaxOpen: parseOptionalInt(getenv("LEDGER_POSTGRES_MAX_OPEN"), 10),
		RedisAddr:       getenv("LEDGER_REDIS_ADDR"),
		RedisPassword:   getenv("LEDGER_REDIS_PASSWORD"),
		RedisDB:         parseOptionalInt(getenv("LEDGER_REDIS_DB"), 0),
		RedisPrefix:     firstNonEmpty(getenv("LEDGER_REDIS_PREFIX"), "ledger:"),
		AuthSecret:      getenv("LEDGER_AUTH_SECRET"),
		AuthDisabled:    parseBool(getenv("LEDGER_AUTH_DISABLED")),
		AwardsFile:      getenv("LEDGER_AWARDS_FILE"),
		WeeklyGoal:      int64(parseOptionalInt(getenv("LEDGER_WEEKLY_GOAL"), 350)),
		RetryQueue:      parseOptionalInt(getenv("LEDGER_RETRY_QUEUE"), 1000),
		TraceStdout:     parseBool(getenv("LEDGER_TRACE_STDOUT")),
		CORSOrigins:     parseCSV(firstNonEmpty(getenv("LEDGER_CORS_ORIGINS"), "*")),
		DemoScenarios:   parseBool(getenv("LEDGER_DEMO_SCENARIOS")),
	}

	interval := firstNonEmpty(getenv("LEDGER_RETRY_INTERVAL"), "30s")
	d, err := time.ParseDuration(interval)
	if err != nil {
		return Config{}, fmt.Errorf("LEDGER_RETRY_INTERVAL: %w", err)
	}
	cfg.RetryInterval = d

	return cfg, nil
}

// IsProduction reports whether the production logger should be used.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// Validate checks that the chosen backend and auth mode are usable.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("LEDGER_SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("LEDGER_POSTGRES_DSN is required for the postgres store"))
		}
	case StoreRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("LEDGER_REDIS_ADDR is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if !c.AuthDisabled && strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("LEDGER_AUTH_SECRET is required unless LEDGER_AUTH_DISABLED=true"))
	}
	if c.WeeklyGoal <= 0 {
		errs = append(errs, fmt.Errorf("invalid weekly goal %d", c.WeeklyGoal))
	}
	if c.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid retry interval %s", c.RetryInterval))
	}
	return errors.Join(errs...)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
