// Package config parses userd's command line and environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Config is the process configuration. Every flag can also be set through
// the environment variable named in its env tag.
type Config struct {
	DatabaseURL     string           `kong:"name='database-url',env='DATABASE_URL',required,help='Database connection string.'"`
	Driver          string           `kong:"env='DB_DRIVER',enum='pgx,sqlite3',default='pgx',help='Database driver (pgx or sqlite3).'"`
	Addr            string           `kong:"env='USERD_ADDR',default='0.0.0.0:8080',help='Address to listen on.'"`
	LogLevel        string           `kong:"short='l',env='LOG_LEVEL',enum='debug,info,warn,error',default='info',help='Log level.'"`
	LogFormat       string           `kong:"env='LOG_FORMAT',enum='text,json',default='text',help='Log output format.'"`
	SlowQuery       time.Duration    `kong:"name='slow-query',env='SLOW_QUERY_THRESHOLD',default='200ms',help='Statements slower than this are logged as warnings.'"`
	LogQueries      bool             `kong:"env='LOG_QUERIES',help='Log every SQL statement at debug level.'"`
	RateLimit       float64          `kong:"env='RATE_LIMIT',default='0',help='Requests per second across all clients, 0 disables.'"`
	RateBurst       int              `kong:"env='RATE_BURST',default='100',help='Burst size of the rate limiter.'"`
	ShutdownTimeout time.Duration    `kong:"env='SHUTDOWN_TIMEOUT',default='10s',help='Grace period for in-flight requests on shutdown.'"`
	Version         kong.VersionFlag `kong:"short='v',help='Show version and exit.'"`
}

// Parse parses args, falling back to the environment and then to defaults.
func Parse(args []string, options ...kong.Option) (*Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg, append([]kong.Option{
		kong.Name("userd"),
		kong.Description("CRUD service for the users table."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s) released on %s", version, commit, date),
		},
	}, options...)...)
	if err != nil {
		return nil, err
	}

	if _, err := parser.Parse(args); err != nil {
		return nil, err
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("--rate-limit must not be negative, got %v", cfg.RateLimit)
	}
	if cfg.RateLimit > 0 && cfg.RateBurst < 1 {
		return nil, fmt.Errorf("--rate-burst must be at least 1, got %d", cfg.RateBurst)
	}
	return &cfg, nil
}

// LoadEnvFile exports the variables in path into the environment without
// overriding ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// NewLogger builds the process logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
