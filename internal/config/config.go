// Package config holds the runtime configuration (flags with environment
// fallbacks) and the consolidation plan format.
//
// Runtime settings follow the usual precedence: an environment variable
// seeds each flag's default and an explicit flag wins. Credentials are
// never used as displayed defaults, so `--help` does not print secrets.
//
// For tests, bind onto a private flag set with a map-backed getenv:
//
//	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
//	cfg := config.Bind(fs, func(k string) string { return env[k] })
//	_ = fs.Parse([]string{"--workers=2"})
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"dbtidy/internal/storage"
)

// Environment variable names.
const (
	EnvDriver            = "DBTIDY_DRIVER"
	EnvEndpoint          = "DBTIDY_ENDPOINT"
	EnvServiceCredential = "DBTIDY_SERVICE_CREDENTIAL"
	EnvReadCredential    = "DBTIDY_READ_CREDENTIAL"
)

// Config is the per-invocation runtime configuration.
type Config struct {
	// Database connection. ReadCredential is optional; without it reads
	// share the service connection.
	Driver            string
	Endpoint          string
	ServiceCredential string
	ReadCredential    string

	// Local state: backup artifacts and checkpoints/locks.
	BackupDir string
	StateDir  string

	// Throughput and resilience.
	BatchSize   int
	Workers     int
	Retries     int
	RetryStep   time.Duration
	CallTimeout time.Duration

	// Metrics: "", "none", "prometheus" or "datadog".
	MetricsBackend string
	PushgatewayURL string
	StatsdAddr     string

	Verbose bool
}

// Bind defines every runtime flag on fs, seeding defaults from getenv, and
// returns the Config the flags write into. Call fs.Parse afterwards.
func Bind(fs *pflag.FlagSet, getenv func(string) string) *Config {
	cfg := &Config{}

	str := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	num := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}
	dur := func(k string, d time.Duration) time.Duration {
		if v := getenv(k); v != "" {
			if x, err := time.ParseDuration(v); err == nil {
				return x
			}
		}
		return d
	}
	boolean := func(k string, d bool) bool {
		switch strings.ToLower(getenv(k)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		return d
	}

	fs.StringVar(&cfg.Driver, "driver", str(EnvDriver, "postgres"), "database driver: "+strings.Join(storage.Kinds(), ", "))
	fs.StringVar(&cfg.Endpoint, "endpoint", str(EnvEndpoint, ""), "connection target (URL, DSN or file path)")
	fs.StringVar(&cfg.ServiceCredential, "service-credential", "", "elevated credential \"user:password\" (env "+EnvServiceCredential+")")
	fs.StringVar(&cfg.ReadCredential, "read-credential", "", "restricted credential for inspection and verification (env "+EnvReadCredential+")")
	cfg.ServiceCredential = getenv(EnvServiceCredential)
	cfg.ReadCredential = getenv(EnvReadCredential)

	fs.StringVar(&cfg.BackupDir, "backup-dir", str("DBTIDY_BACKUP_DIR", "./backups"), "directory for backup artifacts")
	fs.StringVar(&cfg.StateDir, "state-dir", str("DBTIDY_STATE_DIR", "./.dbtidy"), "directory for locks and checkpoints")

	fs.IntVar(&cfg.BatchSize, "batch-size", num("DBTIDY_BATCH_SIZE", 500), "rows per keyset page")
	fs.IntVar(&cfg.Workers, "workers", num("DBTIDY_WORKERS", 2), "groups consolidated in parallel")
	fs.IntVar(&cfg.Retries, "retries", num("DBTIDY_RETRIES", 3), "attempts per database call")
	fs.DurationVar(&cfg.RetryStep, "retry-step", dur("DBTIDY_RETRY_STEP", 500*time.Millisecond), "linear backoff step between attempts")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", dur("DBTIDY_CALL_TIMEOUT", 30*time.Second), "timeout per database call")

	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", str("DBTIDY_METRICS_BACKEND", "none"), "metrics backend: none, prometheus, datadog")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway-url", str("DBTIDY_PUSHGATEWAY_URL", ""), "Prometheus Pushgateway URL")
	fs.StringVar(&cfg.StatsdAddr, "statsd-addr", str("DBTIDY_STATSD_ADDR", "127.0.0.1:8125"), "DogStatsD address")

	fs.BoolVarP(&cfg.Verbose, "verbose", "v", boolean("DBTIDY_VERBOSE", false), "debug logging")
	return cfg
}

// Validate checks the settings every database command needs.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, fmt.Errorf("endpoint is required (--endpoint or %s)", EnvEndpoint))
	}
	if c.Driver == "" {
		errs = append(errs, errors.New("driver is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch-size must be positive, got %d", c.BatchSize))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Retries <= 0 {
		errs = append(errs, fmt.Errorf("retries must be positive, got %d", c.Retries))
	}
	switch c.MetricsBackend {
	case "", "none", "datadog":
	case "prometheus":
		if c.PushgatewayURL == "" {
			errs = append(errs, errors.New("metrics-backend prometheus requires --pushgateway-url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown metrics-backend %q", c.MetricsBackend))
	}
	return errors.Join(errs...)
}

// Service returns the storage config for the elevated principal.
func (c *Config) Service() storage.Config {
	return storage.Config{Kind: c.Driver, Endpoint: c.Endpoint, Credential: c.ServiceCredential}
}

// Reader returns the storage config for the restricted principal and
// whether one is configured.
func (c *Config) Reader() (storage.Config, bool) {
	if c.ReadCredential == "" {
		return storage.Config{}, false
	}
	return storage.Config{Kind: c.Driver, Endpoint: c.Endpoint, Credential: c.ReadCredential}, true
}
