package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func bind(t *testing.T, env map[string]string, args ...string) *Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg := Bind(fs, func(k string) string { return env[k] })
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

// TestBindDefaults checks the built-in defaults with an empty environment.
func TestBindDefaults(t *testing.T) {
	t.Parallel()

	cfg := bind(t, nil)
	if cfg.Driver != "postgres" || cfg.BatchSize != 500 || cfg.Retries != 3 ||
		cfg.RetryStep != 500*time.Millisecond || cfg.CallTimeout != 30*time.Second {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("Validate without endpoint = %v", err)
	}
}

// TestBindPrecedence verifies env seeds defaults and flags win.
func TestBindPrecedence(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvDriver:            "sqlite",
		EnvEndpoint:          "file:env.db",
		EnvServiceCredential: "svc:secret",
		EnvReadCredential:    "ro:secret",
		"DBTIDY_WORKERS":     "6",
		"DBTIDY_RETRY_STEP":  "2s",
		"DBTIDY_VERBOSE":     "yes",
		"DBTIDY_BATCH_SIZE":  "not-a-number",
	}
	cfg := bind(t, env, "--endpoint=file:flag.db", "--workers=3", "--read-credential=ro2:x")

	if cfg.Driver != "sqlite" || cfg.Endpoint != "file:flag.db" || cfg.Workers != 3 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.RetryStep != 2*time.Second || !cfg.Verbose || cfg.BatchSize != 500 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ServiceCredential != "svc:secret" || cfg.ReadCredential != "ro2:x" {
		t.Fatalf("credentials = %q / %q", cfg.ServiceCredential, cfg.ReadCredential)
	}
	if r, ok := cfg.Reader(); !ok || r.Credential != "ro2:x" || r.Kind != "sqlite" {
		t.Fatalf("Reader = %+v, %v", r, ok)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

// TestCredentialsNotShownAsDefaults keeps secrets out of --help.
func TestCredentialsNotShownAsDefaults(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Bind(fs, func(k string) string {
		if k == EnvServiceCredential {
			return "svc:topsecret"
		}
		return ""
	})
	if strings.Contains(fs.FlagUsages(), "topsecret") {
		t.Fatalf("usage leaks the credential:\n%s", fs.FlagUsages())
	}
}

func TestValidateMetrics(t *testing.T) {
	t.Parallel()

	cfg := bind(t, map[string]string{EnvEndpoint: "x"}, "--metrics-backend=prometheus")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("prometheus without pushgateway should fail")
	}
	cfg = bind(t, map[string]string{EnvEndpoint: "x"}, "--metrics-backend=graphite")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown backend should fail")
	}
	if _, ok := cfg.Reader(); ok {
		t.Fatalf("no read credential configured")
	}
}
