// Package workflow wires configuration, stores, logging and metrics into
// the per-stage components and runs the full migrate sequence.
//
// An Env is built once per invocation and passed down explicitly; nothing
// below it reads flags or the environment.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"dbtidy/internal/backup"
	"dbtidy/internal/config"
	"dbtidy/internal/consolidate"
	"dbtidy/internal/inspect"
	"dbtidy/internal/metrics"
	"dbtidy/internal/metrics/datadog"
	"dbtidy/internal/metrics/prompush"
	"dbtidy/internal/retry"
	"dbtidy/internal/storage"
	"dbtidy/internal/verify"
)

// Function variables used as test seams.
var (
	openStoreFn = storage.New

	newPromBackendFn = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	newDatadogBackendFn = func(cfg datadog.Config) (metrics.Backend, error) {
		return datadog.NewBackend(cfg)
	}
)

// Env holds everything a command needs.
type Env struct {
	Config *config.Config
	Logger *log.Logger
	// Admin is the elevated principal: writes, DDL and backups.
	Admin storage.Store
	// Reader is the restricted principal used for inspection and
	// verification counts. It is Admin when no read credential is set.
	Reader storage.Store

	backend metrics.Backend
	closers []storage.Store
}

// Open connects the configured principals, wraps them in the retry policy
// and selects the metrics backend. A metrics backend that cannot be
// initialized is logged and disabled.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Env, error) {
	if logger == nil {
		logger = log.Default()
	}
	e := &Env{Config: cfg, Logger: logger, backend: newBackend(cfg, logger)}

	policy := e.Policy()
	admin, err := openStoreFn(ctx, cfg.Service())
	if err != nil {
		return nil, fmt.Errorf("open service store: %w", err)
	}
	e.closers = append(e.closers, admin)
	e.Admin = retry.Wrap(admin, policy)
	e.Reader = e.Admin

	if rc, ok := cfg.Reader(); ok {
		reader, err := openStoreFn(ctx, rc)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("open read store: %w", err)
		}
		e.closers = append(e.closers, reader)
		e.Reader = retry.Wrap(reader, policy)
	}
	logger.Debug("connected", "driver", cfg.Driver, "restricted_reader", e.Reader != e.Admin)
	return e, nil
}

// Close flushes metrics and closes the stores.
func (e *Env) Close() error {
	var err error
	if e.backend != nil {
		if ferr := e.backend.Flush(); ferr != nil {
			err = errors.Join(err, fmt.Errorf("metrics flush: %w", ferr))
		}
	}
	for _, s := range e.closers {
		s.Close()
	}
	e.closers = nil
	return err
}

// Policy is the retry policy built from the config.
func (e *Env) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: e.Config.Retries,
		Step:        e.Config.RetryStep,
		CallTimeout: e.Config.CallTimeout,
		Logger:      e.Logger,
	}
}

// Recorder returns a metrics recorder for table.
func (e *Env) Recorder(table string) *metrics.Recorder {
	return metrics.New(e.backend, table)
}

func newBackend(cfg *config.Config, logger *log.Logger) metrics.Backend {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.MetricsBackend {
	case "prometheus":
		b, err = newPromBackendFn("dbtidy", cfg.PushgatewayURL)
	case "datadog":
		b, err = newDatadogBackendFn(datadog.Config{
			Addr:      cfg.StatsdAddr,
			Namespace: "dbtidy.",
			Tags:      []string{"driver:" + cfg.Driver},
		})
	case "", "none":
		return nil
	default:
		logger.Warn("unknown metrics backend; metrics disabled", "backend", cfg.MetricsBackend)
		return nil
	}
	if err != nil {
		logger.Warn("metrics backend unavailable; metrics disabled", "backend", cfg.MetricsBackend, "err", err)
		return nil
	}
	logger.Debug("metrics enabled", "backend", cfg.MetricsBackend)
	return b
}

// Inspector reads through the restricted principal.
func (e *Env) Inspector(keyColumn string, sample int) *inspect.Inspector {
	return &inspect.Inspector{
		Store: e.Reader, KeyColumn: keyColumn, Sample: sample,
		Workers: e.Config.Workers, Logger: e.Logger,
	}
}

// Consolidator writes through the admin principal.
func (e *Env) Consolidator(table string, plan config.Plan, dryRun bool) *consolidate.Consolidator {
	return &consolidate.Consolidator{
		Store: e.Admin, Table: table, KeyColumn: plan.KeyColumn,
		Registry: plan.Registry(), BatchSize: e.Config.BatchSize, DryRun: dryRun,
		Logger: e.Logger, Metrics: e.Recorder(table),
	}
}

// Verifier counts through the restricted principal.
func (e *Env) Verifier(table string, plan config.Plan, sample int, strict bool) *verify.Verifier {
	return &verify.Verifier{
		Store: e.Reader, Table: table, KeyColumn: plan.KeyColumn,
		Registry: plan.Registry(), Sample: sample, Strict: strict,
		Logger: e.Logger, Metrics: e.Recorder(table),
	}
}

// Sink writes artifacts under the configured backup directory.
func (e *Env) Sink(table string) *backup.Sink {
	return &backup.Sink{
		Dir: e.Config.BackupDir, BatchSize: e.Config.BatchSize,
		Logger: e.Logger, Metrics: e.Recorder(table),
	}
}
