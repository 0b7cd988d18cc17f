package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"dbtidy/internal/config"
	"dbtidy/internal/consolidate"
	"dbtidy/internal/dropper"
	"dbtidy/internal/lock"
	"dbtidy/internal/metrics"
	"dbtidy/internal/metrics/datadog"
	"dbtidy/internal/retry"
	"dbtidy/internal/storage"
	"dbtidy/internal/storage/storetest"
)

func testPlan() config.Plan {
	return config.Plan{
		KeyColumn: "id",
		Setup:     []string{"CREATE FUNCTION noop() RETURNS void AS $$ $$ LANGUAGE sql", "  "},
		Groups: []consolidate.Group{{
			Name:   "contact",
			Target: "contact_info",
			Mappings: []consolidate.Mapping{
				{Source: "mobile", Key: "phone.mobile", Transform: "phone"},
				{Source: "personal_email", Key: "emails.personal", Transform: "email"},
				{Source: "company_email", Key: "emails.company", Transform: "email"},
			},
		}},
	}
}

func usersStore(n int) *storetest.Memory {
	m := storetest.New()
	m.CreateTable("users", "id", "mobile", "personal_email", "company_email", "nickname")
	for i := 0; i < n; i++ {
		m.Put("users", map[string]any{
			"id":            fmt.Sprintf("u%02d", i),
			"mobile":        fmt.Sprintf("01234567%02d", i),
			"company_email": fmt.Sprintf("User%d@Corp.com", i),
			"nickname":      "n",
		})
	}
	return m
}

func testEnv(t *testing.T, s storage.Store) *Env {
	t.Helper()
	dir := t.TempDir()
	return &Env{
		Config: &config.Config{
			Driver:    "memory",
			BackupDir: filepath.Join(dir, "backups"),
			StateDir:  filepath.Join(dir, "state"),
			BatchSize: 3,
			Workers:   2,
			Retries:   1,
		},
		Logger: log.New(io.Discard),
		Admin:  s,
		Reader: s,
	}
}

// TestMigrateReportOnlyThenConfirm walks a table from legacy columns to a
// completed drop across three invocations.
func TestMigrateReportOnlyThenConfirm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := usersStore(5)
	env := testEnv(t, m)
	opts := MigrateOptions{Table: "users", Plan: testPlan()}

	res, err := env.Migrate(ctx, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.Checkpoint == nil || res.Checkpoint.State != dropper.VerifiedSafe {
		t.Fatalf("first run checkpoint = %+v, want verified_safe", res.Checkpoint)
	}
	if res.Artifact == nil || res.Artifact.RowCount != 5 {
		t.Fatalf("artifact = %+v", res.Artifact)
	}
	if res.Ledgers[0].Updated != 5 {
		t.Fatalf("ledger = %+v", res.Ledgers[0])
	}
	if !m.HasColumn("users", "contact_info") || !m.HasColumn("users", "mobile") {
		t.Fatalf("target must be provisioned and legacy columns kept")
	}
	if got := len(m.Execs()); got != 1 {
		t.Fatalf("setup statements executed = %d, want 1", got)
	}

	opts.ConfirmDrop = true
	res, err = env.Migrate(ctx, opts)
	if err != nil {
		t.Fatalf("confirm run: %v", err)
	}
	if !res.Resumed || res.Checkpoint.State != dropper.Complete || res.Artifact != nil {
		t.Fatalf("confirm run = %+v", res)
	}
	for _, c := range []string{"mobile", "personal_email", "company_email"} {
		if m.HasColumn("users", c) {
			t.Fatalf("column %s still present", c)
		}
	}
	if !m.HasColumn("users", "nickname") {
		t.Fatalf("unrelated column dropped")
	}
	if row := m.Row("users", "u01"); row["contact_info"] == nil {
		t.Fatalf("consolidated document lost: %v", row)
	}

	drops := m.Calls(storetest.OpDrop)
	res, err = env.Migrate(ctx, opts)
	if err != nil || res.Checkpoint.State != dropper.Complete {
		t.Fatalf("rerun = %+v, %v", res.Checkpoint, err)
	}
	if m.Calls(storetest.OpDrop) != drops {
		t.Fatalf("completed run dropped again")
	}
}

func TestMigrateDryRun(t *testing.T) {
	t.Parallel()

	m := usersStore(4)
	env := testEnv(t, m)
	res, err := env.Migrate(context.Background(), MigrateOptions{Table: "users", Plan: testPlan(), DryRun: true, ConfirmDrop: true})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if res.Ledgers[0].Updated != 4 || !res.Ledgers[0].DryRun {
		t.Fatalf("ledger = %+v", res.Ledgers[0])
	}
	if res.Artifact != nil || res.Checkpoint != nil {
		t.Fatalf("dry run must stop before backup: %+v", res)
	}
	if res.Inspection == nil || res.Inspection.RowCount != 4 {
		t.Fatalf("inspection = %+v", res.Inspection)
	}
	if c, ok := res.Inspection.Column("mobile"); !ok || c.NonNull != 4 {
		t.Fatalf("mobile = %+v", c)
	}
	if m.HasColumn("users", "contact_info") || m.Calls(storetest.OpUpdate) != 0 || len(m.Execs()) != 0 {
		t.Fatalf("dry run wrote to the store")
	}
	if _, err := os.Stat(env.Config.BackupDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry run created backups: %v", err)
	}
}

// TestMigrateBlocksOnFailedRecords shows a failed update surfacing as a
// verification deficit that blocks the drop.
func TestMigrateBlocksOnFailedRecords(t *testing.T) {
	t.Parallel()

	m := usersStore(5)
	m.SetHook(func(op storetest.Op, _, _ string, n int) error {
		if op == storetest.OpUpdate && n == 2 {
			return errors.New("constraint violated")
		}
		return nil
	})
	env := testEnv(t, m)
	res, err := env.Migrate(context.Background(), MigrateOptions{Table: "users", Plan: testPlan(), ConfirmDrop: true})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if res.Ledgers[0].Failed != 1 {
		t.Fatalf("ledger = %+v", res.Ledgers[0])
	}
	cp := res.Checkpoint
	if cp.State != dropper.Blocked || len(cp.Failing) != 1 || cp.Failing[0] != "contact" {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if m.Calls(storetest.OpDrop) != 0 || !m.HasColumn("users", "mobile") {
		t.Fatalf("blocked run dropped columns")
	}
}

// TestMigrateKeepsSharedSources runs one group of a plan whose other group
// also reads mobile. Only columns no other group needs may be dropped.
func TestMigrateKeepsSharedSources(t *testing.T) {
	t.Parallel()

	m := usersStore(3)
	plan := testPlan()
	plan.Groups = append(plan.Groups, consolidate.Group{
		Name: "sms", Target: "sms_prefs",
		Mappings: []consolidate.Mapping{{Source: "mobile", Key: "number", Transform: "phone"}},
	})
	env := testEnv(t, m)
	res, err := env.Migrate(context.Background(), MigrateOptions{
		Table: "users", Plan: plan, Groups: plan.Groups[:1], ConfirmDrop: true,
	})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	cp := res.Checkpoint
	if cp.State != dropper.Complete {
		t.Fatalf("checkpoint = %+v", cp)
	}
	for _, c := range cp.Columns {
		if c.Column == "mobile" {
			t.Fatalf("mobile in drop scope: %+v", cp.Columns)
		}
	}
	if !m.HasColumn("users", "mobile") {
		t.Fatalf("shared source dropped before the sms group ran")
	}
	if m.HasColumn("users", "company_email") {
		t.Fatalf("unshared source kept")
	}
	if m.HasColumn("users", "sms_prefs") {
		t.Fatalf("unselected group provisioned")
	}

	// The sms run verifies contact as well before mobile goes.
	res, err = env.Migrate(context.Background(), MigrateOptions{
		Table: "users", Plan: plan, Groups: plan.Groups[1:], ConfirmDrop: true,
	})
	if err != nil {
		t.Fatalf("sms run: %v", err)
	}
	cp = res.Checkpoint
	if res.Resumed || cp.State != dropper.Complete || m.HasColumn("users", "mobile") {
		t.Fatalf("sms run = %+v", cp)
	}
	if got := cp.Verification.Results; len(got) != 2 || got[0].Group != "sms" || got[1].Group != "contact" || !got[1].Passed {
		t.Fatalf("verification = %+v", got)
	}
	if row := m.Row("users", "u01"); row["sms_prefs"] == nil {
		t.Fatalf("sms document missing: %v", row)
	}
}

func TestMigrateHonorsLock(t *testing.T) {
	t.Parallel()

	env := testEnv(t, usersStore(1))
	held, err := lock.Acquire(env.Config.StateDir, "users")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	_, err = env.Migrate(context.Background(), MigrateOptions{Table: "users", Plan: testPlan()})
	if !errors.Is(err, lock.ErrMigrationInProgress) {
		t.Fatalf("err = %v, want ErrMigrationInProgress", err)
	}
}

func TestProvisionFailures(t *testing.T) {
	t.Parallel()

	m := usersStore(1)
	m.SetHook(func(op storetest.Op, _, _ string, _ int) error {
		if op == storetest.OpExec {
			return fmt.Errorf("exec: %w", storage.ErrPermission)
		}
		return nil
	})
	env := testEnv(t, m)
	err := env.Provision(context.Background(), "users", []string{"SELECT 1"}, testPlan().Groups)
	if !errors.Is(err, storage.ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}
	if m.HasColumn("users", "contact_info") {
		t.Fatalf("targets must not be added after a failed setup")
	}
}

type fakeBackend struct{ flushed int }

func (f *fakeBackend) IncCounter(string, float64, metrics.Labels)       {}
func (f *fakeBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (f *fakeBackend) Flush() error                                     { f.flushed++; return nil }

// TestOpen swaps the package seams; it must not run in parallel.
func TestOpen(t *testing.T) {
	origOpen, origProm, origDD := openStoreFn, newPromBackendFn, newDatadogBackendFn
	t.Cleanup(func() { openStoreFn, newPromBackendFn, newDatadogBackendFn = origOpen, origProm, origDD })

	var seen []storage.Config
	openStoreFn = func(_ context.Context, cfg storage.Config) (storage.Store, error) {
		seen = append(seen, cfg)
		return storetest.New(), nil
	}
	fb := &fakeBackend{}
	newPromBackendFn = func(job, url string) (metrics.Backend, error) {
		if job != "dbtidy" || url != "http://gw:9091" {
			t.Fatalf("prom backend job=%q url=%q", job, url)
		}
		return fb, nil
	}
	newDatadogBackendFn = func(datadog.Config) (metrics.Backend, error) {
		return nil, errors.New("no agent")
	}

	cfg := &config.Config{
		Driver: "postgres", Endpoint: "postgres://db/app",
		ServiceCredential: "svc:pw", ReadCredential: "ro:pw",
		Retries: 2, MetricsBackend: "prometheus", PushgatewayURL: "http://gw:9091",
	}
	env, err := Open(context.Background(), cfg, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(seen) != 2 || seen[0].Credential != "svc:pw" || seen[1].Credential != "ro:pw" {
		t.Fatalf("opened = %+v", seen)
	}
	if _, ok := env.Admin.(*retry.Store); !ok {
		t.Fatalf("admin store is not retry-wrapped: %T", env.Admin)
	}
	if env.Reader == env.Admin {
		t.Fatalf("read credential must open a separate store")
	}
	if err := env.Close(); err != nil || fb.flushed != 1 {
		t.Fatalf("Close = %v, flushed %d", err, fb.flushed)
	}

	cfg.ReadCredential = ""
	cfg.MetricsBackend = "datadog"
	env, err = Open(context.Background(), cfg, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if env.Reader != env.Admin || env.backend != nil {
		t.Fatalf("expected shared store and disabled metrics")
	}
	env.Close()
}
