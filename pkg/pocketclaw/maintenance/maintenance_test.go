package maintenance

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type fakeCleaner struct {
	calls    int
	gotAge   time.Duration
	gotInUse func(string) bool
	removed  int
	err      error
}

func (f *fakeCleaner) Cleanup(prefix string, maxAge time.Duration, inUse func(string) bool) (int, error) {
	f.calls++
	f.gotAge = maxAge
	f.gotInUse = inUse
	return f.removed, f.err
}

type fakePruner struct {
	calls  int
	gotAge time.Duration
	pruned int64
	err    error
}

func (f *fakePruner) Prune(maxAge time.Duration) (int64, error) {
	f.calls++
	f.gotAge = maxAge
	return f.pruned, f.err
}

func TestRunNow(t *testing.T) {
	cleaner := &fakeCleaner{removed: 3}
	pruner := &fakePruner{pruned: 17}
	inUse := func(string) bool { return false }

	j := New(DefaultConfig(), cleaner, pruner, inUse, testLogger())
	removed, pruned := j.RunNow()

	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if pruned != 17 {
		t.Errorf("pruned = %d, want 17", pruned)
	}
	if cleaner.calls != 1 || pruner.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", cleaner.calls, pruner.calls)
	}
	if want := 30 * 24 * time.Hour; cleaner.gotAge != want {
		t.Errorf("session max age = %v, want %v", cleaner.gotAge, want)
	}
	if want := 90 * 24 * time.Hour; pruner.gotAge != want {
		t.Errorf("audit max age = %v, want %v", pruner.gotAge, want)
	}
	if cleaner.gotInUse == nil {
		t.Error("in-use guard was not passed through to the cleaner")
	}
}

func TestRunNowSkipsDisabledPasses(t *testing.T) {
	cleaner := &fakeCleaner{removed: 5}
	pruner := &fakePruner{pruned: 5}

	cfg := DefaultConfig()
	cfg.SessionMaxAgeDays = 0
	cfg.AuditMaxAgeDays = 0

	j := New(cfg, cleaner, pruner, nil, testLogger())
	removed, pruned := j.RunNow()

	if removed != 0 || pruned != 0 {
		t.Errorf("RunNow = %d/%d, want 0/0 with zero retention", removed, pruned)
	}
	if cleaner.calls != 0 || pruner.calls != 0 {
		t.Errorf("calls = %d/%d, want 0/0", cleaner.calls, pruner.calls)
	}
}

func TestRunNowNilDependencies(t *testing.T) {
	j := New(DefaultConfig(), nil, nil, nil, testLogger())
	removed, pruned := j.RunNow()
	if removed != 0 || pruned != 0 {
		t.Errorf("RunNow with nil deps = %d/%d, want 0/0", removed, pruned)
	}
}

func TestRunNowToleratesErrors(t *testing.T) {
	cleaner := &fakeCleaner{err: errors.New("disk gone")}
	pruner := &fakePruner{pruned: 2}

	j := New(DefaultConfig(), cleaner, pruner, nil, testLogger())
	removed, pruned := j.RunNow()

	if removed != 0 {
		t.Errorf("removed = %d, want 0 on cleaner error", removed)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2 (audit pass still runs)", pruned)
	}
}

func TestStartDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	j := New(cfg, &fakeCleaner{}, &fakePruner{}, nil, testLogger())
	if err := j.Start(); err != nil {
		t.Fatalf("Start disabled: %v", err)
	}
	j.Stop()
}

func TestStartInvalidSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Schedule = "not a cron expression"

	j := New(cfg, &fakeCleaner{}, &fakePruner{}, nil, testLogger())
	if err := j.Start(); err == nil {
		t.Error("Start should reject an invalid schedule")
	}
}

func TestStartAndStop(t *testing.T) {
	j := New(DefaultConfig(), &fakeCleaner{}, &fakePruner{}, nil, testLogger())
	if err := j.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled {
		t.Error("housekeeping should default to enabled")
	}
	if cfg.Schedule != "@daily" {
		t.Errorf("Schedule = %q, want @daily", cfg.Schedule)
	}
	if cfg.SessionMaxAgeDays != 30 || cfg.AuditMaxAgeDays != 90 {
		t.Errorf("retention = %d/%d days, want 30/90",
			cfg.SessionMaxAgeDays, cfg.AuditMaxAgeDays)
	}
}

func TestNewBackfillsSchedule(t *testing.T) {
	cfg := Config{Enabled: true}
	j := New(cfg, nil, nil, nil, testLogger())
	if j.cfg.Schedule != "@daily" {
		t.Errorf("Schedule = %q, want backfilled @daily", j.cfg.Schedule)
	}
}
