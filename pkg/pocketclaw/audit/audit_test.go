package audit

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := newTestLog(t)

	l.Record(Entry{
		RunID: "run-1", UserID: "7", Channel: "telegram", Kind: KindText,
		Outcome: OutcomeOK, Session: "s-1", PromptChars: 20, OutputChars: 400,
		Turn: 1, DurationMS: 4200, CostUSD: 0.012,
	})
	l.Record(Entry{
		RunID: "run-2", UserID: "7", Channel: "telegram", Kind: KindVoice,
		Outcome: OutcomeOK, Turn: 2, CostUSD: 0.03,
	})

	entries, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].RunID != "run-2" {
		t.Errorf("entries[0].RunID = %q, want run-2", entries[0].RunID)
	}
	if entries[1].Kind != KindText || entries[1].OutputChars != 400 {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if entries[1].CreatedAt.IsZero() {
		t.Error("CreatedAt should be populated")
	}
}

func TestStatsFor(t *testing.T) {
	l := newTestLog(t)

	l.Record(Entry{RunID: "a", UserID: "7", Kind: KindText, Outcome: OutcomeOK, CostUSD: 0.01, DurationMS: 1000})
	l.Record(Entry{RunID: "b", UserID: "7", Kind: KindText, Outcome: OutcomeError, CostUSD: 0.02, DurationMS: 500})
	l.Record(Entry{RunID: "c", UserID: "9", Kind: KindText, Outcome: OutcomeOK, CostUSD: 0.5})

	stats, err := l.StatsFor("7")
	if err != nil {
		t.Fatalf("StatsFor: %v", err)
	}
	if stats.Turns != 2 {
		t.Errorf("Turns = %d, want 2", stats.Turns)
	}
	if stats.CostUSD != 0.03 {
		t.Errorf("CostUSD = %v, want 0.03", stats.CostUSD)
	}
	if stats.DurationMS != 1500 {
		t.Errorf("DurationMS = %d, want 1500", stats.DurationMS)
	}

	empty, err := l.StatsFor("nobody")
	if err != nil {
		t.Fatalf("StatsFor(nobody): %v", err)
	}
	if empty.Turns != 0 || empty.CostUSD != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestTotalStats(t *testing.T) {
	l := newTestLog(t)

	l.Record(Entry{RunID: "a", UserID: "7", Kind: KindText, Outcome: OutcomeOK, CostUSD: 0.01})
	l.Record(Entry{RunID: "b", UserID: "9", Kind: KindVoice, Outcome: OutcomeError, CostUSD: 0.02})
	l.Record(Entry{RunID: "c", UserID: "9", Kind: KindCommand, Outcome: OutcomeRejected})

	totals, err := l.TotalStats()
	if err != nil {
		t.Fatalf("TotalStats: %v", err)
	}
	if totals.Turns != 3 {
		t.Errorf("Turns = %d, want 3", totals.Turns)
	}
	if totals.Users != 2 {
		t.Errorf("Users = %d, want 2", totals.Users)
	}
	if totals.Errors != 1 {
		t.Errorf("Errors = %d, want 1", totals.Errors)
	}
}

func TestPrune(t *testing.T) {
	l := newTestLog(t)

	l.Record(Entry{RunID: "old", UserID: "7", Kind: KindText, Outcome: OutcomeOK,
		CreatedAt: time.Now().Add(-72 * time.Hour)})
	l.Record(Entry{RunID: "new", UserID: "7", Kind: KindText, Outcome: OutcomeOK})

	removed, err := l.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	entries, err := l.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].RunID != "new" {
		t.Errorf("entries = %+v, want only run new", entries)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.db")
	l, err := Open(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}
