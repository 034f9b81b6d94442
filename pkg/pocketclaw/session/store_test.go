package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path, DefaultPreferences(), nil)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	return s, path
}

func TestGetOrCreateDefaults(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	sess := s.GetOrCreate("u1")

	if sess.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", sess.UserID, "u1")
	}
	if sess.ConversationHandle != "" {
		t.Errorf("ConversationHandle = %q, want empty", sess.ConversationHandle)
	}
	if sess.TurnCount != 0 {
		t.Errorf("TurnCount = %d, want 0", sess.TurnCount)
	}
	if !sess.Preferences.AutoCompact {
		t.Error("Preferences.AutoCompact = false, want true")
	}
	if sess.Preferences.CompactThreshold != 20 {
		t.Errorf("Preferences.CompactThreshold = %d, want 20", sess.Preferences.CompactThreshold)
	}
	if sess.LastActive.IsZero() {
		t.Error("LastActive is zero, want set")
	}

	// A second call returns the same record, it does not re-materialize.
	if _, err := s.Update("u1", func(u *UserSession) { u.TurnCount = 3 }); err != nil {
		t.Fatalf("Update() = %v", err)
	}
	if again := s.GetOrCreate("u1"); again.TurnCount != 3 {
		t.Errorf("TurnCount after re-get = %d, want 3", again.TurnCount)
	}
}

func TestUpdateSurvivesReopen(t *testing.T) {
	t.Parallel()

	s, path := newTestStore(t)
	_, err := s.Update("u1", func(u *UserSession) {
		u.ConversationHandle = "conv-abc"
		u.TurnCount = 7
	})
	if err != nil {
		t.Fatalf("Update() = %v", err)
	}

	reopened, err := Open(path, DefaultPreferences(), nil)
	if err != nil {
		t.Fatalf("reopen: Open() = %v", err)
	}
	sess, ok := reopened.Get("u1")
	if !ok {
		t.Fatal("session missing after reopen")
	}
	if sess.ConversationHandle != "conv-abc" {
		t.Errorf("ConversationHandle = %q, want %q", sess.ConversationHandle, "conv-abc")
	}
	if sess.TurnCount != 7 {
		t.Errorf("TurnCount = %d, want 7", sess.TurnCount)
	}
}

func TestCreationIsDurable(t *testing.T) {
	t.Parallel()

	s, path := newTestStore(t)
	s.GetOrCreate("u9")

	reopened, err := Open(path, DefaultPreferences(), nil)
	if err != nil {
		t.Fatalf("reopen: Open() = %v", err)
	}
	if _, ok := reopened.Get("u9"); !ok {
		t.Error("freshly created session not persisted")
	}
}

func TestResetIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.Update("u1", func(u *UserSession) {
		u.ConversationHandle = "conv-x"
		u.TurnCount = 12
		u.Preferences.AutoCompact = false
	})
	if err != nil {
		t.Fatalf("Update() = %v", err)
	}

	first, err := s.Reset("u1")
	if err != nil {
		t.Fatalf("Reset() = %v", err)
	}
	second, err := s.Reset("u1")
	if err != nil {
		t.Fatalf("second Reset() = %v", err)
	}

	for name, sess := range map[string]UserSession{"first": first, "second": second} {
		if sess.ConversationHandle != "" {
			t.Errorf("%s reset: ConversationHandle = %q, want empty", name, sess.ConversationHandle)
		}
		if sess.TurnCount != 0 {
			t.Errorf("%s reset: TurnCount = %d, want 0", name, sess.TurnCount)
		}
		if sess.Preferences.AutoCompact {
			t.Errorf("%s reset: AutoCompact = true, want preserved false", name)
		}
	}
}

func TestResetRefreshesLastActive(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	before := s.GetOrCreate("u1").LastActive
	time.Sleep(5 * time.Millisecond)

	after, err := s.Reset("u1")
	if err != nil {
		t.Fatalf("Reset() = %v", err)
	}
	if !after.LastActive.After(before) {
		t.Errorf("LastActive not refreshed: before %v, after %v", before, after.LastActive)
	}
}

func TestCorruptStoreStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json at all"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, DefaultPreferences(), nil)
	if err != nil {
		t.Fatalf("Open() on corrupt file = %v, want nil", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt file not moved aside: %v", err)
	}

	// The store is usable immediately after.
	if _, err := s.Update("u1", nil); err != nil {
		t.Errorf("Update() after corruption = %v", err)
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	s, err := Open(path, DefaultPreferences(), nil)
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Update("u1", func(u *UserSession) { u.TurnCount++ }); err != nil {
			t.Fatalf("Update() = %v", err)
		}
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestConcurrentUsersIsolated(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	const users = 8
	const turns = 10

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", n)
			for j := 0; j < turns; j++ {
				_, err := s.Update(id, func(u *UserSession) {
					u.TurnCount++
					u.ConversationHandle = fmt.Sprintf("conv-%d", n)
				})
				if err != nil {
					t.Errorf("Update(%s) = %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < users; i++ {
		id := fmt.Sprintf("user-%d", i)
		sess, ok := s.Get(id)
		if !ok {
			t.Fatalf("session %s missing", id)
		}
		if sess.TurnCount != turns {
			t.Errorf("%s TurnCount = %d, want %d", id, sess.TurnCount, turns)
		}
		if want := fmt.Sprintf("conv-%d", i); sess.ConversationHandle != want {
			t.Errorf("%s ConversationHandle = %q, want %q", id, sess.ConversationHandle, want)
		}
	}
}

func TestHandleInUse(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	if _, err := s.Update("u1", func(u *UserSession) { u.ConversationHandle = "conv-live" }); err != nil {
		t.Fatalf("Update() = %v", err)
	}

	if !s.HandleInUse("conv-live") {
		t.Error("HandleInUse(conv-live) = false, want true")
	}
	if s.HandleInUse("conv-gone") {
		t.Error("HandleInUse(conv-gone) = true, want false")
	}
	if s.HandleInUse("") {
		t.Error("HandleInUse(empty) = true, want false")
	}
}

func TestAllSortedByActivity(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	for _, id := range []string{"old", "mid", "new"} {
		if _, err := s.Update(id, nil); err != nil {
			t.Fatalf("Update(%s) = %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	if all[0].UserID != "new" || all[2].UserID != "old" {
		t.Errorf("order = [%s %s %s], want [new mid old]",
			all[0].UserID, all[1].UserID, all[2].UserID)
	}
}
