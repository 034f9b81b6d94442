package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// storeFile is the on-disk shape of the session store.
type storeFile struct {
	Version  int                     `json:"version"`
	Sessions map[string]*UserSession `json:"sessions"`
}

const storeFileVersion = 1

// Store is the durable session registry. Reads are cheap and concurrent;
// mutations run under a per-user lock and are flushed to disk before the
// call returns. Operations on different users never serialize on each
// other beyond the brief map access.
type Store struct {
	path     string
	defaults Preferences
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*UserSession

	userMuMu sync.Mutex
	userMu   map[string]*sync.Mutex

	fileMu sync.Mutex
}

// Open loads the store from path, or starts empty when the file does not
// exist. A file that cannot be parsed is moved aside and logged loudly;
// the store comes up empty rather than failing.
func Open(path string, defaults Preferences, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:     path,
		defaults: defaults,
		logger:   logger.With("component", "session"),
		sessions: make(map[string]*UserSession),
		userMu:   make(map[string]*sync.Mutex),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session store: %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Error("session store corrupt, starting empty",
			"path", path, "error", err)
		backup := path + ".corrupt"
		if renameErr := os.Rename(path, backup); renameErr == nil {
			s.logger.Warn("corrupt store moved aside", "backup", backup)
		}
		return s, nil
	}

	for id, sess := range file.Sessions {
		if sess == nil {
			continue
		}
		sess.UserID = id
		if sess.TurnCount < 0 {
			sess.TurnCount = 0
		}
		s.sessions[id] = sess
	}
	s.logger.Info("session store loaded", "path", path, "sessions", len(s.sessions))
	return s, nil
}

// GetOrCreate returns the session for userID, materializing defaults on
// first contact. The returned value is a copy; all mutation goes through
// Update or Reset.
func (s *Store) GetOrCreate(userID string) UserSession {
	s.mu.RLock()
	if sess, ok := s.sessions[userID]; ok {
		snapshot := *sess
		s.mu.RUnlock()
		return snapshot
	}
	s.mu.RUnlock()

	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &UserSession{
			UserID:      userID,
			LastActive:  time.Now(),
			Preferences: s.defaults,
		}
		s.sessions[userID] = sess
	}
	snapshot := *sess
	s.mu.Unlock()

	if !ok {
		if err := s.persist(); err != nil {
			s.logger.Error("persist new session", "user", userID, "error", err)
		}
	}
	return snapshot
}

// Get returns a copy of an existing session without creating one.
func (s *Store) Get(userID string) (UserSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return UserSession{}, false
	}
	return *sess, true
}

// Update applies mutate to the user's session under that user's lock,
// refreshes LastActive, and flushes the store before returning. The
// returned copy reflects the applied mutation.
func (s *Store) Update(userID string, mutate func(*UserSession)) (UserSession, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &UserSession{
			UserID:      userID,
			Preferences: s.defaults,
		}
		s.sessions[userID] = sess
	}
	if mutate != nil {
		mutate(sess)
	}
	if sess.TurnCount < 0 {
		sess.TurnCount = 0
	}
	sess.UserID = userID
	sess.LastActive = time.Now()
	snapshot := *sess
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return snapshot, fmt.Errorf("persist session store: %w", err)
	}
	return snapshot, nil
}

// Reset clears the conversation handle and turn count, keeping the user's
// preferences. Calling it twice is the same as calling it once.
func (s *Store) Reset(userID string) (UserSession, error) {
	return s.Update(userID, func(sess *UserSession) {
		sess.ConversationHandle = ""
		sess.TurnCount = 0
	})
}

// All returns copies of every session, most recently active first.
func (s *Store) All() []UserSession {
	s.mu.RLock()
	out := make([]UserSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

// Len reports the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// HandleInUse reports whether any stored session currently references the
// given conversation handle. Directory cleanup consults this before
// deleting anything.
func (s *Store) HandleInUse(handle string) bool {
	if handle == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.ConversationHandle == handle {
			return true
		}
	}
	return false
}

// lockFor returns the mutation lock for one user, creating it on demand.
func (s *Store) lockFor(userID string) *sync.Mutex {
	s.userMuMu.Lock()
	defer s.userMuMu.Unlock()
	if m, ok := s.userMu[userID]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.userMu[userID] = m
	return m
}

// persist writes the whole store with an atomic tmp-file replace, so a
// crash mid-write never leaves a truncated document behind.
func (s *Store) persist() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.RLock()
	data, err := json.MarshalIndent(storeFile{
		Version:  storeFileVersion,
		Sessions: s.sessions,
	}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	return atomicWrite(s.path, data, 0600)
}

// atomicWrite writes data to a temp file in the target directory, syncs
// it, then renames over path.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
