package claude

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrSessionNotFound is returned when no stored conversation matches the
// requested handle.
var ErrSessionNotFound = errors.New("claude: session not found")

// ProjectStore reads and manages the CLI's on-disk session directory.
// Each conversation lives at <root>/<project>/<handle>.jsonl where
// <project> is a slug of the working directory the run happened in.
type ProjectStore struct {
	root   string
	logger *slog.Logger
}

// NewProjectStore wires a store over root. Empty root resolves to the
// CLI's default directory under the user's home.
func NewProjectStore(root string, logger *slog.Logger) *ProjectStore {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, ".claude", "projects")
		}
	}
	return &ProjectStore{root: root, logger: logger.With("component", "projects")}
}

// Root returns the resolved session directory.
func (s *ProjectStore) Root() string { return s.root }

// projectSlug mirrors how the CLI names per-directory session folders:
// path separators and dots are flattened to dashes.
func projectSlug(workDir string) string {
	if workDir == "" {
		return ""
	}
	slug := strings.ReplaceAll(workDir, "/", "-")
	slug = strings.ReplaceAll(slug, ".", "-")
	return slug
}

// List returns all stored conversations, newest first. A non-empty
// projectPrefix restricts results to project folders whose name starts
// with it. A missing root directory is an empty store, not an error.
func (s *ProjectStore) List(projectPrefix string) ([]ConversationRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session root %s: %w", s.root, err)
	}

	var records []ConversationRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		project := entry.Name()
		if projectPrefix != "" && !strings.HasPrefix(project, projectPrefix) {
			continue
		}
		projectDir := filepath.Join(s.root, project)
		files, err := os.ReadDir(projectDir)
		if err != nil {
			s.logger.Warn("skipping unreadable project dir", "dir", projectDir, "error", err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			records = append(records, ConversationRecord{
				Handle:     strings.TrimSuffix(f.Name(), ".jsonl"),
				Path:       filepath.Join(projectDir, f.Name()),
				Project:    project,
				ModifiedAt: info.ModTime(),
				SizeBytes:  info.Size(),
			})
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ModifiedAt.After(records[j].ModifiedAt)
	})
	return records, nil
}

// Info loads the record for one handle, including its on-disk turn count.
func (s *ProjectStore) Info(handle string) (*ConversationRecord, error) {
	rec, err := s.find(handle)
	if err != nil {
		return nil, err
	}
	turns, err := countLines(rec.Path)
	if err != nil {
		s.logger.Warn("counting session turns failed", "path", rec.Path, "error", err)
	} else {
		rec.TurnsOnDisk = turns
	}
	return rec, nil
}

// Delete removes one stored conversation.
func (s *ProjectStore) Delete(handle string) error {
	rec, err := s.find(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(rec.Path); err != nil {
		return fmt.Errorf("delete session %s: %w", handle, err)
	}
	s.logger.Info("deleted stored session", "session", handle, "project", rec.Project)
	return nil
}

// Cleanup deletes stored conversations older than maxAge. Handles for
// which inUse reports true are always kept regardless of age. It returns
// the number of files removed.
func (s *ProjectStore) Cleanup(projectPrefix string, maxAge time.Duration, inUse func(handle string) bool) (int, error) {
	records, err := s.List(projectPrefix)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)

	removed := 0
	for _, rec := range records {
		if !rec.ModifiedAt.Before(cutoff) {
			continue
		}
		if inUse != nil && inUse(rec.Handle) {
			s.logger.Debug("keeping in-use session past cutoff", "session", rec.Handle)
			continue
		}
		if err := os.Remove(rec.Path); err != nil {
			s.logger.Warn("removing stale session failed", "path", rec.Path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("cleaned up stale sessions", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}

// NewestHandle returns the most recently modified conversation handle,
// optionally restricted by project prefix. Empty string means none exist.
func (s *ProjectStore) NewestHandle(projectPrefix string) (string, error) {
	records, err := s.List(projectPrefix)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].Handle, nil
}

// find locates the record for one handle anywhere under root.
func (s *ProjectStore) find(handle string) (*ConversationRecord, error) {
	records, err := s.List("")
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Handle == handle {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
}

// countLines counts non-empty lines; each line in a session file is one
// recorded event.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, scanBufInitial), scanBufMax)
	n := 0
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) > 0 {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return n, err
	}
	return n, nil
}
