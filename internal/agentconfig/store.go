package agentconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/lock"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

const backupTimeLayout = "20060102_150405"

// Store persists the configuration document and its backups.
type Store struct {
	path      string
	backupDir string
	now       func() time.Time
	mu        sync.Mutex
}

// NewStore returns a store for the document at path. An empty backupDir
// defaults to a "backups" directory next to the document.
func NewStore(path, backupDir string) *Store {
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(path), "backups")
	}
	return &Store{path: path, backupDir: backupDir, now: time.Now}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the current document. On a missing or corrupt document it
// returns Defaults together with an error wrapping models.ErrConfigUnreadable.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Defaults(), fmt.Errorf("%w: %v", models.ErrConfigUnreadable, err)
	}
	return decode(data)
}

// Reload returns a fresh snapshot of the persisted document, falling back to
// defaults (with a warning) when it cannot be read.
func (s *Store) Reload() Snapshot {
	snap, err := s.Load()
	if err != nil {
		logger.Warn("Using default agent config: %v", err)
	}
	return snap
}

// Update runs fn against a mutable copy of the latest document while holding
// the config lock. When fn reports a change, the previous document is kept as
// a timestamped backup, the version is bumped, and the new document replaces
// the old one atomically. The returned snapshot is the one now in effect.
func (s *Store) Update(ctx context.Context, fn func(*Snapshot) (bool, error)) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl := lock.New(s.path + ".lock")
	if err := fl.Lock(ctx, 0); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to acquire config lock: %w", err)
	}
	defer fl.Unlock() //nolint:errcheck

	prevRaw, readErr := os.ReadFile(s.path)
	current := Defaults()
	if readErr == nil {
		var err error
		if current, err = decode(prevRaw); err != nil {
			logger.Warn("Agent config corrupt, updating from defaults: %v", err)
		}
	} else {
		logger.Warn("Agent config unreadable, updating from defaults: %v", readErr)
	}

	next := current.Clone()
	changed, err := fn(&next)
	if err != nil {
		return current, false, err
	}
	if !changed {
		return current, false, nil
	}
	if err := next.Validate(); err != nil {
		return current, false, fmt.Errorf("invalid agent config: %w", err)
	}

	now := s.now().UTC()
	next.Version = current.Version + 1
	next.LastUpdated = now.Format(time.RFC3339)

	if readErr != nil {
		if prevRaw, err = json.MarshalIndent(current, "", "  "); err != nil {
			return current, false, fmt.Errorf("failed to encode previous agent config: %w", err)
		}
	}
	if _, err := s.writeBackup(prevRaw, now); err != nil {
		return current, false, err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return current, false, fmt.Errorf("failed to encode agent config: %w", err)
	}
	if err := writeAtomic(s.path, append(data, '\n')); err != nil {
		return current, false, err
	}

	logger.Info("Agent config updated to version %d", next.Version)
	return next, true, nil
}

// Backups lists backup files, oldest first.
func (s *Store) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	prefix := filepath.Base(s.path) + ".backup."
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(s.backupDir, e.Name()))
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (s *Store) writeBackup(data []byte, now time.Time) (string, error) {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	base := filepath.Join(s.backupDir, filepath.Base(s.path)+".backup."+now.Format(backupTimeLayout))
	name := base
	for i := 1; ; i++ {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = fmt.Sprintf("%s.%d", base, i)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create backup: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write backup: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to close backup: %w", err)
		}
		return name, nil
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func decode(data []byte) (Snapshot, error) {
	snap := Defaults()
	if err := json.Unmarshal(data, &snap); err != nil {
		return Defaults(), fmt.Errorf("%w: %v", models.ErrConfigUnreadable, err)
	}
	if snap.ConfidenceMultipliers == nil {
		snap.ConfidenceMultipliers = map[string]float64{}
	}
	if snap.LessonsLearned == nil {
		snap.LessonsLearned = []string{}
	}
	if err := snap.Validate(); err != nil {
		return Defaults(), fmt.Errorf("%w: %v", models.ErrConfigUnreadable, err)
	}
	return snap, nil
}
