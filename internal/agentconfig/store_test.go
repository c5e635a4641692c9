package agentconfig

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "agent_config.json"), filepath.Join(dir, "backups"))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s
}

func TestLoad_MissingFallsBackToDefaults(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Load()
	if !errors.Is(err, models.ErrConfigUnreadable) {
		t.Fatalf("expected ErrConfigUnreadable, got %v", err)
	}
	if snap.MinEdgeThreshold != 3.0 || snap.MinNewsSources != 3 || snap.Version != 0 {
		t.Errorf("unexpected defaults: %+v", snap)
	}
	if snap.ConfidenceMultipliers == nil || snap.LessonsLearned == nil {
		t.Error("defaults must carry empty, non-nil collections")
	}
}

func TestLoad_CorruptFallsBackToDefaults(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	snap := s.Reload()
	if snap.Version != 0 || snap.MinEdgeThreshold != DefaultMinEdgeThreshold {
		t.Errorf("expected defaults for corrupt document, got %+v", snap)
	}
}

func TestLoad_PartialDocumentKeepsDefaults(t *testing.T) {
	s := newTestStore(t)
	doc := `{"min_edge_threshold": 5, "version": 4}`
	if err := os.WriteFile(s.Path(), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.MinEdgeThreshold != 5 || snap.Version != 4 || snap.MinNewsSources != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestUpdate_VersionsAndBackups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const runs = 3
	for i := 0; i < runs; i++ {
		threshold := float64(4 + i)
		_, changed, err := s.Update(ctx, func(cfg *Snapshot) (bool, error) {
			cfg.MinEdgeThreshold = threshold
			return true, nil
		})
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		if !changed {
			t.Fatalf("Update %d reported no change", i)
		}
	}

	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Version != runs {
		t.Errorf("version = %d, want %d", snap.Version, runs)
	}
	if snap.MinEdgeThreshold != 6 {
		t.Errorf("threshold = %v, want 6", snap.MinEdgeThreshold)
	}
	if snap.LastUpdated == "" {
		t.Error("last_updated not stamped")
	}

	backups, err := s.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != runs {
		t.Fatalf("got %d backups, want %d", len(backups), runs)
	}

	// The newest backup holds the document as it was before the last run.
	data, err := os.ReadFile(backups[len(backups)-1])
	if err != nil {
		t.Fatal(err)
	}
	prev, err := decode(data)
	if err != nil {
		t.Fatalf("backup not decodable: %v", err)
	}
	if prev.Version != runs-1 || prev.MinEdgeThreshold != 5 {
		t.Errorf("latest backup = %+v, want version %d threshold 5", prev, runs-1)
	}
}

func TestUpdate_NoChangeWritesNothing(t *testing.T) {
	s := newTestStore(t)
	snap, changed, err := s.Update(context.Background(), func(cfg *Snapshot) (bool, error) {
		return false, nil
	})
	if err != nil || changed {
		t.Fatalf("Update = %v, %v; want no change", changed, err)
	}
	if snap.Version != 0 {
		t.Errorf("version = %d, want 0", snap.Version)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("document written despite no change")
	}
	backups, _ := s.Backups()
	if len(backups) != 0 {
		t.Errorf("got %d backups, want 0", len(backups))
	}
}

func TestUpdate_ErrorLeavesDocument(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")
	_, _, err := s.Update(context.Background(), func(cfg *Snapshot) (bool, error) {
		cfg.MinEdgeThreshold = 99
		return true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if snap := s.Reload(); snap.MinEdgeThreshold != DefaultMinEdgeThreshold {
		t.Errorf("threshold changed to %v after failed update", snap.MinEdgeThreshold)
	}
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	_, changed, err := s.Update(context.Background(), func(cfg *Snapshot) (bool, error) {
		cfg.ProbabilityDampening = 1.5
		return true, nil
	})
	if err == nil || changed {
		t.Fatalf("expected invalid config to be rejected, got changed=%v err=%v", changed, err)
	}
}

func TestReload_ReturnsIndependentCopies(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Update(context.Background(), func(cfg *Snapshot) (bool, error) {
		cfg.ConfidenceMultipliers["crypto"] = 0.8
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	a := s.Reload()
	a.ConfidenceMultipliers["crypto"] = 0.1
	if b := s.Reload(); b.ConfidenceMultipliers["crypto"] != 0.8 {
		t.Errorf("mutating one snapshot leaked into another: %v", b.ConfidenceMultipliers)
	}
}

func TestSnapshotHelpers(t *testing.T) {
	cfg := Defaults()
	cfg.ConfidenceMultipliers["sports"] = 0.8
	cfg.ConfidenceMultipliers["broken"] = -1

	if got := cfg.Multiplier("politics"); got != 1.0 {
		t.Errorf("default multiplier = %v", got)
	}
	if got := cfg.Multiplier("broken"); got != 1.0 {
		t.Errorf("non-positive multiplier not ignored: %v", got)
	}
	if got := cfg.EffectiveThreshold("sports"); math.Abs(got-3.75) > 1e-9 {
		t.Errorf("effective threshold = %v, want 3.75", got)
	}

	added := cfg.AppendLessons([]string{"Check injury reports", "check  injury reports", "", "Weight polls less"})
	if added != 2 || len(cfg.LessonsLearned) != 2 {
		t.Errorf("AppendLessons added %d, lessons %v", added, cfg.LessonsLearned)
	}
	prompt := cfg.LessonsPrompt()
	if !strings.Contains(prompt, "LESSONS FROM PAST MISTAKES") || !strings.Contains(prompt, "2. Weight polls less") {
		t.Errorf("unexpected lessons prompt: %q", prompt)
	}
	if Defaults().LessonsPrompt() != "" {
		t.Error("expected empty prompt without lessons")
	}
}
