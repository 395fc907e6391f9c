package evolution

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/events"
	"github.com/mnemosyne/mnemosyne/internal/store"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

func setupEvolutionStore(t *testing.T) (*store.Store, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := config.StoreConfig{
		DataDir:            tmpDir,
		DBFileName:         "evolution-test.db",
		EmbeddingDimension: 0,
		HybridWeights:      config.HybridWeights{Keyword: 0.4, Vector: 0.3, Graph: 0.3},
		GraphTraversalCap:  256,
	}
	s, err := store.Open(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}
}

func testEvolutionConfig() config.EvolutionConfig {
	return config.EvolutionConfig{
		IdleFor:            0,
		Recalibration:      config.JobConfig{Enabled: true, Interval: time.Millisecond, BatchSize: 50},
		LinkDecay:          config.JobConfig{Enabled: true, Interval: time.Millisecond, BatchSize: 50},
		Archival:           config.JobConfig{Enabled: true, Interval: time.Millisecond, BatchSize: 50},
		Consolidation:      config.JobConfig{Enabled: false, Interval: time.Millisecond, BatchSize: 50},
		RecalibrationAlpha: 0.5,
		RecalibrationBeta:  0.2,
		LinkDecayWindow:    7 * 24 * time.Hour,
		LinkDecayDelta:     0.5,
		LinkMinStrength:    0.2,
		ArchiveThreshold:   3,
		ArchiveAge:         -time.Hour, // cutoff in the future: every existing note already qualifies as "old enough"
		MergeThreshold:     0.95,
	}
}

func TestImportanceRecalibrationLowersNeverAccessedNote(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()
	ctx := context.Background()

	note := &types.MemoryNote{
		Namespace:  types.Global(),
		Content:    "a note nobody has ever looked at",
		MemoryType: types.MemoryInsight,
		Importance: 8,
	}
	if err := s.StoreNote(ctx, note); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}

	cfg := testEvolutionConfig()
	report, err := runImportanceRecalibration(ctx, s, cfg, 50)
	if err != nil {
		t.Fatalf("runImportanceRecalibration failed: %v", err)
	}
	if report.Scanned != 1 {
		t.Errorf("expected 1 scanned, got %d", report.Scanned)
	}

	got, err := s.GetNote(ctx, note.ID, true)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if got.Importance >= 8 {
		t.Errorf("expected a never-accessed note's importance to drop below 8, got %d", got.Importance)
	}
}

func TestImportanceRecalibrationRaisesFrequentlyAccessedNote(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()
	ctx := context.Background()

	note := &types.MemoryNote{
		Namespace:  types.Global(),
		Content:    "a note the executor keeps pulling up",
		MemoryType: types.MemoryInsight,
		Importance: 2,
	}
	if err := s.StoreNote(ctx, note); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := s.GetNote(ctx, note.ID, false); err != nil {
			t.Fatalf("GetNote failed: %v", err)
		}
	}

	cfg := testEvolutionConfig()
	if _, err := runImportanceRecalibration(ctx, s, cfg, 50); err != nil {
		t.Fatalf("runImportanceRecalibration failed: %v", err)
	}

	got, err := s.GetNote(ctx, note.ID, true)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if got.Importance <= 2 {
		t.Errorf("expected a heavily-accessed note's importance to rise above 2, got %d", got.Importance)
	}
}

func TestLinkDecayWeakensAndEventuallyDropsUntraversedLink(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()
	ctx := context.Background()

	a := &types.MemoryNote{Namespace: types.Global(), Content: "a", MemoryType: types.MemoryInsight}
	b := &types.MemoryNote{Namespace: types.Global(), Content: "b", MemoryType: types.MemoryInsight}
	if err := s.StoreNote(ctx, b); err != nil {
		t.Fatalf("StoreNote b failed: %v", err)
	}
	a.Links = []types.Link{{TargetID: b.ID, Type: types.LinkRelatesTo, Strength: 0.3}}
	if err := s.StoreNote(ctx, a); err != nil {
		t.Fatalf("StoreNote a failed: %v", err)
	}

	cfg := testEvolutionConfig() // delta=0.5, min_strength=0.2

	report, err := runLinkDecay(ctx, s, cfg, 50)
	if err != nil {
		t.Fatalf("runLinkDecay failed: %v", err)
	}
	if report.Mutated != 1 {
		t.Fatalf("expected 1 link mutated (0.3*0.5=0.15 < min 0.2, so dropped), got %d", report.Mutated)
	}

	got, err := s.GetNote(ctx, a.ID, true)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if len(got.Links) != 0 {
		t.Errorf("expected the decayed link to be removed, got %+v", got.Links)
	}
}

func TestLinkDecaySkipsRecentlyTraversedLink(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()
	ctx := context.Background()

	a := &types.MemoryNote{Namespace: types.Global(), Content: "a", MemoryType: types.MemoryInsight}
	b := &types.MemoryNote{Namespace: types.Global(), Content: "b", MemoryType: types.MemoryInsight}
	if err := s.StoreNote(ctx, b); err != nil {
		t.Fatalf("StoreNote b failed: %v", err)
	}
	a.Links = []types.Link{{TargetID: b.ID, Type: types.LinkRelatesTo, Strength: 0.9}}
	if err := s.StoreNote(ctx, a); err != nil {
		t.Fatalf("StoreNote a failed: %v", err)
	}
	s.TouchLinkTraversal(a.ID, b.ID, types.LinkRelatesTo)

	cfg := testEvolutionConfig()
	report, err := runLinkDecay(ctx, s, cfg, 50)
	if err != nil {
		t.Fatalf("runLinkDecay failed: %v", err)
	}
	if report.Mutated != 0 {
		t.Errorf("expected a recently traversed link to be left alone, got %d mutations", report.Mutated)
	}
}

func TestArchivalArchivesLowImportanceUnreferencedMemory(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()
	ctx := context.Background()

	note := &types.MemoryNote{
		Namespace:  types.Global(),
		Content:    "forgotten scratch note",
		MemoryType: types.MemoryInsight,
		Importance: 1,
	}
	if err := s.StoreNote(ctx, note); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}

	cfg := testEvolutionConfig() // archive_threshold=3, archive_age cutoff forced into the future
	report, err := runArchival(ctx, s, cfg, 50)
	if err != nil {
		t.Fatalf("runArchival failed: %v", err)
	}
	if report.Mutated != 1 {
		t.Fatalf("expected 1 memory archived, got %d", report.Mutated)
	}

	got, err := s.GetNote(ctx, note.ID, true)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if !got.IsArchived {
		t.Error("expected note to be archived")
	}
}

func TestArchivalSparesHighImportanceMemory(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()
	ctx := context.Background()

	note := &types.MemoryNote{
		Namespace:  types.Global(),
		Content:    "load-bearing decision",
		MemoryType: types.MemoryArchitectureDecision,
		Importance: 9,
	}
	if err := s.StoreNote(ctx, note); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}

	cfg := testEvolutionConfig()
	if _, err := runArchival(ctx, s, cfg, 50); err != nil {
		t.Fatalf("runArchival failed: %v", err)
	}

	got, err := s.GetNote(ctx, note.ID, true)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if got.IsArchived {
		t.Error("expected a high-importance memory to survive archival regardless of age")
	}
}

func TestArchivalSparesMemoryStillReferencedByUnarchivedNote(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()
	ctx := context.Background()

	target := &types.MemoryNote{Namespace: types.Global(), Content: "still cited", MemoryType: types.MemoryInsight, Importance: 1}
	if err := s.StoreNote(ctx, target); err != nil {
		t.Fatalf("StoreNote target failed: %v", err)
	}

	referrer := &types.MemoryNote{
		Namespace:  types.Global(),
		Content:    "references the above",
		MemoryType: types.MemoryInsight,
		Importance: 9,
		Links:      []types.Link{{TargetID: target.ID, Type: types.LinkRelatesTo, Strength: 1}},
	}
	if err := s.StoreNote(ctx, referrer); err != nil {
		t.Fatalf("StoreNote referrer failed: %v", err)
	}

	cfg := testEvolutionConfig()
	if _, err := runArchival(ctx, s, cfg, 50); err != nil {
		t.Fatalf("runArchival failed: %v", err)
	}

	got, err := s.GetNote(ctx, target.ID, true)
	if err != nil {
		t.Fatalf("GetNote failed: %v", err)
	}
	if got.IsArchived {
		t.Error("expected a still-referenced memory to survive archival")
	}
}

func TestSchedulerTickSkipsWhenEngineNotIdle(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()

	bus := events.NewBus(10, "test-instance")
	cfg := testEvolutionConfig()
	cfg.IdleFor = time.Hour // would never be satisfied if never observed idle

	sched := NewScheduler(s, cfg, zap.NewNop(), bus, busyEngine{})
	sched.Tick(context.Background())

	if len(sched.History()) != 0 {
		t.Errorf("expected no jobs to run while the engine is busy, got %d reports", len(sched.History()))
	}
}

type busyEngine struct{}

func (busyEngine) RunningCount() int { return 1 }

func TestSchedulerRunAllNowIgnoresIdleGateAndInterval(t *testing.T) {
	s, cleanup := setupEvolutionStore(t)
	defer cleanup()
	ctx := context.Background()

	note := &types.MemoryNote{Namespace: types.Global(), Content: "x", MemoryType: types.MemoryInsight, Importance: 5}
	if err := s.StoreNote(ctx, note); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}

	cfg := testEvolutionConfig()
	sched := NewScheduler(s, cfg, zap.NewNop(), nil, busyEngine{})

	reports := sched.RunAllNow(ctx)
	if len(reports) != 3 { // recalibration, link_decay, archival enabled; consolidation disabled
		t.Fatalf("expected 3 job reports, got %d", len(reports))
	}
	if len(sched.History()) != 3 {
		t.Errorf("expected history to record all 3 runs, got %d", len(sched.History()))
	}
}
