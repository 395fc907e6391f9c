package evaluation

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/store"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

func setupEvaluationStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.StoreConfig{
		DataDir:    tmpDir,
		DBFileName: "evaluation-test.db",
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

func TestHashTaskNeverContainsRawDescription(t *testing.T) {
	h := HashTask("implement the OAuth refresh-token rotation flow", 16)
	if len(h) != 16 {
		t.Fatalf("expected 16-char hash, got %d: %q", len(h), h)
	}
	if strings.Contains(strings.ToLower(h), "oauth") {
		t.Fatalf("hash leaked raw task text: %q", h)
	}
}

func TestHashTaskIsDeterministic(t *testing.T) {
	a := HashTask("refactor the router", 16)
	b := HashTask("refactor the router", 16)
	if a != b {
		t.Errorf("expected identical input to hash identically, got %q vs %q", a, b)
	}
}

func TestFilterKeywordsCapsAndDedupesAndDropsStopwords(t *testing.T) {
	raw := []string{"the", "Go", "go", "concurrency", "a", "channels", "an", "select", "goroutines", "mutex", "context", "errgroup", "waitgroup"}
	got := FilterKeywords(raw, 10)
	if len(got) > 10 {
		t.Fatalf("expected at most 10 keywords, got %d", len(got))
	}
	for _, kw := range got {
		if kw == "the" || kw == "a" || kw == "an" {
			t.Errorf("expected stopwords to be filtered, found %q", kw)
		}
	}
	seen := map[string]bool{}
	for _, kw := range got {
		if seen[kw] {
			t.Errorf("expected deduped keywords, found repeat %q", kw)
		}
		seen[kw] = true
	}
}

func TestJaccardOverlap(t *testing.T) {
	a := []string{"go", "concurrency", "channels"}
	b := []string{"go", "channels", "mutex"}
	got := JaccardOverlap(a, b)
	want := 2.0 / 4.0 // intersection {go, channels}=2, union {go,concurrency,channels,mutex}=4
	if got != want {
		t.Errorf("JaccardOverlap(%v, %v) = %f, want %f", a, b, got, want)
	}
	if JaccardOverlap(nil, nil) != 0 {
		t.Error("expected JaccardOverlap of two empty sets to be 0")
	}
}

func testEvaluationConfig() config.EvaluationConfig {
	return config.EvaluationConfig{Enabled: true, KeywordCap: 10, HashTruncation: 16}
}

func TestCollectorRecordsLifecycleAndNeverStoresRawTask(t *testing.T) {
	s, cleanup := setupEvaluationStore(t)
	defer cleanup()
	ctx := context.Background()

	collector := NewCollector(s, testEvaluationConfig())
	id, err := collector.RecordContextProvided(ctx, "sess-1", types.RoleExecutor, "project:mnemo",
		"memory", "mem-42", "implement OAuth refresh-token rotation", []string{"oauth", "refresh", "token", "rotation"})
	if err != nil {
		t.Fatalf("RecordContextProvided failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty record id")
	}

	if err := collector.RecordAccessed(ctx, id, 250*time.Millisecond); err != nil {
		t.Fatalf("RecordAccessed failed: %v", err)
	}
	if err := collector.RecordEdited(ctx, id); err != nil {
		t.Fatalf("RecordEdited failed: %v", err)
	}
	if err := collector.RecordCommitted(ctx, id); err != nil {
		t.Fatalf("RecordCommitted failed: %v", err)
	}

	rec, err := s.GetEvaluationRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetEvaluationRecord failed: %v", err)
	}
	if !rec.WasAccessed || rec.AccessCount != 1 || !rec.WasEdited || !rec.WasCommitted {
		t.Errorf("expected all recorded signals to be reflected, got %+v", rec)
	}
	if rec.TimeToFirstAccessMs == nil || *rec.TimeToFirstAccessMs != 250 {
		t.Errorf("expected time_to_first_access_ms=250, got %v", rec.TimeToFirstAccessMs)
	}
	for _, kw := range rec.Keywords {
		if strings.Contains(strings.ToLower(kw), "implement") {
			t.Errorf("expected no raw task text fragments among stored keywords, got %v", rec.Keywords)
		}
	}
}

func TestCollectorDisabledIsNoOp(t *testing.T) {
	s, cleanup := setupEvaluationStore(t)
	defer cleanup()
	ctx := context.Background()

	collector := NewCollector(s, config.EvaluationConfig{Enabled: false})
	id, err := collector.RecordContextProvided(ctx, "sess-1", types.RoleExecutor, "project:mnemo", "memory", "mem-1", "task", nil)
	if err != nil {
		t.Fatalf("expected no error from a disabled collector, got %v", err)
	}
	if id != "" {
		t.Errorf("expected a disabled collector to return no id, got %q", id)
	}
}

func testLookupKey() types.LookupKey {
	return types.LookupKey{
		Scope:       types.ScopeProject,
		ScopeID:     "mnemo",
		ContextType: "memory",
		AgentRole:   types.RoleExecutor,
		WorkPhase:   "plan_to_artifacts",
		TaskType:    "bugfix",
		ErrorClass:  "",
	}
}

func TestScorerFallsBackToDefaultWeightsWithNoLearnedData(t *testing.T) {
	s, cleanup := setupEvaluationStore(t)
	defer cleanup()
	ctx := context.Background()

	scorer := NewRelevanceScorer(s)
	features := RelevanceFeatures{KeywordOverlapScore: 0.5, RecencyDays: 1, AccessFrequency: 2, WasUseful: 1}
	score, ws, err := scorer.Score(ctx, testLookupKey(), features)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if ws != nil {
		t.Error("expected a nil WeightSet when nothing has been learned yet")
	}
	want := 0.25*0.5 + 0.25*1 + 0.25*2 + 0.25*1
	if score != want {
		t.Errorf("Score() = %f, want %f", score, want)
	}
}

func TestScorerUpdateIsPickedUpByLaterScore(t *testing.T) {
	s, cleanup := setupEvaluationStore(t)
	defer cleanup()
	ctx := context.Background()

	scorer := NewRelevanceScorer(s)
	key := testLookupKey()
	features := RelevanceFeatures{KeywordOverlapScore: 1, RecencyDays: 0, AccessFrequency: 5, WasUseful: 1}

	if err := scorer.Update(ctx, key, features, 1.0); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_, ws, err := scorer.Score(ctx, key, features)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if ws == nil {
		t.Fatal("expected a learned WeightSet after Update")
	}
	if ws.SampleCount != 1 {
		t.Errorf("expected sample_count=1, got %d", ws.SampleCount)
	}
	if ws.Confidence <= 0 {
		t.Errorf("expected confidence to grow above 0 after one sample, got %f", ws.Confidence)
	}
}

func TestScorerFallsBackThroughHierarchyToGenericLevel(t *testing.T) {
	s, cleanup := setupEvaluationStore(t)
	defer cleanup()
	ctx := context.Background()

	scorer := NewRelevanceScorer(s)
	genericKey := types.LookupKey{Scope: types.ScopeProject, ScopeID: "mnemo", ContextType: "memory", AgentRole: types.RoleExecutor}
	features := RelevanceFeatures{KeywordOverlapScore: 0.2, RecencyDays: 3, AccessFrequency: 1, WasUseful: 0}
	if err := scorer.Update(ctx, genericKey, features, 0.8); err != nil {
		t.Fatalf("Update at generic level failed: %v", err)
	}

	specificKey := genericKey
	specificKey.WorkPhase = "review"
	specificKey.TaskType = "feature"

	_, ws, err := scorer.Score(ctx, specificKey, features)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if ws == nil {
		t.Fatal("expected fallback to find the generic-level WeightSet")
	}
	if ws.WorkPhase != "" || ws.TaskType != "" {
		t.Errorf("expected the matched WeightSet to be the generic level, got %+v", ws)
	}
}

func TestCollectorFinalizeDrivesScorerUpdate(t *testing.T) {
	s, cleanup := setupEvaluationStore(t)
	defer cleanup()
	ctx := context.Background()

	collector := NewCollector(s, testEvaluationConfig())
	scorer := NewRelevanceScorer(s)

	id, err := collector.RecordContextProvided(ctx, "sess-1", types.RoleExecutor, "project:mnemo",
		"memory", "mem-1", "fix the flaky retry test", []string{"flaky", "retry", "test"})
	if err != nil {
		t.Fatalf("RecordContextProvided failed: %v", err)
	}
	if err := collector.RecordAccessed(ctx, id, 10*time.Millisecond); err != nil {
		t.Fatalf("RecordAccessed failed: %v", err)
	}
	if err := collector.RecordCited(ctx, id); err != nil {
		t.Fatalf("RecordCited failed: %v", err)
	}

	key := testLookupKey()
	if err := collector.Finalize(ctx, scorer, id, key, []string{"flaky", "retry"}, 0.9); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	rec, err := s.GetEvaluationRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetEvaluationRecord failed: %v", err)
	}
	if rec.TaskSuccessScore == nil || *rec.TaskSuccessScore != 0.9 {
		t.Errorf("expected task_success_score=0.9, got %v", rec.TaskSuccessScore)
	}

	_, ws, err := scorer.Score(ctx, key, RelevanceFeatures{})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if ws == nil || ws.SampleCount != 1 {
		t.Errorf("expected Finalize to have driven exactly one scorer update, got %+v", ws)
	}
}
