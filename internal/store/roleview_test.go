package store

import (
	"context"
	"testing"

	"github.com/mnemosyne/mnemosyne/internal/errs"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

func TestRoleViewEnforcesWriteOwnership(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	executorView := s.View(types.RoleExecutor)
	reviewerView := s.View(types.RoleReviewer)

	note := &types.MemoryNote{
		Namespace:  types.Global(),
		Content:    "fixed off-by-one in the paginator",
		MemoryType: types.MemoryBugFix,
	}
	if err := executorView.Store(ctx, note); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if note.Owner != string(types.RoleExecutor) {
		t.Errorf("expected owner %q, got %q", types.RoleExecutor, note.Owner)
	}

	update := &types.MemoryNote{ID: note.ID, Namespace: types.Global(), Content: "v2", MemoryType: types.MemoryBugFix}
	err := reviewerView.Update(ctx, update)
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error when reviewer updates executor-owned note, got %v", err)
	}

	sameRoleUpdate := &types.MemoryNote{ID: note.ID, Namespace: types.Global(), Content: "v3", MemoryType: types.MemoryBugFix}
	if err := executorView.Update(ctx, sameRoleUpdate); err != nil {
		t.Fatalf("expected owning role to update successfully: %v", err)
	}
}

func TestRoleViewBiasesAffinityRanking(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	ns := types.Project("mnemo")

	bugfix := &types.MemoryNote{Namespace: ns, Content: "retry queue drains in order", MemoryType: types.MemoryBugFix, Importance: 5}
	insight := &types.MemoryNote{Namespace: ns, Content: "retry queue design insight", MemoryType: types.MemoryInsight, Importance: 5}
	for _, n := range []*types.MemoryNote{bugfix, insight} {
		if err := s.StoreNote(ctx, n); err != nil {
			t.Fatalf("StoreNote failed: %v", err)
		}
	}

	view := s.View(types.RoleExecutor)
	results, err := view.HybridSearch(ctx, "retry queue", &ns, 0, false)
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected at least 2 results, got %d", len(results))
	}
	if results[0].Memory.ID != bugfix.ID {
		t.Errorf("expected executor affinity to rank the bug_fix note first, got %+v", results)
	}
}

func TestPrefetchCacheEvictsOldest(t *testing.T) {
	c := newPrefetchCache(2)
	c.put("a", &types.MemoryNote{ID: "a"})
	c.put("b", &types.MemoryNote{ID: "b"})
	c.put("c", &types.MemoryNote{ID: "c"})

	if _, ok := c.get("a"); ok {
		t.Errorf("expected oldest entry 'a' to be evicted")
	}
	if _, ok := c.get("c"); !ok {
		t.Errorf("expected most recently inserted entry 'c' to remain cached")
	}
}

func TestPrefetchCacheInvalidate(t *testing.T) {
	c := newPrefetchCache(4)
	c.put("a", &types.MemoryNote{ID: "a"})
	c.invalidate("a")
	if _, ok := c.get("a"); ok {
		t.Errorf("expected invalidated entry to be absent")
	}
}
