package store

import (
	"context"
	"testing"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

func TestHybridSearchScenario(t *testing.T) {
	// spec.md §8 scenario 3: a keyword-only match and an embedded note
	// that also matches the query's vector (cosine ≈0.93 under the stub
	// provider) should both surface in a hybrid search for the same query.
	s, cleanup := setupTestStore(t)
	defer cleanup()
	s.SetEmbeddingProvider(&stubEmbedding{dim: 4})

	ctx := context.Background()
	ns := types.Project("mnemo")

	keywordHit := &types.MemoryNote{
		Namespace:  ns,
		Content:    "graph traversal cap bounds memory usage",
		MemoryType: types.MemoryInsight,
		Importance: 6,
	}
	if err := s.StoreNote(ctx, keywordHit); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}

	vectorHit := &types.MemoryNote{
		Namespace:  ns,
		Content:    "graph traversal cap bounds memory usage",
		MemoryType: types.MemoryInsight,
		Importance: 6,
		Embedding:  []float32{0.1, 0.2, 0.3, 0.4},
	}
	if err := s.StoreNote(ctx, vectorHit); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}

	results, err := s.HybridSearch(ctx, "graph traversal cap", &ns, 5, false)
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one hybrid search result")
	}
	seen := map[string]bool{}
	for _, r := range results {
		seen[r.Memory.ID] = true
	}
	if !seen[keywordHit.ID] || !seen[vectorHit.ID] {
		t.Errorf("expected both the keyword match and the vector match in the results")
	}
}

func TestHybridSearchExpandsGraph(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	ns := types.Project("mnemo")

	seed := &types.MemoryNote{Namespace: ns, Content: "router dispatch rules", MemoryType: types.MemoryInsight, Importance: 7}
	if err := s.StoreNote(ctx, seed); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}

	neighbor := &types.MemoryNote{Namespace: ns, Content: "unrelated neighbor note", MemoryType: types.MemoryInsight, Importance: 3}
	if err := s.StoreNote(ctx, neighbor); err != nil {
		t.Fatalf("StoreNote failed: %v", err)
	}

	seed.Links = []types.Link{{TargetID: neighbor.ID, Type: types.LinkRelatesTo, Strength: 0.8}}
	if err := s.UpdateNote(ctx, seed); err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}

	withoutExpand, err := s.HybridSearch(ctx, "router dispatch", &ns, 0, false)
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	for _, r := range withoutExpand {
		if r.Memory.ID == neighbor.ID {
			t.Fatalf("did not expect neighbor to appear without graph expansion")
		}
	}

	withExpand, err := s.HybridSearch(ctx, "router dispatch", &ns, 0, true)
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	found := false
	for _, r := range withExpand {
		if r.Memory.ID == neighbor.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected graph expansion to surface the linked neighbor")
	}
}

func TestGraphTraverseRespectsDepthAndCap(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	ns := types.Project("mnemo")

	a := &types.MemoryNote{Namespace: ns, Content: "a", MemoryType: types.MemoryInsight}
	b := &types.MemoryNote{Namespace: ns, Content: "b", MemoryType: types.MemoryInsight}
	c := &types.MemoryNote{Namespace: ns, Content: "c", MemoryType: types.MemoryInsight}
	for _, n := range []*types.MemoryNote{a, b, c} {
		if err := s.StoreNote(ctx, n); err != nil {
			t.Fatalf("StoreNote failed: %v", err)
		}
	}

	a.Links = []types.Link{{TargetID: b.ID, Type: types.LinkRelatesTo, Strength: 1}}
	if err := s.UpdateNote(ctx, a); err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}
	b.Links = []types.Link{{TargetID: c.ID, Type: types.LinkRelatesTo, Strength: 1}}
	if err := s.UpdateNote(ctx, b); err != nil {
		t.Fatalf("UpdateNote failed: %v", err)
	}

	depth0, err := s.GraphTraverse(ctx, []string{a.ID}, 0, &ns)
	if err != nil {
		t.Fatalf("GraphTraverse failed: %v", err)
	}
	if len(depth0) != 1 {
		t.Errorf("expected depth 0 traversal to return only the seed, got %d nodes", len(depth0))
	}

	depth2, err := s.GraphTraverse(ctx, []string{a.ID}, 2, &ns)
	if err != nil {
		t.Fatalf("GraphTraverse failed: %v", err)
	}
	if len(depth2) != 3 {
		t.Errorf("expected depth 2 traversal to reach all 3 nodes, got %d", len(depth2))
	}
}
