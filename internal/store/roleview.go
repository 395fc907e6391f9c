package store

import (
	"context"

	"github.com/mnemosyne/mnemosyne/internal/errs"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// roleAffinity biases hybrid_search ranking toward the memory types each
// role cares about most, grounded on
// original_source/src/agents/memory_view.rs (SPEC_FULL §3A): Executor
// favors CodePattern/BugFix, Reviewer favors Constraint/
// ArchitectureDecision, Optimizer favors Insight/Configuration, the
// Orchestrator has no bias.
var roleAffinity = map[types.Role]map[types.MemoryType]float64{
	types.RoleExecutor: {
		types.MemoryCodePattern: 1.5,
		types.MemoryBugFix:      1.5,
	},
	types.RoleReviewer: {
		types.MemoryConstraint:           1.5,
		types.MemoryArchitectureDecision: 1.5,
	},
	types.RoleOptimizer: {
		types.MemoryInsight:       1.3,
		types.MemoryConfiguration: 1.3,
	},
}

// RoleView is a role-scoped projection over the Memory Store: it biases
// hybrid_search ranking by the role's affinity table and enforces that a
// role may only directly mutate notes it owns or notes with no recorded
// owner (SPEC_FULL §3A).
type RoleView struct {
	store *Store
	role  types.Role
}

// View returns a RoleView for the given role.
func (s *Store) View(role types.Role) *RoleView {
	return &RoleView{store: s, role: role}
}

// HybridSearch runs the underlying hybrid search and re-scores results
// using this role's affinity bias.
func (v *RoleView) HybridSearch(ctx context.Context, query string, ns *types.Namespace, k int, expandGraph bool) ([]types.ScoredMemory, error) {
	results, err := v.store.HybridSearch(ctx, query, ns, 0, expandGraph)
	if err != nil {
		return nil, err
	}

	affinity := roleAffinity[v.role]
	for i := range results {
		if bias, ok := affinity[results[i].Memory.MemoryType]; ok {
			results[i].Score *= bias
		}
	}
	sortScored(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Store writes a note as this role, stamping ownership when absent.
func (v *RoleView) Store(ctx context.Context, note *types.MemoryNote) error {
	if note.Owner == "" {
		note.Owner = string(v.role)
	}
	return v.store.StoreNote(ctx, note)
}

// Update enforces write ownership: a role may only update a note it
// created, or one with no recorded owner.
func (v *RoleView) Update(ctx context.Context, note *types.MemoryNote) error {
	existing, err := v.store.GetNote(ctx, note.ID, true)
	if err != nil {
		return err
	}
	if existing.Owner != "" && existing.Owner != string(v.role) {
		return errs.New(errs.KindValidation, "role "+string(v.role)+" may not mutate a note owned by "+existing.Owner)
	}
	if note.Owner == "" {
		note.Owner = existing.Owner
	}
	return v.store.UpdateNote(ctx, note)
}
