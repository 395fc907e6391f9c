package evaluation

import (
	"context"
	"time"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/metrics"
	"github.com/mnemosyne/mnemosyne/internal/store"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// Collector records implicit feedback signals over the life of a task
// (spec.md §4.6 step 2), grounded on
// original_source/src/evaluation/feedback_collector.go's record/signal
// split. All data stays in the local store; no network I/O.
type Collector struct {
	store *store.Store
	cfg   config.EvaluationConfig
}

// NewCollector builds a Collector. If cfg.Enabled is false, every method
// is a no-op that returns a zero id and nil error, so callers never have
// to branch on evaluation being disabled.
func NewCollector(st *store.Store, cfg config.EvaluationConfig) *Collector {
	return &Collector{store: st, cfg: cfg}
}

// RecordContextProvided inserts a new EvaluationRecord for a piece of
// context (a skill, memory, or file) handed to an agent, keyed by a
// hashed, keyword-filtered task description (spec.md §4.6 step 1).
func (c *Collector) RecordContextProvided(ctx context.Context, sessionID string, role types.Role, namespace, contextType, contextID, taskDescription string, rawKeywords []string) (string, error) {
	if !c.cfg.Enabled {
		return "", nil
	}
	rec := &types.EvaluationRecord{
		SessionID:   sessionID,
		AgentRole:   role,
		Namespace:   namespace,
		ContextType: contextType,
		ContextID:   contextID,
		TaskHash:    HashTask(taskDescription, c.cfg.HashTruncation),
		Keywords:    FilterKeywords(rawKeywords, c.cfg.KeywordCap),
		CreatedAt:   time.Now(),
	}
	if err := c.store.InsertEvaluationRecord(ctx, rec); err != nil {
		metrics.EvaluationRecordsDroppedTotal.Inc()
		return "", err
	}
	return rec.ID, nil
}

// RecordAccessed signals the context was read. elapsedSinceProvided is
// only stamped the first time this is called for a given record id
// (spec.md §4.6 "time_to_first_access_ms").
func (c *Collector) RecordAccessed(ctx context.Context, id string, elapsedSinceProvided time.Duration) error {
	if !c.cfg.Enabled || id == "" {
		return nil
	}
	return c.store.RecordAccessed(ctx, id, elapsedSinceProvided.Milliseconds())
}

// RecordEdited signals the agent edited the file/content the context
// pointed to.
func (c *Collector) RecordEdited(ctx context.Context, id string) error {
	if !c.cfg.Enabled || id == "" {
		return nil
	}
	return c.store.RecordEdited(ctx, id)
}

// RecordCommitted signals the resulting change was committed.
func (c *Collector) RecordCommitted(ctx context.Context, id string) error {
	if !c.cfg.Enabled || id == "" {
		return nil
	}
	return c.store.RecordCommitted(ctx, id)
}

// RecordCited signals the context was quoted or referenced in the
// agent's response.
func (c *Collector) RecordCited(ctx context.Context, id string) error {
	if !c.cfg.Enabled || id == "" {
		return nil
	}
	return c.store.RecordCited(ctx, id)
}

// Finalize is called when the task terminates: it stamps the record's
// task_success_score, extracts RelevanceFeatures against the context's
// own keywords, and feeds both into the RelevanceScorer's online update
// (spec.md §4.6 step 3).
func (c *Collector) Finalize(ctx context.Context, scorer *RelevanceScorer, id string, key types.LookupKey, contextKeywords []string, taskSuccessScore float64) error {
	if !c.cfg.Enabled || id == "" {
		return nil
	}
	if err := c.store.FinalizeTaskSuccess(ctx, id, taskSuccessScore); err != nil {
		return err
	}
	rec, err := c.store.GetEvaluationRecord(ctx, id)
	if err != nil {
		return err
	}
	features := ExtractFeatures(rec, contextKeywords, time.Now())
	return scorer.Update(ctx, key, features, taskSuccessScore)
}
