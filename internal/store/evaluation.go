package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mnemosyne/mnemosyne/internal/errs"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// InsertEvaluationRecord persists a new EvaluationRecord (spec.md §4.6
// step 1), assigning an id and created_at if unset.
func (s *Store) InsertEvaluationRecord(ctx context.Context, rec *types.EvaluationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	keywordsJSON, _ := json.Marshal(rec.Keywords)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_records (
			id, session_id, agent_role, namespace, context_type, context_id,
			task_hash, keywords, was_accessed, access_count, time_to_first_access_ms,
			was_edited, was_committed, was_cited_in_response, rating, task_success_score, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, 0, 0, 0, NULL, NULL, ?)
	`, rec.ID, rec.SessionID, string(rec.AgentRole), rec.Namespace, rec.ContextType, rec.ContextID,
		rec.TaskHash, string(keywordsJSON), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation record: %w", err)
	}
	return nil
}

// GetEvaluationRecord loads a record by id.
func (s *Store) GetEvaluationRecord(ctx context.Context, id string) (*types.EvaluationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, agent_role, namespace, context_type, context_id,
			task_hash, keywords, was_accessed, access_count, time_to_first_access_ms,
			was_edited, was_committed, was_cited_in_response, rating, task_success_score, created_at
		FROM evaluation_records WHERE id = ?
	`, id)
	return scanEvaluationRecord(row)
}

func scanEvaluationRecord(row scanner) (*types.EvaluationRecord, error) {
	rec := &types.EvaluationRecord{}
	var (
		agentRole               string
		keywordsJSON            sql.NullString
		wasAccessed, wasEdited  int
		wasCommitted, wasCited  int
		timeToFirstAccessMs     sql.NullInt64
		rating, taskSuccessScore sql.NullFloat64
	)
	err := row.Scan(
		&rec.ID, &rec.SessionID, &agentRole, &rec.Namespace, &rec.ContextType, &rec.ContextID,
		&rec.TaskHash, &keywordsJSON, &wasAccessed, &rec.AccessCount, &timeToFirstAccessMs,
		&wasEdited, &wasCommitted, &wasCited, &rating, &taskSuccessScore, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("evaluation record")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan evaluation record: %w", err)
	}
	rec.AgentRole = types.Role(agentRole)
	rec.WasAccessed = intToBool(wasAccessed)
	rec.WasEdited = intToBool(wasEdited)
	rec.WasCommitted = intToBool(wasCommitted)
	rec.WasCitedInResponse = intToBool(wasCited)
	if keywordsJSON.Valid && keywordsJSON.String != "" {
		json.Unmarshal([]byte(keywordsJSON.String), &rec.Keywords)
	}
	if timeToFirstAccessMs.Valid {
		v := timeToFirstAccessMs.Int64
		rec.TimeToFirstAccessMs = &v
	}
	if rating.Valid {
		v := rating.Float64
		rec.Rating = &v
	}
	if taskSuccessScore.Valid {
		v := taskSuccessScore.Float64
		rec.TaskSuccessScore = &v
	}
	return rec, nil
}

// RecordAccessed increments access_count, sets was_accessed, and stamps
// time_to_first_access_ms on the first access only (spec.md §4.6 step
// 2).
func (s *Store) RecordAccessed(ctx context.Context, id string, elapsedMs int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE evaluation_records
		SET was_accessed = 1,
			access_count = access_count + 1,
			time_to_first_access_ms = COALESCE(time_to_first_access_ms, ?)
		WHERE id = ?
	`, elapsedMs, id)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errs.NotFound("evaluation record " + id)
	}
	return nil
}

// RecordEdited marks the record's context as having been edited by the
// agent that received it.
func (s *Store) RecordEdited(ctx context.Context, id string) error {
	return s.setEvaluationFlag(ctx, id, "was_edited")
}

// RecordCommitted marks the record's context as having led to a
// committed change.
func (s *Store) RecordCommitted(ctx context.Context, id string) error {
	return s.setEvaluationFlag(ctx, id, "was_committed")
}

// RecordCited marks the record's context as having been cited in the
// agent's response.
func (s *Store) RecordCited(ctx context.Context, id string) error {
	return s.setEvaluationFlag(ctx, id, "was_cited_in_response")
}

func (s *Store) setEvaluationFlag(ctx context.Context, id, column string) error {
	query := fmt.Sprintf("UPDATE evaluation_records SET %s = 1 WHERE id = ?", column)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errs.NotFound("evaluation record " + id)
	}
	return nil
}

// FinalizeTaskSuccess records the terminal task_success_score for a
// record (spec.md §4.6 step 3).
func (s *Store) FinalizeTaskSuccess(ctx context.Context, id string, score float64) error {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	result, err := s.db.ExecContext(ctx, "UPDATE evaluation_records SET task_success_score = ? WHERE id = ?", score, id)
	if err != nil {
		return fmt.Errorf("failed to finalize task success score: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errs.NotFound("evaluation record " + id)
	}
	return nil
}

// GetWeightSet loads the exact WeightSet for a LookupKey, returning
// (nil, false, nil) if none has been learned yet at that level. Callers
// walk types.LookupKey.FallbackChain() themselves to find the
// most-specific level that has data.
func (s *Store) GetWeightSet(ctx context.Context, key types.LookupKey) (*types.WeightSet, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scope, scope_id, context_type, agent_role, work_phase, task_type, error_class,
			weights, sample_count, confidence, updated_at
		FROM weight_sets
		WHERE scope = ? AND scope_id = ? AND context_type = ? AND agent_role = ?
			AND work_phase = ? AND task_type = ? AND error_class = ?
	`, string(key.Scope), key.ScopeID, key.ContextType, string(key.AgentRole), key.WorkPhase, key.TaskType, key.ErrorClass)

	var (
		scope, agentRole string
		weightsJSON      string
		ws               types.WeightSet
	)
	err := row.Scan(&scope, &ws.ScopeID, &ws.ContextType, &agentRole, &ws.WorkPhase, &ws.TaskType, &ws.ErrorClass,
		&weightsJSON, &ws.SampleCount, &ws.Confidence, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get weight set: %w", err)
	}
	ws.Scope = types.EvaluationScope(scope)
	ws.AgentRole = types.Role(agentRole)
	if err := json.Unmarshal([]byte(weightsJSON), &ws.Weights); err != nil {
		return nil, false, fmt.Errorf("failed to decode weight set weights: %w", err)
	}
	return &ws, true, nil
}

// UpsertWeightSet writes a learned WeightSet, keyed by its scope tuple.
func (s *Store) UpsertWeightSet(ctx context.Context, ws *types.WeightSet) error {
	weightsJSON, err := json.Marshal(ws.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weight set weights: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO weight_sets (
			scope, scope_id, context_type, agent_role, work_phase, task_type, error_class,
			weights, sample_count, confidence, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, scope_id, context_type, agent_role, work_phase, task_type, error_class) DO UPDATE SET
			weights = excluded.weights,
			sample_count = excluded.sample_count,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`, string(ws.Scope), ws.ScopeID, ws.ContextType, string(ws.AgentRole), ws.WorkPhase, ws.TaskType, ws.ErrorClass,
		string(weightsJSON), ws.SampleCount, ws.Confidence, ws.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert weight set: %w", err)
	}
	return nil
}
