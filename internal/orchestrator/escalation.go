package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// Escalation is a question an Executor could not resolve on its own,
// raised through the event bus so a human or the Orchestrator can answer
// out of band (SPEC_FULL §3A, grounded on the teacher's
// EscalationCreateMessage/EscalationResponseMessage).
type Escalation struct {
	ID         string
	WorkItemID string
	Question   string
	RaisedAt   time.Time
	Resolution chan string
}

// RaiseEscalation emits EscalationRaised and blocks until
// ResolveEscalation is called with the same id, returning the resolver's
// answer. If ctx is done first (e.g. the work item's deadline expires),
// the pending escalation is dropped and ctx.Err() is returned.
func (e *Engine) RaiseEscalation(ctx context.Context, workItemID, question string) (string, error) {
	esc := &Escalation{
		ID:         uuid.New().String(),
		WorkItemID: workItemID,
		Question:   question,
		RaisedAt:   time.Now(),
		Resolution: make(chan string, 1),
	}

	e.mu.Lock()
	e.escalations[esc.ID] = esc
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(types.Event{
			Type: types.EventEscalationRaised,
			Payload: map[string]interface{}{
				"escalation_id": esc.ID,
				"work_item_id":  workItemID,
				"question":      question,
			},
		})
	}

	select {
	case answer := <-esc.Resolution:
		return answer, nil
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.escalations, esc.ID)
		e.mu.Unlock()
		return "", ctx.Err()
	}
}

// ResolveEscalation delivers an answer to a pending escalation, emitting
// EscalationResolved. It is a no-op if the escalation id is unknown
// (already resolved or its work item's deadline already expired).
func (e *Engine) ResolveEscalation(id, answer string) {
	e.mu.Lock()
	esc, ok := e.escalations[id]
	if ok {
		delete(e.escalations, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	esc.Resolution <- answer
	if e.bus != nil {
		e.bus.Publish(types.Event{
			Type: types.EventEscalationResolved,
			Payload: map[string]interface{}{
				"escalation_id": id,
				"work_item_id":  esc.WorkItemID,
				"answer":        answer,
			},
		})
	}
}
