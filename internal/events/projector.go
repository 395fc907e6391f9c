package events

import (
	"context"
	"sync"
	"time"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// AgentInfo is the projected view of one agent's current state.
type AgentInfo struct {
	ID        string     `json:"id"`
	Role      types.Role `json:"role"`
	Status    string     `json:"status"`
	Task      string     `json:"task,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// WorkItemSummary is the projected view of one work item's current state.
type WorkItemSummary struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	State       types.WorkItemState `json:"state"`
	Phase       types.Phase     `json:"phase"`
	Agent       string          `json:"agent,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ContextFile is the projected view of one tracked file's last known
// modification.
type ContextFile struct {
	Path       string    `json:"path"`
	ModifiedBy string    `json:"modified_by,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Projector consumes events from a Bus subscription and maintains the
// three in-memory mappings named in spec.md §4.2. Applying the same event
// twice leaves the maps unchanged (idempotent), and applying events for
// disjoint keys in either order yields the same final state (commutative),
// since every Apply overwrites the fields the event's payload carries on
// the entry named by the event's own id fields rather than applying a
// delta.
type Projector struct {
	mu         sync.RWMutex
	agents     map[string]AgentInfo
	workItems  map[string]WorkItemSummary
	files      map[string]ContextFile
	sessionIDs map[string]bool
}

// NewProjector creates an empty Projector.
func NewProjector() *Projector {
	return &Projector{
		agents:     make(map[string]AgentInfo),
		workItems:  make(map[string]WorkItemSummary),
		files:      make(map[string]ContextFile),
		sessionIDs: make(map[string]bool),
	}
}

// Run drains sub until ctx is done, applying every event to the
// projection. It is meant to be started in its own goroutine.
func (p *Projector) Run(ctx context.Context, sub *Subscription) {
	for {
		e, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		p.Apply(e)
	}
}

// Apply updates the projection from a single event. Unknown event types
// are ignored — late additions to the event taxonomy never panic the
// projector (spec.md §4.2: "handles at minimum" the listed types).
func (p *Projector) Apply(e types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case types.EventAgentStarted, types.EventAgentStateChanged:
		id, _ := e.Payload["agent_id"].(string)
		if id == "" {
			return
		}
		info := p.agents[id]
		info.ID = id
		if role, ok := e.Payload["role"].(string); ok {
			info.Role = types.Role(role)
		}
		if status, ok := e.Payload["status"].(string); ok {
			info.Status = status
		}
		if task, ok := e.Payload["task"].(string); ok {
			info.Task = task
		}
		info.UpdatedAt = e.Timestamp
		p.agents[id] = info

	case types.EventWorkItemSubmitted, types.EventWorkItemAssigned,
		types.EventWorkItemPhaseTransitioned, types.EventWorkItemCompleted,
		types.EventWorkItemFailed:
		id, _ := e.Payload["work_item_id"].(string)
		if id == "" {
			return
		}
		summary := p.workItems[id]
		summary.ID = id
		if desc, ok := e.Payload["description"].(string); ok {
			summary.Description = desc
		}
		if state, ok := e.Payload["state"].(string); ok {
			summary.State = types.WorkItemState(state)
		}
		if phase, ok := e.Payload["phase"].(string); ok {
			summary.Phase = types.Phase(phase)
		}
		if agent, ok := e.Payload["agent"].(string); ok {
			summary.Agent = agent
		}
		summary.UpdatedAt = e.Timestamp
		p.workItems[id] = summary

	case types.EventReviewCompleted:
		id, _ := e.Payload["work_item_id"].(string)
		if id == "" {
			return
		}
		summary := p.workItems[id]
		summary.ID = id
		summary.UpdatedAt = e.Timestamp
		p.workItems[id] = summary

	case types.EventContextFileModified:
		path, _ := e.Payload["path"].(string)
		if path == "" {
			return
		}
		file := p.files[path]
		file.Path = path
		if by, ok := e.Payload["modified_by"].(string); ok {
			file.ModifiedBy = by
		}
		file.UpdatedAt = e.Timestamp
		p.files[path] = file

	case types.EventSessionStarted:
		if sid, ok := e.Payload["session_id"].(string); ok {
			p.sessionIDs[sid] = true
		}

	case types.EventSessionEnded:
		if sid, ok := e.Payload["session_id"].(string); ok {
			delete(p.sessionIDs, sid)
		}

	case types.EventNetworkStateUpdate:
		// Network topology is reported informationally; no projection
		// state is currently derived from it beyond what AgentStateChanged
		// already captures.
	}
}

// Agent returns the current projected state of an agent.
func (p *Projector) Agent(id string) (AgentInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.agents[id]
	return info, ok
}

// Agents returns a snapshot of every projected agent.
func (p *Projector) Agents() []AgentInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AgentInfo, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a)
	}
	return out
}

// WorkItem returns the current projected summary of a work item.
func (p *Projector) WorkItem(id string) (WorkItemSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workItems[id]
	return w, ok
}

// WorkItems returns a snapshot of every projected work item.
func (p *Projector) WorkItems() []WorkItemSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]WorkItemSummary, 0, len(p.workItems))
	for _, w := range p.workItems {
		out = append(out, w)
	}
	return out
}

// ContextFiles returns a snapshot of every tracked file.
func (p *Projector) ContextFiles() []ContextFile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ContextFile, 0, len(p.files))
	for _, f := range p.files {
		out = append(out, f)
	}
	return out
}

// ActiveSessionCount reports how many sessions are currently open.
func (p *Projector) ActiveSessionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessionIDs)
}
