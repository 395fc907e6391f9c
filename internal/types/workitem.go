package types

import "time"

// Role is one of the four actor roles driving a WorkItem through its
// phases.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleOptimizer    Role = "optimizer"
	RoleReviewer     Role = "reviewer"
	RoleExecutor     Role = "executor"
)

// WorkItemState is the coarse lifecycle state of a WorkItem.
type WorkItemState string

const (
	StatePending        WorkItemState = "pending"
	StateReady          WorkItemState = "ready"
	StateAssigned       WorkItemState = "assigned"
	StateRunning        WorkItemState = "running"
	StatePendingReview   WorkItemState = "pending_review"
	StateReviewing       WorkItemState = "reviewing"
	StateCompleted      WorkItemState = "completed"
	StateFailed         WorkItemState = "failed"
	StateCancelled       WorkItemState = "cancelled"
)

// Phase is the coarse stage of a WorkItem within its current attempt.
type Phase string

const (
	PhaseSpec            Phase = "spec"
	PhasePlan            Phase = "plan"
	PhasePlanToArtifacts Phase = "plan_to_artifacts"
	PhaseReview          Phase = "review"
	PhaseDone            Phase = "done"
)

// ReviewVerdict is the Reviewer's disposition on a PendingReview item.
// Open Question #2 (SPEC_FULL/DESIGN.md): the enum is adopted verbatim;
// freeform LLM commentary is carried as an opaque Reasons string list.
type ReviewVerdict string

const (
	VerdictAccepted ReviewVerdict = "accepted"
	VerdictRevise   ReviewVerdict = "revise"
	VerdictReject   ReviewVerdict = "reject"
)

// ReviewFeedback records the Reviewer's verdict and rationale.
type ReviewFeedback struct {
	Verdict        ReviewVerdict `json:"verdict"`
	Reasons        []string      `json:"reasons,omitempty"`
	SuggestedTests []string      `json:"suggested_tests,omitempty"`
}

// MaxReviewAttempts is the default bound on review_attempt before a
// further Revise verdict forces Failed (spec.md §3 invariant b).
const MaxReviewAttempts = 3

// DefaultRunningTimeout is the default deadline for a Running item
// (spec.md §4.4).
const DefaultRunningTimeout = 300 * time.Second

// CancelGrace is the grace window after a cooperative cancel
// (Engine.Cancel) before the Engine marks a still-unfinished item
// Cancelled (spec.md §4.4).
const CancelGrace = 5 * time.Second

// WorkItem is the unit tracked by the Orchestration Engine.
type WorkItem struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`

	Description    string   `json:"description"`
	OriginalIntent string   `json:"original_intent,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`

	Agent          Role   `json:"agent"`
	AssignedBranch string `json:"assigned_branch,omitempty"`
	FileScope      []string `json:"file_scope,omitempty"`

	State        WorkItemState `json:"state"`
	Phase        Phase         `json:"phase"`
	Priority     uint8         `json:"priority"`
	Dependencies []string      `json:"dependencies,omitempty"`

	ReviewAttempt  int             `json:"review_attempt"`
	ReviewFeedback *ReviewFeedback `json:"review_feedback,omitempty"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Timeout time.Duration `json:"timeout"`

	ExecutionMemoryIDs    []string `json:"execution_memory_ids,omitempty"`
	ConsolidatedContextID string   `json:"consolidated_context_id,omitempty"`
	EstimatedContextTokens int     `json:"estimated_context_tokens,omitempty"`
}

// IsReady reports whether every dependency of w is Completed in the
// given lookup (spec.md §3 invariant a).
func (w *WorkItem) IsReady(lookup func(id string) (WorkItemState, bool)) bool {
	for _, dep := range w.Dependencies {
		st, ok := lookup(dep)
		if !ok || st != StateCompleted {
			return false
		}
	}
	return true
}

// AgentVisibleState is the externally observable state of a role actor
// (spec.md §3 "Agent").
type AgentVisibleState string

const (
	AgentIdle      AgentVisibleState = "idle"
	AgentActive    AgentVisibleState = "active"
	AgentWaiting   AgentVisibleState = "waiting"
	AgentCompleted AgentVisibleState = "completed"
	AgentFailed    AgentVisibleState = "failed"
)

// AgentHealth tracks error/warning counters for an actor.
type AgentHealth struct {
	ErrorCount   int `json:"error_count"`
	WarningCount int `json:"warning_count"`
}

// Agent is a role-bound actor's observable record.
type Agent struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	State AgentVisibleState `json:"state"`

	Task    string `json:"task,omitempty"`    // set when State == Active
	Reason  string `json:"reason,omitempty"`  // set when State == Waiting
	Result  string `json:"result,omitempty"`  // set when State == Completed
	FailErr string `json:"error,omitempty"`   // set when State == Failed

	UpdatedAt time.Time    `json:"updated_at"`
	Health    *AgentHealth `json:"health,omitempty"`
}
