// Package orchestrator implements the Orchestration Engine from spec.md
// §4.4: the work queue, the Phase state machine, supervision of the four
// role actors, and domain-event emission. Actor supervision and the
// subprocess-spawning Executor generalize internal/aider/spawner.go and
// bridge.go's crash-detection and process-bridging idioms away from a
// hardcoded aider CLI.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/errs"
	"github.com/mnemosyne/mnemosyne/internal/events"
	"github.com/mnemosyne/mnemosyne/internal/metrics"
	"github.com/mnemosyne/mnemosyne/internal/router"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// Engine owns every WorkItem's lifecycle and the four role actors.
type Engine struct {
	mu    sync.Mutex
	items map[string]*types.WorkItem
	queue *workQueue

	cfg config.EngineConfig
	log *zap.Logger
	bus *events.Bus
	rtr *router.Router

	runningExecutors int
	cancels          map[string]context.CancelFunc
	escalations      map[string]*Escalation

	reviewFn ReviewFunc
	exec     *Executor

	execCh   chan execJob
	reviewCh chan *types.WorkItem

	supervisor *Supervisor
}

// execJob hands an Assigned item's per-item timeout context to whichever
// Executor worker loop picks it off execCh next.
type execJob struct {
	ctx  context.Context
	item *types.WorkItem
}

// ReviewFunc produces a verdict for a completed work item. Tests and
// cmd/mnemosyned wire in their own implementation (an LLM call in
// production); the default is a minimal heuristic.
type ReviewFunc func(ctx context.Context, item *types.WorkItem) (*types.ReviewFeedback, error)

// New creates an Engine. exec runs the actual Executor-role work;
// reviewFn renders verdicts for PendingReview items.
func New(cfg config.EngineConfig, log *zap.Logger, bus *events.Bus, rtr *router.Router, exec *Executor, reviewFn ReviewFunc) *Engine {
	if reviewFn == nil {
		reviewFn = DefaultReviewFunc
	}
	n := cfg.MaxConcurrentExecutors
	if n <= 0 {
		n = 1
	}
	return &Engine{
		items:       make(map[string]*types.WorkItem),
		queue:       newWorkQueue(),
		cfg:         cfg,
		log:         log,
		bus:         bus,
		rtr:         rtr,
		cancels:     make(map[string]context.CancelFunc),
		escalations: make(map[string]*Escalation),
		reviewFn:    reviewFn,
		exec:        exec,
		execCh:      make(chan execJob, n),
		reviewCh:    make(chan *types.WorkItem, n),
		supervisor:  NewSupervisor(cfg.Supervision, log, bus),
	}
}

// DefaultReviewFunc accepts any item that produced a non-empty result and
// no error; everything else is sent back for one revision.
func DefaultReviewFunc(ctx context.Context, item *types.WorkItem) (*types.ReviewFeedback, error) {
	if item.Error != "" || item.Result == "" {
		return &types.ReviewFeedback{Verdict: types.VerdictRevise, Reasons: []string{"no usable result produced"}}, nil
	}
	return &types.ReviewFeedback{Verdict: types.VerdictAccepted}, nil
}

// Submit enqueues a new work item at Pending/Spec, promoting it to Ready
// immediately if it has no unmet dependencies.
func (e *Engine) Submit(item *types.WorkItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if item.ID == "" {
		return errs.New(errs.KindValidation, "work item id is required")
	}
	if _, exists := e.items[item.ID]; exists {
		return errs.New(errs.KindConflict, "work item "+item.ID+" already submitted")
	}

	item.State = types.StatePending
	item.Phase = types.PhaseSpec
	item.SubmittedAt = time.Now()
	if item.Timeout == 0 {
		item.Timeout = e.cfg.WorkItemDefaultTimeout
	}
	e.items[item.ID] = item

	e.emit(types.EventWorkItemSubmitted, item, "")
	e.promoteLocked(item)
	return nil
}

func (e *Engine) promoteLocked(item *types.WorkItem) {
	if item.State != types.StatePending {
		return
	}
	if !item.IsReady(e.stateLookupLocked) {
		return
	}
	item.State = types.StateReady
	e.queue.enqueue(item)
	e.emit(types.EventWorkItemPhaseTransitioned, item, "dependencies satisfied")
}

func (e *Engine) stateLookupLocked(id string) (types.WorkItemState, bool) {
	it, ok := e.items[id]
	if !ok {
		return "", false
	}
	return it.State, true
}

// Start runs the Engine's actor loops until ctx is done: the scheduler
// tick, the single Reviewer, and MaxConcurrentExecutors Executors (spec.md
// §4.4: "Orchestrator, Optimizer, Reviewer are single-instance per engine",
// only Executor scales). Each loop runs under the Supervisor, generalizing
// internal/aider/spawner.go's monitorAgents restart cascade from a
// process-liveness check to goroutine-panic/exit recovery, so a crashed
// actor restarts with backoff instead of silently wedging the pipeline.
func (e *Engine) Start(ctx context.Context) {
	tick := e.cfg.SchedulerTick
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.logEscalated("scheduler", e.supervisor.Supervise(ctx, "scheduler", func(ctx context.Context) error {
			return e.runSchedulerLoop(ctx, tick)
		}))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.logEscalated("reviewer", e.supervisor.Supervise(ctx, "reviewer", e.runReviewerLoop))
	}()

	n := e.cfg.MaxConcurrentExecutors
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("executor-%d", i)
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			e.logEscalated(name, e.supervisor.Supervise(ctx, name, e.runExecutorLoop))
		}(name)
	}

	wg.Wait()
}

// logEscalated reports a role actor's final, unrecoverable exit (its
// restart budget exhausted) once Supervise gives up on it.
func (e *Engine) logEscalated(actor string, err error) {
	if err == nil || e.log == nil {
		return
	}
	e.log.Error("actor escalated, no longer running", zap.String("actor", actor), zap.Error(err))
}

// runSchedulerLoop is the Orchestrator's own scheduling actor: it fires
// Tick on every SchedulerTick interval until ctx is done.
func (e *Engine) runSchedulerLoop(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// runExecutorLoop is one Executor-role worker. Start spawns
// MaxConcurrentExecutors of these, each under its own Supervise call, so
// one worker's restart budget can't be exhausted by another's crashes.
func (e *Engine) runExecutorLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-e.execCh:
			e.runExecutor(job.ctx, job.item)
		}
	}
}

// runReviewerLoop is the single Reviewer-role actor, draining reviewCh
// serially.
func (e *Engine) runReviewerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-e.reviewCh:
			e.runReview(ctx, item)
		}
	}
}

// Supervisor returns the Engine's Supervisor so a caller can run other
// long-lived loops (the orchestrator mailbox, the Evolution Scheduler)
// under the same restart-budget policy (spec.md §4.4).
func (e *Engine) Supervisor() *Supervisor { return e.supervisor }

// Tick runs one scheduler pass: it promotes any Pending item whose
// dependencies just became satisfied, then assigns Ready items up to the
// Executor concurrency cap (spec.md §4.4).
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	for _, item := range e.items {
		e.promoteLocked(item)
	}

	for e.runningExecutors < e.cfg.MaxConcurrentExecutors {
		item, ok := e.queue.dequeue()
		if !ok {
			break
		}
		e.assignLocked(ctx, item)
	}
	e.mu.Unlock()
}

func (e *Engine) assignLocked(ctx context.Context, item *types.WorkItem) {
	now := time.Now()
	item.State = types.StateAssigned
	item.AssignedAt = &now
	e.runningExecutors++
	e.emit(types.EventWorkItemAssigned, item, "")

	itemCtx, cancel := context.WithTimeout(ctx, item.Timeout)
	e.cancels[item.ID] = cancel

	select {
	case e.execCh <- execJob{ctx: itemCtx, item: item}:
	default:
		cancel()
		delete(e.cancels, item.ID)
		e.runningExecutors--
		e.failLocked(item, "executor queue full")
	}
}

// runExecutor drives one item through Assigned → Running → PendingReview
// (or Failed), invoking the configured Executor.
func (e *Engine) runExecutor(ctx context.Context, item *types.WorkItem) {
	e.mu.Lock()
	started := time.Now()
	item.State = types.StateRunning
	item.StartedAt = &started
	item.Phase = types.PhasePlanToArtifacts
	e.emit(types.EventWorkItemPhaseTransitioned, item, "executor acknowledged")
	e.mu.Unlock()

	result, err := e.exec.Run(ctx, item)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, item.ID)
	e.runningExecutors--

	if ctx.Err() == context.DeadlineExceeded {
		e.failLocked(item, "execution deadline exceeded")
		return
	}
	if err != nil {
		e.failLocked(item, err.Error())
		return
	}

	item.Result = result
	item.State = types.StatePendingReview
	e.emit(types.EventWorkItemPhaseTransitioned, item, "executor returned result")

	select {
	case e.reviewCh <- item:
	default:
		e.failLocked(item, "reviewer queue full")
	}
}

// runReview drives an item through Reviewing to its next state. Each
// dequeue into Reviewing counts as one attempt (spec.md §8 scenario:
// "Reviewer returns Revise ..., review_attempt=1"), so review_attempt is
// incremented before the verdict is known.
func (e *Engine) runReview(ctx context.Context, item *types.WorkItem) {
	e.mu.Lock()
	item.State = types.StateReviewing
	item.Phase = types.PhaseReview
	item.ReviewAttempt++
	e.emit(types.EventWorkItemPhaseTransitioned, item, "reviewer dequeued")
	e.mu.Unlock()

	feedback, err := e.reviewFn(ctx, item)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.failLocked(item, fmt.Sprintf("review failed: %v", err))
		return
	}
	item.ReviewFeedback = feedback
	e.emit(types.EventReviewCompleted, item, string(feedback.Verdict))

	switch feedback.Verdict {
	case types.VerdictAccepted:
		e.completeLocked(item)
	case types.VerdictRevise:
		if item.ReviewAttempt >= e.cfg.ReviewMaxAttempts {
			e.failLocked(item, "review attempts exhausted")
			return
		}
		item.Phase = types.PhasePlan
		item.State = types.StatePending
		e.emit(types.EventWorkItemPhaseTransitioned, item, "revise: back to plan")
		e.promoteLocked(item)
	default: // VerdictReject
		// Reject is terminal; saturate the counter to MAX so a rejected
		// item and an attempts-exhausted item are bookkept identically
		// (spec.md §8 scenario: "Second review returns Reject at attempt 3").
		item.ReviewAttempt = e.cfg.ReviewMaxAttempts
		e.failLocked(item, "rejected by reviewer")
	}
}

func (e *Engine) completeLocked(item *types.WorkItem) {
	now := time.Now()
	item.State = types.StateCompleted
	item.Phase = types.PhaseDone
	item.CompletedAt = &now
	e.emit(types.EventWorkItemCompleted, item, "")

	for _, other := range e.items {
		e.promoteLocked(other)
	}
}

func (e *Engine) failLocked(item *types.WorkItem, reason string) {
	now := time.Now()
	item.State = types.StateFailed
	item.Error = reason
	item.CompletedAt = &now
	e.emit(types.EventWorkItemFailed, item, reason)
}

// Cancel requests cooperative cancellation of a running item. If the
// item has not reached Completed, Failed or Cancelled within CancelGrace,
// it is marked Cancelled (spec.md §4.4).
func (e *Engine) Cancel(item *types.WorkItem) {
	e.mu.Lock()
	cancel, ok := e.cancels[item.ID]
	grace := e.cfg.CancelGrace
	e.mu.Unlock()
	if !ok {
		return
	}
	cancel()

	go func() {
		time.Sleep(grace)
		e.mu.Lock()
		defer e.mu.Unlock()
		if item.State != types.StateCompleted && item.State != types.StateFailed && item.State != types.StateCancelled {
			item.State = types.StateCancelled
			now := time.Now()
			item.CompletedAt = &now
			e.emit(types.EventWorkItemPhaseTransitioned, item, "cancelled")
		}
	}()
}

// Router returns the Engine's Message Router so a caller (cmd/mnemosyned,
// internal/httpapi) can register the Orchestrator role as locally or
// remotely addressable and feed submissions to ServeOrchestratorMailbox.
func (e *Engine) Router() *router.Router { return e.rtr }

// ServeOrchestratorMailbox consumes WorkItem submissions routed to the
// orchestrator role — e.g. from the HTTP API or from another node — and
// calls Submit for each. It is meant to run in its own supervised
// goroutine (spec.md §4.3's local-mailbox delivery path applied to work
// submission).
func (e *Engine) ServeOrchestratorMailbox(ctx context.Context, mailbox <-chan router.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-mailbox:
			if !ok {
				return fmt.Errorf("orchestrator mailbox closed")
			}
			var item types.WorkItem
			if err := json.Unmarshal(env.Payload, &item); err != nil {
				if e.log != nil {
					e.log.Warn("failed to decode routed work item", zap.Error(err))
				}
				continue
			}
			if err := e.Submit(&item); err != nil && e.log != nil {
				e.log.Warn("failed to submit routed work item", zap.Error(err))
			}
		}
	}
}

// Get returns the current snapshot of a work item.
func (e *Engine) Get(id string) (*types.WorkItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.items[id]
	return it, ok
}

// RunningCount reports how many items are currently Running or Assigned,
// used by the Evolution Scheduler's idle-detection gate.
func (e *Engine) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runningExecutors
}

func (e *Engine) emit(t types.EventType, item *types.WorkItem, cause string) {
	depth := make(map[types.WorkItemState]int)
	for _, it := range e.items {
		depth[it.State]++
	}
	for _, st := range []types.WorkItemState{types.StatePending, types.StateReady, types.StateAssigned, types.StateRunning, types.StatePendingReview, types.StateReviewing, types.StateCompleted, types.StateFailed, types.StateCancelled} {
		metrics.WorkItemQueueDepth.WithLabelValues(string(st)).Set(float64(depth[st]))
	}
	if e.bus == nil {
		return
	}
	e.bus.Publish(types.Event{
		Type: t,
		Payload: map[string]interface{}{
			"work_item_id": item.ID,
			"description":  item.Description,
			"state":        string(item.State),
			"phase":        string(item.Phase),
			"attempt":      item.ReviewAttempt,
			"cause":        cause,
		},
	})
}
