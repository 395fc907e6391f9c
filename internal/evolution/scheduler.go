// Package evolution implements the Evolution Scheduler (spec.md §4.5):
// idempotent, crash-safe background jobs that recalibrate importance,
// decay unused links, archive stale memories, and optionally consolidate
// near-duplicates. Grounded on original_source/src/evolution/mod.rs's
// module layout (config/scheduler/importance/links/archival) and the
// teacher's Spawner.monitorAgents ticker idiom for the scheduling loop.
package evolution

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/events"
	"github.com/mnemosyne/mnemosyne/internal/metrics"
	"github.com/mnemosyne/mnemosyne/internal/store"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

// IdleChecker reports how many work items the Orchestration Engine is
// currently running. The Scheduler only fires jobs once this has read 0
// continuously for at least IdleFor, so a bursty workload never has its
// memory reads competing with a background job's table scan.
type IdleChecker interface {
	RunningCount() int
}

// Scheduler runs the four Evolution jobs, each on its own configured
// interval, gated on engine idleness.
type Scheduler struct {
	mu      sync.Mutex
	store   *store.Store
	cfg     config.EvolutionConfig
	log     *zap.Logger
	bus     *events.Bus
	idle    IdleChecker
	lastRun map[string]time.Time

	idleSince time.Time
	wasIdle   bool

	tickInterval time.Duration

	historyMu sync.Mutex
	history   []JobReport
}

// NewScheduler builds a Scheduler. idle may be nil, in which case jobs
// always run on their configured interval with no idle gating (useful
// in tests that do not wire an Engine).
func NewScheduler(st *store.Store, cfg config.EvolutionConfig, log *zap.Logger, bus *events.Bus, idle IdleChecker) *Scheduler {
	return &Scheduler{
		store:        st,
		cfg:          cfg,
		log:          log,
		bus:          bus,
		idle:         idle,
		lastRun:      make(map[string]time.Time),
		tickInterval: 5 * time.Second,
	}
}

// Start runs the scheduling loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates idleness and runs any job whose interval has elapsed,
// all due jobs running concurrently via errgroup since each operates on
// disjoint rows and is independently idempotent.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.observeIdle() {
		return
	}

	now := time.Now()
	type due struct {
		name  string
		jc    config.JobConfig
		run   func(context.Context, int) (JobReport, error)
	}
	candidates := []due{
		{"importance_recalibration", s.cfg.Recalibration, func(ctx context.Context, batch int) (JobReport, error) {
			return runImportanceRecalibration(ctx, s.store, s.cfg, batch)
		}},
		{"link_decay", s.cfg.LinkDecay, func(ctx context.Context, batch int) (JobReport, error) {
			return runLinkDecay(ctx, s.store, s.cfg, batch)
		}},
		{"archival", s.cfg.Archival, func(ctx context.Context, batch int) (JobReport, error) {
			return runArchival(ctx, s.store, s.cfg, batch)
		}},
		{"consolidation", s.cfg.Consolidation, func(ctx context.Context, batch int) (JobReport, error) {
			return runConsolidation(ctx, s.store, s.cfg)
		}},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range candidates {
		c := c
		if !c.jc.Enabled {
			continue
		}
		s.mu.Lock()
		last, seen := s.lastRun[c.name]
		isDue := !seen || now.Sub(last) >= c.jc.Interval
		if isDue {
			s.lastRun[c.name] = now
		}
		s.mu.Unlock()
		if !isDue {
			continue
		}
		g.Go(func() error {
			report, err := c.run(gctx, c.jc.BatchSize)
			s.recordReport(report)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
			}
			return nil // a single job's failure must not cancel its siblings
		})
	}
	g.Wait()
}

// observeIdle updates the continuous-idle tracker and reports whether
// the Engine has been idle for at least IdleFor.
func (s *Scheduler) observeIdle() bool {
	if s.idle == nil {
		return true
	}
	idleNow := s.idle.RunningCount() == 0

	s.mu.Lock()
	defer s.mu.Unlock()
	if !idleNow {
		s.wasIdle = false
		return false
	}
	if !s.wasIdle {
		s.wasIdle = true
		s.idleSince = time.Now()
	}
	return time.Since(s.idleSince) >= s.cfg.IdleFor
}

func (s *Scheduler) recordReport(report JobReport) {
	metrics.RecordJobReport(report.Name, report.Scanned, report.Mutated, report.Duration.Seconds())

	if s.log != nil {
		if len(report.Errors) > 0 {
			s.log.Warn(report.String(), zap.String("job", report.Name), zap.Int("scanned", report.Scanned), zap.Int("mutated", report.Mutated), zap.Strings("errors", report.Errors))
		} else {
			s.log.Info(report.String(), zap.String("job", report.Name), zap.Int("scanned", report.Scanned), zap.Int("mutated", report.Mutated), zap.Duration("duration", report.Duration))
		}
	}
	if s.bus != nil {
		s.bus.Publish(types.Event{
			Type: types.EventMemoryEvolved,
			Payload: map[string]interface{}{
				"job":      report.Name,
				"scanned":  report.Scanned,
				"mutated":  report.Mutated,
				"duration": report.Duration.String(),
				"errors":   report.Errors,
			},
		})
	}

	s.historyMu.Lock()
	s.history = append(s.history, report)
	if len(s.history) > 50 {
		s.history = s.history[len(s.history)-50:]
	}
	s.historyMu.Unlock()
}

// History returns the most recent job reports (bounded to the last 50),
// newest last.
func (s *Scheduler) History() []JobReport {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	out := make([]JobReport, len(s.history))
	copy(out, s.history)
	return out
}

// RunAllNow runs every enabled job once, ignoring both the idle gate and
// each job's interval. Used by tests and by an operator-triggered manual
// sweep.
func (s *Scheduler) RunAllNow(ctx context.Context) []JobReport {
	var reports []JobReport
	if s.cfg.Recalibration.Enabled {
		r, _ := runImportanceRecalibration(ctx, s.store, s.cfg, s.cfg.Recalibration.BatchSize)
		s.recordReport(r)
		reports = append(reports, r)
	}
	if s.cfg.LinkDecay.Enabled {
		r, _ := runLinkDecay(ctx, s.store, s.cfg, s.cfg.LinkDecay.BatchSize)
		s.recordReport(r)
		reports = append(reports, r)
	}
	if s.cfg.Archival.Enabled {
		r, _ := runArchival(ctx, s.store, s.cfg, s.cfg.Archival.BatchSize)
		s.recordReport(r)
		reports = append(reports, r)
	}
	if s.cfg.Consolidation.Enabled {
		r, _ := runConsolidation(ctx, s.store, s.cfg)
		s.recordReport(r)
		reports = append(reports, r)
	}
	return reports
}
