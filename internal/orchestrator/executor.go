package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// Executor runs the Executor role's actual work for a WorkItem,
// generalizing internal/aider/spawner.go's exec.Command + pipe-bridging
// pattern away from a hardcoded `aider` invocation: the command template
// is configured (EngineConfig.ExecutorCommand), the work item's
// requirements are appended as arguments, and its description is fed on
// stdin.
type Executor struct {
	command []string
	log     *zap.Logger
}

// NewExecutor creates an Executor. An empty command template makes Run a
// no-op that echoes the item's description back as its result — useful
// for tests and for work items that require no external tool.
func NewExecutor(command []string, log *zap.Logger) *Executor {
	return &Executor{command: command, log: log}
}

// Run executes item, returning its result text or an error. It respects
// ctx's deadline: on cancellation the subprocess is asked to exit via
// Process.Kill once the context is done (cooperative cancellation is the
// caller's responsibility per spec.md §4.4 — the grace window is enforced
// by Engine.Cancel, not here).
func (x *Executor) Run(ctx context.Context, item *types.WorkItem) (string, error) {
	if len(x.command) == 0 {
		return fmt.Sprintf("executed: %s", item.Description), nil
	}

	args := append([]string{}, x.command[1:]...)
	args = append(args, item.Requirements...)
	cmd := exec.CommandContext(ctx, x.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = strings.NewReader(item.Description)

	if x.log != nil {
		x.log.Debug("executor running command", zap.String("work_item_id", item.ID), zap.Strings("command", x.command))
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("executor command failed: %w: %s", err, stderr.String())
	}

	return stdout.String(), nil
}
