// Package runlog owns the run lifecycle: the run row, step handles, and
// the audit event sink. There is no ambient process-wide state; one
// Orchestrator value exists per run and is threaded explicitly through the
// pipeline. Contexts are passed, never stored.
package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scoutworks/cscout/internal/redact"
	"github.com/scoutworks/cscout/internal/storage"
	"github.com/scoutworks/cscout/internal/types"
)

// Orchestrator scopes all step and audit writes to one run.
type Orchestrator struct {
	store  *storage.Store
	run    *types.Run
	logger *slog.Logger
	now    func() time.Time
}

// Options configures run creation.
type Options struct {
	Args       map[string]any
	ConfigHash string
	Logger     *slog.Logger
	Now        func() time.Time
}

// New creates exactly one run row and returns its orchestrator. Args are
// redacted before persistence; the git commit is recorded when one is
// discoverable.
func New(ctx context.Context, store *storage.Store, opts Options) (*Orchestrator, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	run := &types.Run{
		ID:         uuid.NewString(),
		CreatedAt:  now().UTC(),
		Args:       redact.Map(opts.Args),
		ConfigHash: opts.ConfigHash,
		GitCommit:  discoverGitCommit(ctx),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &Orchestrator{store: store, run: run, logger: logger, now: now}, nil
}

// Attach binds an orchestrator to an existing run (scout expand, briefs
// generate, and the debug commands operate on prior runs).
func Attach(ctx context.Context, store *storage.Store, runID string, logger *slog.Logger) (*Orchestrator, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, run: run, logger: logger, now: time.Now}, nil
}

// Run returns the run this orchestrator is scoped to.
func (o *Orchestrator) Run() *types.Run { return o.run }

// discoverGitCommit best-effort resolves HEAD; empty outside a repository.
func discoverGitCommit(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// StepHandle tracks one in-flight step. Finish must be called exactly once.
type StepHandle struct {
	o         *Orchestrator
	id        int64
	name      string
	startedAt time.Time
}

// StartStep begins a named phase. The name must come from the closed step
// set; anything else is a programmer error surfaced immediately.
func (o *Orchestrator) StartStep(ctx context.Context, name string) (*StepHandle, error) {
	if err := types.ValidateStepName(name); err != nil {
		return nil, err
	}
	startedAt := o.now().UTC()
	id, err := o.store.CreateStep(ctx, o.run.ID, name, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to start step %s: %w", name, err)
	}
	o.Audit(ctx, "info", name, "step.started", "step started", nil)
	return &StepHandle{o: o, id: id, name: name, startedAt: startedAt}, nil
}

// Name returns the step's canonical name.
func (h *StepHandle) Name() string { return h.name }

// Finish finalizes the step, stamping duration_ms into the stats and
// emitting the step.finished or step.failed audit event.
func (h *StepHandle) Finish(ctx context.Context, status types.StepStatus, stats map[string]any) error {
	finishedAt := h.o.now().UTC()
	if stats == nil {
		stats = map[string]any{}
	}
	stats["duration_ms"] = finishedAt.Sub(h.startedAt).Milliseconds()

	if err := h.o.store.FinishStep(ctx, h.id, status, finishedAt, stats); err != nil {
		return fmt.Errorf("failed to finish step %s: %w", h.name, err)
	}

	event := "step.finished"
	level := "info"
	if status == types.StepFailed {
		event = "step.failed"
		level = "error"
	}
	h.o.Audit(ctx, level, h.name, event, fmt.Sprintf("step %s %s", h.name, status), stats)
	return nil
}

// Audit redacts data, stamps the run id, writes the audit row, and mirrors
// the event to the structured logger. Audit failures are logged, not
// propagated: losing one event must not abort a pipeline step.
func (o *Orchestrator) Audit(ctx context.Context, level, scope, event, message string, data map[string]any) {
	clean := redact.Map(data)
	ev := &types.AuditEvent{
		RunID:     o.run.ID,
		CreatedAt: o.now().UTC(),
		Level:     level,
		Scope:     scope,
		Event:     event,
		Message:   message,
		Data:      clean,
	}
	if err := o.store.InsertAudit(ctx, ev); err != nil {
		o.logger.Error("failed to write audit event",
			"run_id", o.run.ID, "event", event, "error", err)
		return
	}

	attrs := []any{"run_id", o.run.ID, "scope", scope, "event", event}
	if len(clean) > 0 {
		attrs = append(attrs, "data", clean)
	}
	switch level {
	case "error":
		o.logger.Error(message, attrs...)
	case "warn":
		o.logger.Warn(message, attrs...)
	case "debug":
		o.logger.Debug(message, attrs...)
	default:
		o.logger.Info(message, attrs...)
	}
}
