package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutworks/cscout/internal/redact"
	"github.com/scoutworks/cscout/internal/storage"
	"github.com/scoutworks/cscout/internal/types"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *storage.Store) {
	t.Helper()
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	o, err := New(context.Background(), store, Options{
		Args:       map[string]any{"query": "vector database", "github_token": "SENTINEL_TOKEN"},
		ConfigHash: "cafe0123cafe0123",
	})
	require.NoError(t, err)
	return o, store
}

func TestNewCreatesRedactedRun(t *testing.T) {
	o, store := testOrchestrator(t)
	ctx := context.Background()

	run, err := store.GetRun(ctx, o.Run().ID)
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, "vector database", run.Args["query"])
	assert.Equal(t, redact.Sentinel, run.Args["github_token"], "secrets must not reach the run row")
	assert.Equal(t, "cafe0123cafe0123", run.ConfigHash)
}

func TestStartStepRejectsUnknownName(t *testing.T) {
	o, _ := testOrchestrator(t)
	_, err := o.StartStep(context.Background(), "made_up_step")
	assert.Error(t, err)
}

func TestStepLifecycleEvents(t *testing.T) {
	o, store := testOrchestrator(t)
	ctx := context.Background()

	h, err := o.StartStep(ctx, types.StepSearchPass1)
	require.NoError(t, err)
	require.NoError(t, h.Finish(ctx, types.StepSuccess, map[string]any{"repos": 3}))

	steps, err := store.ListSteps(ctx, o.Run().ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, types.StepSuccess, steps[0].Status)
	assert.Contains(t, steps[0].Stats, "duration_ms")

	started, err := store.CountAuditByEvent(ctx, o.Run().ID, "step.started")
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	finished, err := store.CountAuditByEvent(ctx, o.Run().ID, "step.finished")
	require.NoError(t, err)
	assert.Equal(t, 1, finished)
}

func TestFailedStepEmitsStepFailed(t *testing.T) {
	o, store := testOrchestrator(t)
	ctx := context.Background()

	h, err := o.StartStep(ctx, types.StepLLMRepoAnalysis)
	require.NoError(t, err)
	require.NoError(t, h.Finish(ctx, types.StepFailed, nil))

	n, err := store.CountAuditByEvent(ctx, o.Run().ID, "step.failed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAuditRedactsData(t *testing.T) {
	o, store := testOrchestrator(t)
	ctx := context.Background()

	o.Audit(ctx, "info", "scope", "custom.event", "hello", map[string]any{
		"authorization": "Bearer SENTINEL_TOKEN",
		"count":         7,
	})

	events, err := store.ListAudit(ctx, o.Run().ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, redact.Sentinel, events[0].Data["authorization"])
	assert.EqualValues(t, 7, events[0].Data["count"])
}

func TestAttach(t *testing.T) {
	o, store := testOrchestrator(t)
	ctx := context.Background()

	attached, err := Attach(ctx, store, o.Run().ID, nil)
	require.NoError(t, err)
	assert.Equal(t, o.Run().ID, attached.Run().ID)

	_, err = Attach(ctx, store, "missing-run", nil)
	assert.Error(t, err)
}

func TestStepDurationUsesInjectedClock(t *testing.T) {
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	current := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)
	o, err := New(context.Background(), store, Options{
		Now: func() time.Time { return current },
	})
	require.NoError(t, err)

	h, err := o.StartStep(context.Background(), types.StepInitRun)
	require.NoError(t, err)

	current = current.Add(1500 * time.Millisecond)
	require.NoError(t, h.Finish(context.Background(), types.StepSuccess, nil))

	steps, err := store.ListSteps(context.Background(), o.Run().ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, steps[0].Stats["duration_ms"])
}
