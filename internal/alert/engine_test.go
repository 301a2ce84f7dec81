package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagster-alert/internal/dagster"
	"dagster-alert/internal/models"
	"dagster-alert/internal/storage"
)

type engineFixture struct {
	engine     *Engine
	rules      *storage.RuleStore
	notifs     *storage.NotificationStore
	checkpoint *storage.CheckpointStore
	sink       *fakeSink
	src        *fakeRunSource
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	rules := storage.NewRuleStore(kv)
	notifs := storage.NewNotificationStore(kv, 0)
	checkpoint := storage.NewCheckpointStore(kv)
	sink := newFakeSink()
	src := &fakeRunSource{}
	evaluator := NewRunEvaluator(src, 50)
	dispatcher := NewDispatcher(sink, notifs)
	return &engineFixture{
		engine:     NewEngine(rules, notifs, checkpoint, evaluator, dispatcher, 7),
		rules:      rules,
		notifs:     notifs,
		checkpoint: checkpoint,
		sink:       sink,
		src:        src,
	}
}

func TestRunPass_EmptyRuleSetIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	before := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.checkpoint.Write(ctx, before))

	result := f.engine.RunPass(ctx)
	assert.Equal(t, models.PassNoData, result.Outcome)
	assert.Empty(t, result.Errors)

	// A no-op pass leaves the checkpoint alone.
	after, err := f.checkpoint.Read(ctx)
	require.NoError(t, err)
	assert.True(t, after.Equal(before))
}

func TestRunPass_TriggersAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.rules.Add(ctx, models.Rule{
		Name:     "ETL failures",
		Type:     models.TypeJobFailure,
		TargetID: "etl_job",
	})
	require.NoError(t, err)

	now := time.Now()
	f.src.runs = []dagster.Run{
		{ID: "r1", PipelineName: "etl_job", Status: dagster.StatusFailure, StartTime: ts(now)},
	}

	result := f.engine.RunPass(ctx)
	assert.Equal(t, models.PassSuccess, result.Outcome)
	assert.Equal(t, 1, result.TriggeredCount)
	assert.Empty(t, result.Errors)
	require.Len(t, f.sink.scheduled, 1)

	stored, err := f.rules.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "r1", stored[0].LastTriggeredRunID)
	assert.False(t, stored[0].LastTriggered.IsZero())
	assert.False(t, stored[0].LastChecked.IsZero())

	// The same run must never fire twice, even though the next pass
	// starts from an earlier boundary than the run's start time.
	require.NoError(t, f.checkpoint.Write(ctx, now.Add(-time.Hour)))
	result = f.engine.RunPass(ctx)
	assert.Equal(t, models.PassNoData, result.Outcome)
	assert.Equal(t, 0, result.TriggeredCount)
	assert.Len(t, f.sink.scheduled, 1)
}

func TestRunPass_CheckpointIsMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.rules.Add(ctx, models.Rule{Name: "anything failed", Type: models.TypeAnyJobFailure})
	require.NoError(t, err)

	before, err := f.checkpoint.Read(ctx)
	require.NoError(t, err)

	f.engine.RunPass(ctx)

	after, err := f.checkpoint.Read(ctx)
	require.NoError(t, err)
	assert.False(t, after.Before(before), "checkpoint moved backwards: %v -> %v", before, after)
}

func TestRunPass_DisabledRulesAreSkipped(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	created, err := f.rules.Add(ctx, models.Rule{
		Name:     "ETL failures",
		Type:     models.TypeJobFailure,
		TargetID: "etl_job",
	})
	require.NoError(t, err)
	_, err = f.rules.Toggle(ctx, created.ID)
	require.NoError(t, err)

	f.src.runs = []dagster.Run{
		{ID: "r1", PipelineName: "etl_job", Status: dagster.StatusFailure, StartTime: ts(time.Now())},
	}

	result := f.engine.RunPass(ctx)
	assert.Equal(t, models.PassNoData, result.Outcome)
	assert.Empty(t, f.sink.scheduled)

	// Disabled rules keep their metadata untouched.
	stored, err := f.rules.List(ctx)
	require.NoError(t, err)
	assert.True(t, stored[0].LastChecked.IsZero())
}

func TestRunPass_OneRuleFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.rules.Add(ctx, models.Rule{
		Name:     "broken dispatch",
		Type:     models.TypeJobFailure,
		TargetID: "job_a",
	})
	require.NoError(t, err)
	_, err = f.rules.Add(ctx, models.Rule{
		Name:     "healthy rule",
		Type:     models.TypeJobFailure,
		TargetID: "job_b",
	})
	require.NoError(t, err)

	now := time.Now()
	f.src.runs = []dagster.Run{
		{ID: "ra", PipelineName: "job_a", Status: dagster.StatusFailure, StartTime: ts(now)},
		{ID: "rb", PipelineName: "job_b", Status: dagster.StatusFailure, StartTime: ts(now)},
	}
	f.sink.scheduleErrFor = map[string]error{"broken dispatch": errors.New("sink down")}

	before, err := f.checkpoint.Read(ctx)
	require.NoError(t, err)

	result := f.engine.RunPass(ctx)

	// The healthy rule still fired and the pass still completed.
	assert.Equal(t, models.PassSuccess, result.Outcome)
	assert.Equal(t, 1, result.TriggeredCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "sink down")
	require.Len(t, f.sink.scheduled, 1)
	assert.Equal(t, "healthy rule", f.sink.scheduled[0].Title)

	after, err := f.checkpoint.Read(ctx)
	require.NoError(t, err)
	assert.False(t, after.Before(before))

	// The failed rule keeps its dedup key clear so the next pass can
	// retry delivery; both rules record the check.
	stored, err := f.rules.List(ctx)
	require.NoError(t, err)
	for _, r := range stored {
		assert.False(t, r.LastChecked.IsZero(), "rule %s missing lastChecked", r.Name)
		if r.Name == "broken dispatch" {
			assert.Empty(t, r.LastTriggeredRunID)
		} else {
			assert.Equal(t, "rb", r.LastTriggeredRunID)
		}
	}
}

func TestRunPass_RefreshesBadge(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.rules.Add(ctx, models.Rule{
		Name:     "ETL failures",
		Type:     models.TypeJobFailure,
		TargetID: "etl_job",
	})
	require.NoError(t, err)
	f.src.runs = []dagster.Run{
		{ID: "r1", PipelineName: "etl_job", Status: dagster.StatusFailure, StartTime: ts(time.Now())},
	}

	f.engine.RunPass(ctx)

	assert.True(t, f.sink.badgeSet)
	assert.Equal(t, 1, f.sink.badge)
}

// blockingEvaluator parks inside Evaluate until released.
type blockingEvaluator struct {
	entered  chan struct{}
	released chan struct{}
}

func (b *blockingEvaluator) Evaluate(ctx context.Context, rule models.Rule, since time.Time) models.EvaluationResult {
	close(b.entered)
	<-b.released
	return models.EvaluationResult{Message: "no failures detected"}
}

func TestRunPass_OverlappingPassIsSkipped(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	rules := storage.NewRuleStore(kv)
	notifs := storage.NewNotificationStore(kv, 0)
	checkpoint := storage.NewCheckpointStore(kv)
	sink := newFakeSink()
	blocker := &blockingEvaluator{
		entered:  make(chan struct{}),
		released: make(chan struct{}),
	}
	engine := NewEngine(rules, notifs, checkpoint, blocker, NewDispatcher(sink, notifs), 7)

	_, err := rules.Add(ctx, models.Rule{Name: "anything failed", Type: models.TypeAnyJobFailure})
	require.NoError(t, err)

	done := make(chan models.PassResult, 1)
	go func() {
		done <- engine.RunPass(ctx)
	}()

	<-blocker.entered
	skipped := engine.RunPass(ctx)
	assert.Equal(t, models.PassSkipped, skipped.Outcome)

	close(blocker.released)
	first := <-done
	assert.Equal(t, models.PassNoData, first.Outcome)
}

func TestManualTrigger_ReturnsAggregate(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.rules.Add(ctx, models.Rule{
		Name:     "ETL failures",
		Type:     models.TypeJobFailure,
		TargetID: "etl_job",
	})
	require.NoError(t, err)
	f.src.runs = []dagster.Run{
		{ID: "r1", PipelineName: "etl_job", Status: dagster.StatusFailure, StartTime: ts(time.Now())},
	}

	result := f.engine.ManualTrigger(ctx)
	assert.Equal(t, 1, result.TriggeredCount)
	assert.Empty(t, result.Errors)
}

func TestEngineStatus(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	created, err := f.rules.Add(ctx, models.Rule{
		Name:     "ETL failures",
		Type:     models.TypeJobFailure,
		TargetID: "etl_job",
	})
	require.NoError(t, err)
	_, err = f.rules.Add(ctx, models.Rule{Name: "anything failed", Type: models.TypeAnyJobFailure})
	require.NoError(t, err)
	_, err = f.rules.Toggle(ctx, created.ID)
	require.NoError(t, err)

	snap, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RuleCount)
	assert.Equal(t, 1, snap.EnabledRuleCount)
	assert.Equal(t, 0, snap.UnreadCount)
	assert.NotEmpty(t, snap.CheckpointAge)
}
