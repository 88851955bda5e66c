package runstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
)

func newManager(t *testing.T) (*StateManager, datastore.Interface) {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = ":memory:"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	return NewStateManager(ds), ds
}

func createRun(t *testing.T, ds datastore.Interface, status datastore.RunStatus) *datastore.MigrationRun {
	t.Helper()
	run := &datastore.MigrationRun{Title: "summer retreat", Status: status}
	require.NoError(t, ds.CreateRun(run))
	return run
}

func TestDisallowedTransitionsAreRejected(t *testing.T) {
	tests := []struct {
		name   string
		from   datastore.RunStatus
		target datastore.RunStatus
	}{
		{"analysis is one-shot", datastore.RunStatusAnalyzed, datastore.RunStatusAnalyzing},
		{"cannot reanalyze a failed run", datastore.RunStatusFailed, datastore.RunStatusAnalyzing},
		{"cannot approve an uploaded run", datastore.RunStatusUploaded, datastore.RunStatusApproved},
		{"cannot execute without approval", datastore.RunStatusDecisionsComplete, datastore.RunStatusExecuting},
		{"cannot execute a completed run", datastore.RunStatusCompleted, datastore.RunStatusExecuting},
		{"cannot cancel while executing", datastore.RunStatusExecuting, datastore.RunStatusCancelled},
		{"cannot complete without executing", datastore.RunStatusApproved, datastore.RunStatusCompleted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sm, ds := newManager(t)
			run := createRun(t, ds, tc.from)

			err := sm.Transition(run.ID, tc.target, nil)
			require.Error(t, err)

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.from, te.Current)
			assert.Equal(t, tc.target, te.Target)

			got, err := ds.GetRun(run.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.from, got.Status, "rejected transition leaves status unchanged")
		})
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	sm, ds := newManager(t)
	run := createRun(t, ds, datastore.RunStatusUploaded)

	require.NoError(t, sm.BeginAnalysis(run.ID))
	require.NoError(t, sm.CompleteAnalysis(run.ID, `{"totalFiles":3}`, 2))

	got, err := ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.RunStatusDecisionsPending, got.Status)
	assert.Equal(t, 2, got.TotalEvents)
	assert.NotNil(t, got.AnalyzedAt)

	require.NoError(t, sm.SetDecisionCompleteness(run.ID, true))
	require.NoError(t, sm.Approve(run.ID))
	require.NoError(t, sm.BeginExecution(run.ID))
	require.NoError(t, sm.CompleteExecution(run.ID))

	got, err = ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.RunStatusCompleted, got.Status)
	assert.InDelta(t, 100.0, got.ProgressPercentage, 0.01)
	assert.NotNil(t, got.FinishedAt)
}

func TestBeginExecutionZeroesCounters(t *testing.T) {
	sm, ds := newManager(t)
	run := createRun(t, ds, datastore.RunStatusApproved)
	require.NoError(t, ds.UpdateRunFields(run.ID, map[string]any{
		"processed_events":    7,
		"progress_percentage": 70.0,
		"cancel_requested":    true,
	}))

	require.NoError(t, sm.BeginExecution(run.ID))

	got, err := ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ProcessedEvents)
	assert.InDelta(t, 0.0, got.ProgressPercentage, 0.01)
	assert.False(t, got.CancelRequested)
	assert.NotNil(t, got.ExecutedAt)
}

func TestBeginExecutionExclusive(t *testing.T) {
	sm, ds := newManager(t)
	run := createRun(t, ds, datastore.RunStatusApproved)

	require.NoError(t, sm.BeginExecution(run.ID))
	err := sm.BeginExecution(run.ID)
	require.Error(t, err, "second claim loses")

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, datastore.RunStatusExecuting, te.Current)
}

func TestSetDecisionCompletenessTogglesOnlyPairedStates(t *testing.T) {
	sm, ds := newManager(t)

	run := createRun(t, ds, datastore.RunStatusDecisionsPending)
	require.NoError(t, sm.SetDecisionCompleteness(run.ID, true))
	got, err := ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.RunStatusDecisionsComplete, got.Status)

	require.NoError(t, sm.SetDecisionCompleteness(run.ID, false))
	got, err = ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.RunStatusDecisionsPending, got.Status)

	// Runs outside the decision phase are left alone.
	executing := createRun(t, ds, datastore.RunStatusExecuting)
	require.NoError(t, sm.SetDecisionCompleteness(executing.ID, true))
	got, err = ds.GetRun(executing.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.RunStatusExecuting, got.Status)
}

func TestCancelFromExecution(t *testing.T) {
	sm, ds := newManager(t)
	run := createRun(t, ds, datastore.RunStatusExecuting)

	require.NoError(t, sm.CancelFromExecution(run.ID))
	got, err := ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.RunStatusCancelled, got.Status)
}
