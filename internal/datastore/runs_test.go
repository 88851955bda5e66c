package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendharma/archive-migrate/internal/conf"
)

func newTestStore(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = ":memory:"

	ds := New(settings)
	require.NotNil(t, ds)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func createRun(t *testing.T, ds Interface, status RunStatus) *MigrationRun {
	t.Helper()
	run := &MigrationRun{Title: "retreat 1998", Status: status}
	require.NoError(t, ds.CreateRun(run))
	return run
}

func TestTransitionRunClaims(t *testing.T) {
	ds := newTestStore(t)
	run := createRun(t, ds, RunStatusApproved)

	claimed, err := ds.TransitionRun(run.ID, []RunStatus{RunStatusApproved}, RunStatusExecuting, nil)
	require.NoError(t, err)
	assert.True(t, claimed)

	// The second claim must lose: the conditional UPDATE no longer matches.
	claimed, err = ds.TransitionRun(run.ID, []RunStatus{RunStatusApproved}, RunStatusExecuting, nil)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusExecuting, got.Status)
}

func TestTransitionRunRejectedLeavesStatusUnchanged(t *testing.T) {
	ds := newTestStore(t)
	run := createRun(t, ds, RunStatusCompleted)

	claimed, err := ds.TransitionRun(run.ID, []RunStatus{RunStatusUploaded}, RunStatusAnalyzing, nil)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
}

func TestRecordEventOutcomeUpdatesCounters(t *testing.T) {
	ds := newTestStore(t)
	run := createRun(t, ds, RunStatusExecuting)
	require.NoError(t, ds.UpdateRunFields(run.ID, map[string]any{"total_events": 4}))

	events := []EventRecord{
		{MigrationID: run.ID, EventCode: "E1", Status: EventStatusPending},
		{MigrationID: run.ID, EventCode: "E2", Status: EventStatusPending},
		{MigrationID: run.ID, EventCode: "E3", Status: EventStatusPending},
	}
	require.NoError(t, ds.SaveEventRecords(events))
	saved, err := ds.GetEventRecords(run.ID)
	require.NoError(t, err)
	require.Len(t, saved, 3)

	require.NoError(t, ds.RecordEventOutcome(run.ID, saved[0].ID, EventStatusSuccessful, ""))
	require.NoError(t, ds.RecordEventOutcome(run.ID, saved[1].ID, EventStatusFailed, "copy failed"))
	require.NoError(t, ds.RecordEventOutcome(run.ID, saved[2].ID, EventStatusSkipped, ""))

	got, err := ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ProcessedEvents)
	assert.Equal(t, 1, got.SuccessfulEvents)
	assert.Equal(t, 1, got.FailedEvents)
	assert.Equal(t, 1, got.SkippedEvents)
	assert.InDelta(t, 75.0, got.ProgressPercentage, 0.01)

	gotEvents, err := ds.GetEventRecords(run.ID)
	require.NoError(t, err)
	assert.Equal(t, EventStatusSuccessful, gotEvents[0].Status)
	assert.Equal(t, EventStatusFailed, gotEvents[1].Status)
	assert.Equal(t, "copy failed", gotEvents[1].ErrorMessage)
}

func TestUpsertDecisionIdempotent(t *testing.T) {
	ds := newTestStore(t)
	run := createRun(t, ds, RunStatusDecisionsPending)

	files := []CatalogedFile{{MigrationID: run.ID, EventCode: "E1", Filename: "01 talk.mp3", ObjectKey: "E1/01 talk.mp3"}}
	require.NoError(t, ds.SaveCatalogedFiles(files))
	catalog, err := ds.GetCatalogedFiles(run.ID)
	require.NoError(t, err)
	require.Len(t, catalog, 1)

	decision := &FileDecision{MigrationID: run.ID, CatalogID: catalog[0].ID, Action: ActionInclude}
	require.NoError(t, ds.UpsertDecision(decision, map[string]any{"action": ActionInclude}))
	require.NoError(t, ds.UpsertDecision(decision, map[string]any{"action": ActionInclude}))

	list, err := ds.GetDecisions(run.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1, "repeated upsert yields one row")

	// Partial merge never clobbers unspecified fields.
	require.NoError(t, ds.UpsertDecision(decision, map[string]any{"note": "double-checked"}))
	list, err = ds.GetDecisions(run.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ActionInclude, list[0].Action)
	assert.Equal(t, "double-checked", list[0].Note)
}

func TestGetLogsFiltersBySeverity(t *testing.T) {
	ds := newTestStore(t)
	run := createRun(t, ds, RunStatusExecuting)

	require.NoError(t, ds.AppendLog(&MigrationLog{MigrationID: run.ID, Level: SeverityInfo, Message: "event E1 migrated"}))
	require.NoError(t, ds.AppendLog(&MigrationLog{MigrationID: run.ID, Level: SeverityError, Message: "copy failed"}))

	all, err := ds.GetLogs(run.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	errs, err := ds.GetLogs(run.ID, SeverityError, 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "copy failed", errs[0].Message)
}

func TestRequestCancelSetsFlagOnce(t *testing.T) {
	ds := newTestStore(t)
	run := createRun(t, ds, RunStatusExecuting)

	requested, err := ds.RequestCancel(run.ID)
	require.NoError(t, err)
	assert.True(t, requested)

	requested, err = ds.RequestCancel(run.ID)
	require.NoError(t, err)
	assert.False(t, requested, "second request is a no-op")

	flag, err := ds.IsCancelRequested(run.ID)
	require.NoError(t, err)
	assert.True(t, flag)
}
