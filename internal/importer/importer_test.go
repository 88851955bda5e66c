package importer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
)

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = ":memory:"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func newImporter(t *testing.T, strategy conf.UnmappedLookupStrategy) (*Importer, datastore.Interface) {
	t.Helper()
	ds := newTestStore(t)
	policy := &conf.PolicySettings{UnmappedLookup: strategy}
	return New(ds, policy), ds
}

const header = "event_code,title,expected_tracks,expected_translations,date,teacher,place\n"

func TestImportEveryRowYieldsRecordOrIssue(t *testing.T) {
	im, _ := newImporter(t, conf.UnmappedCreateMissing)

	csv := header +
		"E1,Morning Teaching,5,2,1998-07-01,Lama Tenzin,Main Hall\n" +
		",Missing Code,3,0,1998-07-02,,\n" +
		"E2,Evening Teaching,not-a-number,0,1998-07-02,,\n" +
		"E3,Questions,2,1,1998-07-03,,\n" +
		"E1,Duplicate Code,1,0,1998-07-04,,\n"

	result, err := im.Import(1, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 5, result.RowCount)
	assert.Len(t, result.Events, 2)
	assert.Len(t, result.Issues, 3)
	assert.Equal(t, result.RowCount, len(result.Events)+len(result.Issues),
		"each row yields exactly one record or one issue")

	codes := make(map[string]bool)
	for _, e := range result.Events {
		codes[e.EventCode] = true
	}
	assert.True(t, codes["E1"] && codes["E3"])
}

func TestImportParsesTypedFields(t *testing.T) {
	im, ds := newImporter(t, conf.UnmappedCreateMissing)

	csv := header + "E1,Morning Teaching,5,2,1998-07-01,Lama Tenzin,Main Hall\n"
	result, err := im.Import(1, strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	event := result.Events[0]
	assert.Equal(t, "E1", event.EventCode)
	assert.Equal(t, "Morning Teaching", event.Title)
	assert.Equal(t, 5, event.ExpectedTracks)
	assert.Equal(t, 2, event.ExpectedTranslations)
	assert.Equal(t, "1998-07-01", event.EventDate)
	assert.Equal(t, datastore.EventStatusPending, event.Status)

	// create_missing resolved the lookups by creating the records.
	require.NotNil(t, event.TeacherID)
	require.NotNil(t, event.PlaceID)
	teacher, err := ds.FindTeacherByName("Lama Tenzin")
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, *event.TeacherID)
}

func TestImportMissingRequiredHeaderFailsStructurally(t *testing.T) {
	im, _ := newImporter(t, conf.UnmappedCreateMissing)

	_, err := im.Import(1, strings.NewReader("title,date\nSomething,1998-07-01\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_code")
}

func TestImportUnreadableFileFailsStructurally(t *testing.T) {
	im, _ := newImporter(t, conf.UnmappedCreateMissing)
	_, err := im.Import(1, strings.NewReader(""))
	require.Error(t, err)
}

func TestImportUnmappedSkipEvent(t *testing.T) {
	im, _ := newImporter(t, conf.UnmappedSkipEvent)

	csv := header + "E1,Morning Teaching,5,0,1998-07-01,Unknown Teacher,\n"
	result, err := im.Import(1, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Empty(t, result.Events)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, datastore.SeverityWarning, result.Issues[0].Severity)
	assert.Contains(t, result.Issues[0].Message, "Unknown Teacher")
}

func TestImportUnmappedFailBlocksApproval(t *testing.T) {
	im, _ := newImporter(t, conf.UnmappedFail)

	csv := header + "E1,Morning Teaching,5,0,1998-07-01,Unknown Teacher,\n"
	result, err := im.Import(1, strings.NewReader(csv))
	require.NoError(t, err)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, datastore.SeverityError, result.Issues[0].Severity,
		"fail strategy emits an error-severity issue")
}

func TestImportFilePersistsEventsAndRowCount(t *testing.T) {
	im, ds := newImporter(t, conf.UnmappedCreateMissing)

	run := &datastore.MigrationRun{Title: "archive", Status: datastore.RunStatusAnalyzing}
	require.NoError(t, ds.CreateRun(run))

	path := filepath.Join(t.TempDir(), "export.csv")
	csv := header +
		"E1,Morning Teaching,5,0,1998-07-01,,\n" +
		"E2,Evening Teaching,3,0,1998-07-02,,\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	result, err := im.ImportFile(run.ID, path)
	require.NoError(t, err)
	assert.Len(t, result.Events, 2)

	saved, err := ds.GetEventRecords(run.ID)
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	got, err := ds.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RowCount)
}
