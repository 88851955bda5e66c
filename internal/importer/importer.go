// Package importer parses the uploaded tabular export into typed per-event
// records. Malformed individual rows are reported as per-row issues rather
// than aborting the whole import; a completely unparsable file fails fast
// with a structural error.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/errors"
	"github.com/opendharma/archive-migrate/internal/logging"
)

// Column headers recognized in the export. event_code and title are
// required; the rest are optional.
const (
	colEventCode    = "event_code"
	colTitle        = "title"
	colTracks       = "expected_tracks"
	colTranslations = "expected_translations"
	colDate         = "date"
	colTeacher      = "teacher"
	colPlace        = "place"
)

// IssueCategoryRow is the issue category for per-row parse failures.
const IssueCategoryRow = "import-row"

// Result is the outcome of one import: the typed event records plus the
// per-row issues. Every input row contributes to exactly one of the two.
type Result struct {
	Events   []datastore.EventRecord
	Issues   []datastore.Issue
	RowCount int
}

// Importer parses the tabular export and resolves teacher/place references.
type Importer struct {
	ds     datastore.Interface
	policy *conf.PolicySettings
	logger *slog.Logger
}

// New creates an importer.
func New(ds datastore.Interface, policy *conf.PolicySettings) *Importer {
	return &Importer{
		ds:     ds,
		policy: policy,
		logger: logging.ForService("importer"),
	}
}

// ImportFile opens and imports the persisted source file of a run. The
// parsed records are saved against the run and the run's row count updated.
func (im *Importer) ImportFile(runID uint, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("importer").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()

	result, err := im.Import(runID, f)
	if err != nil {
		return nil, err
	}

	if err := im.ds.SaveEventRecords(result.Events); err != nil {
		return nil, err
	}
	if err := im.ds.UpdateRunFields(runID, map[string]any{"row_count": result.RowCount}); err != nil {
		return nil, err
	}
	return result, nil
}

// Import parses CSV rows from r into typed event records. Structural
// problems (unreadable data, missing required headers) fail the whole
// import; row-level problems yield one issue per row.
func (im *Importer) Import(runID uint, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Rows with a deviant field count are handled per-row, not structurally.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Newf("failed to read header row: %w", err).
			Component("importer").
			Category(errors.CategoryFileParsing).
			Build()
	}

	columns, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	seen := make(map[string]bool)

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.Reader only errors per-row for quoting problems once the
			// header parsed; treat it as a row issue and keep going.
			result.RowCount++
			result.Issues = append(result.Issues, rowIssue(result.RowCount, fmt.Sprintf("unparsable row: %v", err)))
			continue
		}
		result.RowCount++

		event, issue := im.parseRow(runID, columns, row, result.RowCount, seen)
		if issue != nil {
			result.Issues = append(result.Issues, *issue)
			continue
		}
		result.Events = append(result.Events, *event)
	}

	im.logger.Info("import finished",
		"run_id", runID,
		"rows", result.RowCount,
		"events", len(result.Events),
		"row_issues", len(result.Issues))
	return result, nil
}

// mapHeader resolves column positions, failing structurally when a required
// column is missing.
func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colEventCode, colTitle} {
		if _, ok := columns[required]; !ok {
			return nil, errors.Newf("missing required column %q", required).
				Component("importer").
				Category(errors.CategoryFileParsing).
				Build()
		}
	}
	return columns, nil
}

// parseRow converts one CSV row. It returns either an event record or an
// issue, never both.
func (im *Importer) parseRow(runID uint, columns map[string]int, row []string, rowNum int, seen map[string]bool) (*datastore.EventRecord, *datastore.Issue) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	code := field(colEventCode)
	if code == "" {
		issue := rowIssue(rowNum, "empty event code")
		return nil, &issue
	}
	if seen[code] {
		issue := rowIssue(rowNum, fmt.Sprintf("duplicate event code %q", code))
		issue.EventCode = code
		return nil, &issue
	}

	title := field(colTitle)
	if title == "" {
		issue := rowIssue(rowNum, fmt.Sprintf("event %q has no title", code))
		issue.EventCode = code
		return nil, &issue
	}

	tracks, err := parseCount(field(colTracks))
	if err != nil {
		issue := rowIssue(rowNum, fmt.Sprintf("event %q: invalid expected track count: %v", code, err))
		issue.EventCode = code
		return nil, &issue
	}
	translations, err := parseCount(field(colTranslations))
	if err != nil {
		issue := rowIssue(rowNum, fmt.Sprintf("event %q: invalid expected translation count: %v", code, err))
		issue.EventCode = code
		return nil, &issue
	}

	event := &datastore.EventRecord{
		MigrationID:          runID,
		EventCode:            code,
		Title:                title,
		ExpectedTracks:       tracks,
		ExpectedTranslations: translations,
		EventDate:            field(colDate),
		TeacherName:          field(colTeacher),
		PlaceName:            field(colPlace),
		Status:               datastore.EventStatusPending,
	}

	if issue := im.resolveLookups(event, rowNum); issue != nil {
		return nil, issue
	}

	seen[code] = true
	return event, nil
}

// resolveLookups maps teacher/place names onto database records according
// to the configured unmapped-lookup strategy.
func (im *Importer) resolveLookups(event *datastore.EventRecord, rowNum int) *datastore.Issue {
	if event.TeacherName != "" {
		id, issue := im.resolveName(event.TeacherName, "teacher", event.EventCode, rowNum,
			func(name string) (uint, error) {
				t, err := im.ds.FindTeacherByName(name)
				if err != nil {
					return 0, err
				}
				return t.ID, nil
			},
			func(name string) (uint, error) {
				t := &datastore.Teacher{Name: name}
				if err := im.ds.CreateTeacher(t); err != nil {
					return 0, err
				}
				return t.ID, nil
			})
		if issue != nil {
			return issue
		}
		if id != 0 {
			event.TeacherID = &id
		}
	}

	if event.PlaceName != "" {
		id, issue := im.resolveName(event.PlaceName, "place", event.EventCode, rowNum,
			func(name string) (uint, error) {
				p, err := im.ds.FindPlaceByName(name)
				if err != nil {
					return 0, err
				}
				return p.ID, nil
			},
			func(name string) (uint, error) {
				p := &datastore.Place{Name: name}
				if err := im.ds.CreatePlace(p); err != nil {
					return 0, err
				}
				return p.ID, nil
			})
		if issue != nil {
			return issue
		}
		if id != 0 {
			event.PlaceID = &id
		}
	}
	return nil
}

func (im *Importer) resolveName(name, kind, eventCode string, rowNum int,
	find func(string) (uint, error), create func(string) (uint, error)) (uint, *datastore.Issue) {

	id, err := find(name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, datastore.ErrNotFound) {
		issue := rowIssue(rowNum, fmt.Sprintf("event %q: %s lookup failed: %v", eventCode, kind, err))
		issue.EventCode = eventCode
		return 0, &issue
	}

	switch im.policy.UnmappedLookup {
	case conf.UnmappedCreateMissing:
		id, err := create(name)
		if err != nil {
			issue := rowIssue(rowNum, fmt.Sprintf("event %q: failed to create %s %q: %v", eventCode, kind, name, err))
			issue.EventCode = eventCode
			return 0, &issue
		}
		return id, nil
	case conf.UnmappedSkipEvent:
		issue := datastore.Issue{
			Severity:  datastore.SeverityWarning,
			Category:  IssueCategoryRow,
			Message:   fmt.Sprintf("row %d: event %q skipped: unmapped %s %q", rowNum, eventCode, kind, name),
			EventCode: eventCode,
		}
		return 0, &issue
	default: // conf.UnmappedFail
		issue := datastore.Issue{
			Severity:  datastore.SeverityError,
			Category:  IssueCategoryRow,
			Message:   fmt.Sprintf("row %d: event %q has unmapped %s %q", rowNum, eventCode, kind, name),
			EventCode: eventCode,
		}
		return 0, &issue
	}
}

func parseCount(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", value)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return n, nil
}

func rowIssue(rowNum int, message string) datastore.Issue {
	return datastore.Issue{
		Severity: datastore.SeverityWarning,
		Category: IssueCategoryRow,
		Message:  fmt.Sprintf("row %d: %s", rowNum, message),
		Details:  map[string]any{"row": rowNum},
	}
}
