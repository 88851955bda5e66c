// Package report publishes live progress snapshots, filterable logs, and
// the final per-run report for archival after a run finishes.
package report

import (
	"sort"

	"github.com/opendharma/archive-migrate/internal/datastore"
)

// Progress is one read-only snapshot of a run's counters. The publisher
// only ever reads the persisted row; it holds no lock on the run.
type Progress struct {
	RunID            uint                `json:"runId"`
	Status           datastore.RunStatus `json:"status"`
	Percentage       float64             `json:"percentage"`
	TotalEvents      int                 `json:"totalEvents"`
	ProcessedEvents  int                 `json:"processedEvents"`
	SuccessfulEvents int                 `json:"successfulEvents"`
	FailedEvents     int                 `json:"failedEvents"`
	SkippedEvents    int                 `json:"skippedEvents"`
	ErrorMessage     string              `json:"errorMessage,omitempty"`
}

// Terminal reports whether the run has reached a final state, after which
// subscribers receive one last event and the stream closes.
func (p *Progress) Terminal() bool {
	switch p.Status {
	case datastore.RunStatusCompleted, datastore.RunStatusFailed, datastore.RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Snapshot reads a progress snapshot off a run row.
func Snapshot(run *datastore.MigrationRun) *Progress {
	return &Progress{
		RunID:            run.ID,
		Status:           run.Status,
		Percentage:       run.ProgressPercentage,
		TotalEvents:      run.TotalEvents,
		ProcessedEvents:  run.ProcessedEvents,
		SuccessfulEvents: run.SuccessfulEvents,
		FailedEvents:     run.FailedEvents,
		SkippedEvents:    run.SkippedEvents,
		ErrorMessage:     run.ErrorMessage,
	}
}

// FileEntry is one cataloged file joined with its decision for the report.
type FileEntry struct {
	Filename    string                   `json:"filename"`
	ObjectKey   string                   `json:"objectKey"`
	TargetKey   string                   `json:"targetKey,omitempty"`
	FileType    datastore.FileType       `json:"fileType"`
	Category    string                   `json:"category"`
	Action      datastore.DecisionAction `json:"action,omitempty"`
	NewFilename string                   `json:"newFilename,omitempty"`
	Conflicts   []string                 `json:"conflicts,omitempty"`
}

// EventReport is the per-event slice of the final report.
type EventReport struct {
	EventCode    string                `json:"eventCode"`
	Title        string                `json:"title"`
	Status       datastore.EventStatus `json:"status"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	Files        []FileEntry           `json:"files"`
}

// Report is the static archival report: the full per-event file tree, the
// issue list, and the dedup summaries of one run.
type Report struct {
	Run            *datastore.MigrationRun  `json:"run"`
	Events         []EventReport            `json:"events"`
	Issues         []datastore.Issue        `json:"issues,omitempty"`
	DedupSummaries []datastore.DedupSummary `json:"dedupSummaries,omitempty"`
}

// Publisher reads progress, logs, and reports from the datastore.
type Publisher struct {
	ds datastore.Interface
}

// NewPublisher creates a publisher.
func NewPublisher(ds datastore.Interface) *Publisher {
	return &Publisher{ds: ds}
}

// Progress returns the current snapshot for a run.
func (p *Publisher) Progress(runID uint) (*Progress, error) {
	run, err := p.ds.GetRun(runID)
	if err != nil {
		return nil, err
	}
	return Snapshot(run), nil
}

// Logs returns the severity-filtered log entries of a run, newest first.
func (p *Publisher) Logs(runID uint, level datastore.Severity, limit int) ([]datastore.MigrationLog, error) {
	return p.ds.GetLogs(runID, level, limit)
}

// Build assembles the final report for a run.
func (p *Publisher) Build(runID uint) (*Report, error) {
	run, err := p.ds.GetRun(runID)
	if err != nil {
		return nil, err
	}
	events, err := p.ds.GetEventRecords(runID)
	if err != nil {
		return nil, err
	}
	catalog, err := p.ds.GetCatalogedFiles(runID)
	if err != nil {
		return nil, err
	}
	decisions, err := p.ds.GetDecisions(runID)
	if err != nil {
		return nil, err
	}
	data, err := datastore.DecodeAnalysisData(run.AnalysisData)
	if err != nil {
		return nil, err
	}

	decisionByCatalog := make(map[uint]*datastore.FileDecision, len(decisions))
	for i := range decisions {
		decisionByCatalog[decisions[i].CatalogID] = &decisions[i]
	}

	filesByEvent := make(map[string][]FileEntry)
	for i := range catalog {
		file := &catalog[i]
		entry := FileEntry{
			Filename:  file.Filename,
			ObjectKey: file.ObjectKey,
			TargetKey: file.TargetKey(),
			FileType:  file.FileType,
			Category:  file.Category,
			Conflicts: file.ConflictList(),
		}
		if d := decisionByCatalog[file.ID]; d != nil {
			entry.Action = d.Action
			entry.NewFilename = d.NewFilename
		}
		filesByEvent[file.EventCode] = append(filesByEvent[file.EventCode], entry)
	}

	rep := &Report{
		Run:            run,
		Issues:         data.Issues,
		DedupSummaries: data.DedupSummaries,
	}
	for i := range events {
		event := &events[i]
		files := filesByEvent[event.EventCode]
		sort.Slice(files, func(a, b int) bool { return files[a].ObjectKey < files[b].ObjectKey })
		rep.Events = append(rep.Events, EventReport{
			EventCode:    event.EventCode,
			Title:        event.Title,
			Status:       event.Status,
			ErrorMessage: event.ErrorMessage,
			Files:        files,
		})
	}
	return rep, nil
}
