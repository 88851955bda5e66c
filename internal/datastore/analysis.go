// analysis.go defines the structured analysis summary persisted on a run.
package datastore

import "encoding/json"

// Issue is a structured finding produced during analysis or execution.
// Issues are derived, not first-class mutable entities: they live inside
// the run's AnalysisData blob and in migration logs.
type Issue struct {
	Severity  Severity       `json:"severity"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	EventCode string         `json:"eventCode,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// DedupSummary describes the deduplication outcome for one event.
type DedupSummary struct {
	EventCode           string `json:"eventCode"`
	CanonicalCollection string `json:"canonicalCollection"`
	CanonicalTracks     int    `json:"canonicalTracks"`
	LegacyCollection    string `json:"legacyCollection,omitempty"`
	LegacyRetained      int    `json:"legacyRetained"`
	DuplicatesIgnored   int    `json:"duplicatesIgnored"`
}

// AnalysisData is the opaque summary blob stored on MigrationRun.AnalysisData.
type AnalysisData struct {
	TotalFiles      int            `json:"totalFiles"`
	FilesByType     map[string]int `json:"filesByType,omitempty"`
	Issues          []Issue        `json:"issues,omitempty"`
	DedupSummaries  []DedupSummary `json:"dedupSummaries,omitempty"`
	EventFileCounts map[string]int `json:"eventFileCounts,omitempty"`
}

// Encode serializes the analysis data for storage on the run.
func (a *AnalysisData) Encode() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeAnalysisData parses a run's AnalysisData blob. An empty blob
// yields an empty summary rather than an error.
func DecodeAnalysisData(blob string) (*AnalysisData, error) {
	data := &AnalysisData{}
	if blob == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(blob), data); err != nil {
		return nil, err
	}
	return data, nil
}

// ErrorIssues returns only the error-severity issues.
func (a *AnalysisData) ErrorIssues() []Issue {
	var out []Issue
	for _, issue := range a.Issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}

// ConflictList decodes the JSON conflicts column of a cataloged file.
func (f *CatalogedFile) ConflictList() []string {
	if f.Conflicts == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(f.Conflicts), &out); err != nil {
		return nil
	}
	return out
}

// MetadataMap decodes the JSON metadata column of a cataloged file.
func (f *CatalogedFile) MetadataMap() map[string]string {
	if f.Metadata == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(f.Metadata), &out); err != nil {
		return nil
	}
	return out
}

// TargetKey returns the analyzer/dedup-computed target object key, if any.
func (f *CatalogedFile) TargetKey() string {
	return f.MetadataMap()["target_key"]
}
