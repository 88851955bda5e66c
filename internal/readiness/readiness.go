// Package readiness aggregates issues and decision completeness into the
// go/no-go signal gating run approval.
package readiness

import (
	"fmt"
	"strings"

	"github.com/opendharma/archive-migrate/internal/datastore"
)

// Result is the readiness verdict for a run.
type Result struct {
	Ready bool `json:"ready"`

	// UndecidedFiles lists non-review catalog entries without a decision.
	// Any entry here blocks approval.
	UndecidedFiles []string `json:"undecidedFiles,omitempty"`

	// ReviewPending lists review-flagged entries without a decision. They
	// do not block approval but are surfaced prominently.
	ReviewPending []string `json:"reviewPending,omitempty"`

	// Errors are the unresolved error-severity issues, each of which blocks
	// approval.
	Errors []datastore.Issue `json:"errors,omitempty"`

	// Issues is the full issue list for operator display.
	Issues []datastore.Issue `json:"issues,omitempty"`
}

// Reason renders the blocking conditions as one operator-actionable string.
func (r *Result) Reason() string {
	if r.Ready {
		return ""
	}
	var parts []string
	if len(r.UndecidedFiles) > 0 {
		parts = append(parts, fmt.Sprintf("%d undecided files: %s",
			len(r.UndecidedFiles), strings.Join(r.UndecidedFiles, ", ")))
	}
	if len(r.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("%d unresolved errors", len(r.Errors)))
	}
	return strings.Join(parts, "; ")
}

// Evaluate is a pure function over the catalog, the decisions, and the
// analysis summary. Approval is permitted once every non-review catalog
// entry has a decision and no error-severity issue remains.
func Evaluate(catalog []datastore.CatalogedFile, decisions []datastore.FileDecision, data *datastore.AnalysisData) *Result {
	decided := make(map[uint]bool, len(decisions))
	for i := range decisions {
		decided[decisions[i].CatalogID] = true
	}

	result := &Result{}
	for i := range catalog {
		file := &catalog[i]
		if decided[file.ID] {
			continue
		}
		if file.SuggestedAction == datastore.ActionReview {
			result.ReviewPending = append(result.ReviewPending, file.ObjectKey)
			continue
		}
		result.UndecidedFiles = append(result.UndecidedFiles, file.ObjectKey)
	}

	if data != nil {
		result.Issues = data.Issues
		result.Errors = data.ErrorIssues()
	}

	result.Ready = len(result.UndecidedFiles) == 0 && len(result.Errors) == 0
	return result
}
