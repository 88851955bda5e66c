// Package dedup resolves parallel audio collections for one event into a
// canonical collection plus a legacy remainder. Legacy exports often carry
// two overlapping folders per event, e.g. an older mono export next to a
// newer bilingual one; the resolver picks one as authoritative and decides
// what survives from the other.
package dedup

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
)

// Disposition is the resolver's verdict for one track.
type Disposition int

const (
	// DispositionCanonical keeps the track at its computed target key.
	DispositionCanonical Disposition = iota
	// DispositionLegacy retains the track remapped under a legacy/ subpath.
	DispositionLegacy
	// DispositionDuplicate drops the track as a duplicate of a canonical one.
	DispositionDuplicate
)

// Track is one audio object as seen by the resolver.
type Track struct {
	Collection string // folder marker the track was found under
	Number     int    // parsed track number, 0 when unparsable
	Title      string // normalized title
}

// Result is the resolution for one event. Dispositions is aligned with the
// input track slice.
type Result struct {
	Canonical    string
	Dispositions []Disposition
	Summary      datastore.DedupSummary
}

var (
	leadingNumber = regexp.MustCompile(`^(\d+)`)
	languageTag   = regexp.MustCompile(`\[[a-zA-Z-]{2,8}\]`)
	separators    = regexp.MustCompile(`[\s._-]+`)
)

// NormalizeTitle strips the extension, leading track number, and language
// tags from a filename and returns the parsed number plus the normalized
// remainder. A filename with no leading digits yields number 0.
func NormalizeTitle(filename string) (int, string) {
	name := strings.TrimSuffix(filename, path.Ext(filename))
	name = languageTag.ReplaceAllString(name, " ")

	number := 0
	if m := leadingNumber.FindString(name); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			number = n
		}
		name = name[len(m):]
	}

	name = separators.ReplaceAllString(name, " ")
	return number, strings.ToLower(strings.TrimSpace(name))
}

// matchesConvention reports whether a collection follows the canonical
// naming convention: every track numeric-prefixed with a speaker/title tag
// after the number.
func matchesConvention(tracks []Track) bool {
	if len(tracks) == 0 {
		return false
	}
	for _, t := range tracks {
		if t.Number == 0 || t.Title == "" {
			return false
		}
	}
	return true
}

// Resolve picks the canonical collection and assigns every track a
// disposition. With fewer than two collections everything is canonical and
// no summary is produced.
//
// Selection: the strictly larger collection wins. On equal counts the
// collection matching the canonical naming convention wins; when neither
// or both match, the lexicographically smaller collection key wins, which
// keeps the tie-break deterministic across runs.
func Resolve(eventCode string, tracks []Track, strategy conf.LegacyTrackStrategy) *Result {
	byCollection := make(map[string][]Track)
	for _, t := range tracks {
		byCollection[t.Collection] = append(byCollection[t.Collection], t)
	}

	result := &Result{Dispositions: make([]Disposition, len(tracks))}

	if len(byCollection) < 2 {
		for name := range byCollection {
			result.Canonical = name
		}
		return result
	}

	canonical := pickCanonical(byCollection)
	result.Canonical = canonical

	// Index of canonical track numbers and titles for duplicate matching.
	canonicalNumbers := make(map[int]bool)
	canonicalTitles := make(map[string]bool)
	for _, t := range byCollection[canonical] {
		if t.Number > 0 {
			canonicalNumbers[t.Number] = true
		}
		if t.Title != "" {
			canonicalTitles[t.Title] = true
		}
	}

	summary := datastore.DedupSummary{
		EventCode:           eventCode,
		CanonicalCollection: canonical,
		CanonicalTracks:     len(byCollection[canonical]),
	}

	for i, t := range tracks {
		if t.Collection == canonical {
			result.Dispositions[i] = DispositionCanonical
			continue
		}
		if summary.LegacyCollection == "" {
			summary.LegacyCollection = t.Collection
		}
		if strategy == conf.LegacyIgnoreAll {
			result.Dispositions[i] = DispositionDuplicate
			summary.DuplicatesIgnored++
			continue
		}
		if matched(t, canonicalNumbers, canonicalTitles) {
			result.Dispositions[i] = DispositionDuplicate
			summary.DuplicatesIgnored++
		} else {
			result.Dispositions[i] = DispositionLegacy
			summary.LegacyRetained++
		}
	}

	result.Summary = summary
	return result
}

// matched reports whether a non-canonical track duplicates a canonical one,
// by track number when parsable, falling back to the normalized title.
func matched(t Track, numbers map[int]bool, titles map[string]bool) bool {
	if t.Number > 0 {
		return numbers[t.Number]
	}
	return t.Title != "" && titles[t.Title]
}

// pickCanonical applies the selection rules across all collections.
func pickCanonical(byCollection map[string][]Track) string {
	maxCount := 0
	for _, tracks := range byCollection {
		if len(tracks) > maxCount {
			maxCount = len(tracks)
		}
	}

	var candidates []string
	for name, tracks := range byCollection {
		if len(tracks) == maxCount {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	var conventional []string
	for _, name := range candidates {
		if matchesConvention(byCollection[name]) {
			conventional = append(conventional, name)
		}
	}
	if len(conventional) == 1 {
		return conventional[0]
	}
	if len(conventional) > 1 {
		candidates = conventional
	}

	sort.Strings(candidates)
	return candidates[0]
}

// SummaryIssue renders the resolver's outcome as an info issue for the
// analysis report.
func SummaryIssue(summary datastore.DedupSummary) datastore.Issue {
	return datastore.Issue{
		Severity:  datastore.SeverityInfo,
		Category:  "dedup",
		EventCode: summary.EventCode,
		Message: fmt.Sprintf(
			"event %q: collection %q is canonical with %d tracks; %d legacy tracks retained, %d duplicates ignored",
			summary.EventCode, summary.CanonicalCollection, summary.CanonicalTracks,
			summary.LegacyRetained, summary.DuplicatesIgnored),
		Details: map[string]any{
			"canonicalCollection": summary.CanonicalCollection,
			"canonicalTracks":     summary.CanonicalTracks,
			"legacyCollection":    summary.LegacyCollection,
			"legacyRetained":      summary.LegacyRetained,
			"duplicatesIgnored":   summary.DuplicatesIgnored,
		},
	}
}
