// Package analyzer builds the object catalog for a run: it walks the store
// prefix of every imported event, classifies each discovered object,
// resolves duplicate audio collections, and produces the per-file action
// suggestions plus the issue list an operator decides against.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/opendharma/archive-migrate/internal/conf"
	"github.com/opendharma/archive-migrate/internal/datastore"
	"github.com/opendharma/archive-migrate/internal/dedup"
	"github.com/opendharma/archive-migrate/internal/errors"
	"github.com/opendharma/archive-migrate/internal/logging"
	"github.com/opendharma/archive-migrate/internal/objectstore"
)

// Issue categories emitted during analysis.
const (
	IssueCategoryMismatch  = "track-count"
	IssueCategoryNoAudio   = "no-audio"
	IssueCategoryCollision = "target-collision"
)

// Analyzer catalogs and classifies the store objects of a run. It is
// read-only against the object store and only ever creates catalog rows.
type Analyzer struct {
	ds     datastore.Interface
	store  objectstore.Client
	policy *conf.PolicySettings

	targetPrefix string
	logger       *slog.Logger
}

// New creates an analyzer.
func New(ds datastore.Interface, store objectstore.Client, settings *conf.Settings) *Analyzer {
	return &Analyzer{
		ds:           ds,
		store:        store,
		policy:       &settings.Policy,
		targetPrefix: settings.ObjectStore.TargetPrefix,
		logger:       logging.ForService("analyzer"),
	}
}

// Analyze catalogs every event's objects and persists the resulting catalog
// rows. A store listing failure is phase-fatal and returned as an error;
// per-event findings are accumulated as issues in the returned summary.
func (a *Analyzer) Analyze(ctx context.Context, runID uint, events []datastore.EventRecord) (*datastore.AnalysisData, error) {
	data := &datastore.AnalysisData{
		FilesByType:     make(map[string]int),
		EventFileCounts: make(map[string]int),
	}
	var catalog []datastore.CatalogedFile

	for i := range events {
		event := &events[i]
		files, err := a.catalogEvent(ctx, runID, event, data)
		if err != nil {
			return nil, err
		}
		catalog = append(catalog, files...)
	}

	flagCollisions(catalog, data)

	if err := a.ds.SaveCatalogedFiles(catalog); err != nil {
		return nil, err
	}

	data.TotalFiles = len(catalog)
	a.logger.Info("analysis complete",
		"run_id", runID,
		"events", len(events),
		"files", len(catalog),
		"issues", len(data.Issues))
	return data, nil
}

// catalogEvent lists, classifies, and dedup-resolves one event's objects.
func (a *Analyzer) catalogEvent(ctx context.Context, runID uint, event *datastore.EventRecord, data *datastore.AnalysisData) ([]datastore.CatalogedFile, error) {
	objects, err := a.store.List(ctx, event.EventCode)
	if err != nil {
		return nil, errors.Newf("listing objects for event %q failed: %w", event.EventCode, err).
			Component("analyzer").
			Category(errors.CategoryObjectStore).
			Context("event_code", event.EventCode).
			Build()
	}

	files := make([]datastore.CatalogedFile, 0, len(objects))
	classifications := make([]Classification, 0, len(objects))

	for _, obj := range objects {
		c := Classify(event.EventCode, obj.Key)
		file := datastore.CatalogedFile{
			MigrationID:       runID,
			EventCode:         event.EventCode,
			SourceDir:         c.SourceDir,
			Filename:          c.Filename,
			ObjectKey:         obj.Key,
			FileType:          c.FileType,
			Category:          c.Category,
			Extension:         c.Extension,
			Size:              obj.Size,
			MimeType:          c.MimeType,
			SuggestedAction:   datastore.ActionInclude,
			SuggestedCategory: c.Category,
		}
		setMetadata(&file, map[string]string{
			"target_key": a.targetKey(event.EventCode, c.Filename, false),
			"language":   c.Language,
		})
		files = append(files, file)
		classifications = append(classifications, c)
		data.FilesByType[string(c.FileType)]++
	}
	data.EventFileCounts[event.EventCode] = len(files)

	parsedAudio := a.resolveCollections(event.EventCode, files, classifications, data)
	a.checkCounts(event, parsedAudio, data)
	return files, nil
}

// resolveCollections runs the dedup resolver over the event's audio files
// and applies its dispositions: legacy tracks are remapped under legacy/,
// duplicates are suggested ignore. Returns the retained audio count.
func (a *Analyzer) resolveCollections(eventCode string, files []datastore.CatalogedFile, classifications []Classification, data *datastore.AnalysisData) int {
	var audioIdx []int
	var tracks []dedup.Track
	for i := range files {
		if files[i].FileType != datastore.FileTypeAudio {
			continue
		}
		audioIdx = append(audioIdx, i)
		tracks = append(tracks, dedup.Track{
			Collection: classifications[i].Collection,
			Number:     classifications[i].TrackNumber,
			Title:      classifications[i].Title,
		})
	}
	if len(tracks) == 0 {
		return 0
	}

	result := dedup.Resolve(eventCode, tracks, a.policy.LegacyTracks)

	retained := 0
	for pos, i := range audioIdx {
		switch result.Dispositions[pos] {
		case dedup.DispositionCanonical:
			retained++
		case dedup.DispositionLegacy:
			retained++
			files[i].SuggestedCategory = CategoryLegacy
			mergeMetadata(&files[i], map[string]string{
				"target_key": a.targetKey(eventCode, files[i].Filename, true),
				"legacy":     "true",
			})
		case dedup.DispositionDuplicate:
			files[i].SuggestedAction = datastore.ActionIgnore
		}
	}

	if result.Summary.EventCode != "" {
		data.DedupSummaries = append(data.DedupSummaries, result.Summary)
		data.Issues = append(data.Issues, dedup.SummaryIssue(result.Summary))
	}
	return retained
}

// checkCounts cross-checks the retained audio count against the expected
// count from the import and applies the no-audio policy.
func (a *Analyzer) checkCounts(event *datastore.EventRecord, parsedAudio int, data *datastore.AnalysisData) {
	if parsedAudio == 0 {
		severity := datastore.SeverityError
		if a.policy.NoAudio == conf.NoAudioAllowPlaceholder {
			severity = datastore.SeverityInfo
		}
		data.Issues = append(data.Issues, datastore.Issue{
			Severity:  severity,
			Category:  IssueCategoryNoAudio,
			EventCode: event.EventCode,
			Message:   fmt.Sprintf("event %q has no audio objects", event.EventCode),
		})
		return
	}

	if event.ExpectedTracks > 0 && parsedAudio != event.ExpectedTracks {
		severity := datastore.SeverityWarning
		if a.policy.Mismatch == conf.MismatchFail {
			severity = datastore.SeverityError
		}
		data.Issues = append(data.Issues, datastore.Issue{
			Severity:  severity,
			Category:  IssueCategoryMismatch,
			EventCode: event.EventCode,
			Message: fmt.Sprintf("event %q: expected %d tracks, parsed %d",
				event.EventCode, event.ExpectedTracks, parsedAudio),
			Details: map[string]any{
				"expected": event.ExpectedTracks,
				"parsed":   parsedAudio,
			},
		})
	}
}

// flagCollisions marks every file whose resolved target key collides with
// another file's target key. Both sides are flagged review and receive a
// conflicts entry describing the collision.
func flagCollisions(catalog []datastore.CatalogedFile, data *datastore.AnalysisData) {
	byTarget := make(map[string][]int)
	for i := range catalog {
		if catalog[i].SuggestedAction == datastore.ActionIgnore {
			continue
		}
		key := catalog[i].TargetKey()
		if key == "" {
			continue
		}
		byTarget[key] = append(byTarget[key], i)
	}

	targets := make([]string, 0, len(byTarget))
	for key, idxs := range byTarget {
		if len(idxs) > 1 {
			targets = append(targets, key)
		}
	}
	sort.Strings(targets)

	for _, key := range targets {
		idxs := byTarget[key]
		for _, i := range idxs {
			catalog[i].SuggestedAction = datastore.ActionReview
			var conflicts []string
			for _, j := range idxs {
				if j == i {
					continue
				}
				conflicts = append(conflicts,
					fmt.Sprintf("target key %q collides with %s", key, catalog[j].ObjectKey))
			}
			b, _ := json.Marshal(conflicts)
			catalog[i].Conflicts = string(b)
		}
		data.Issues = append(data.Issues, datastore.Issue{
			Severity:  datastore.SeverityWarning,
			Category:  IssueCategoryCollision,
			EventCode: catalog[idxs[0]].EventCode,
			Message:   fmt.Sprintf("%d files resolve to target key %q", len(idxs), key),
			Details:   map[string]any{"targetKey": key, "files": len(idxs)},
		})
	}
}

// targetKey computes where a file lands in the store after migration,
// according to the configured placement strategy.
func (a *Analyzer) targetKey(eventCode, filename string, legacy bool) string {
	switch a.policy.StoragePlacement {
	case conf.PlacementFlat:
		return path.Join(a.targetPrefix, filename)
	default: // conf.PlacementEventFolder
		if legacy {
			return path.Join(a.targetPrefix, eventCode, "legacy", filename)
		}
		return path.Join(a.targetPrefix, eventCode, filename)
	}
}

func setMetadata(file *datastore.CatalogedFile, values map[string]string) {
	for k, v := range values {
		if v == "" {
			delete(values, k)
		}
	}
	b, _ := json.Marshal(values)
	file.Metadata = string(b)
}

func mergeMetadata(file *datastore.CatalogedFile, values map[string]string) {
	merged := file.MetadataMap()
	if merged == nil {
		merged = make(map[string]string)
	}
	for k, v := range values {
		merged[k] = v
	}
	b, _ := json.Marshal(merged)
	file.Metadata = string(b)
}
