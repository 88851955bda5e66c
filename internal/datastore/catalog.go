// catalog.go implements event record and cataloged file persistence.
package datastore

import (
	"fmt"
)

const insertBatchSize = 200

// SaveEventRecords inserts the parsed event records for a run.
func (ds *DataStore) SaveEventRecords(events []EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	if err := ds.DB.CreateInBatches(events, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to save event records: %w", err)
	}
	return nil
}

// GetEventRecords returns all event records for a run ordered by event code.
func (ds *DataStore) GetEventRecords(migrationID uint) ([]EventRecord, error) {
	var events []EventRecord
	err := ds.DB.Where("migration_id = ?", migrationID).
		Order("event_code ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get event records for run %d: %w", migrationID, err)
	}
	return events, nil
}

// SaveCatalogedFiles inserts analyzer output. The catalog is purely additive:
// rows are only ever created, never updated.
func (ds *DataStore) SaveCatalogedFiles(files []CatalogedFile) error {
	if len(files) == 0 {
		return nil
	}
	if err := ds.DB.CreateInBatches(files, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to save cataloged files: %w", err)
	}
	return nil
}

// GetCatalogedFiles returns all cataloged files for a run, grouped-friendly
// ordering by event code then object key.
func (ds *DataStore) GetCatalogedFiles(migrationID uint) ([]CatalogedFile, error) {
	var files []CatalogedFile
	err := ds.DB.Where("migration_id = ?", migrationID).
		Order("event_code ASC, object_key ASC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get cataloged files for run %d: %w", migrationID, err)
	}
	return files, nil
}

// CountCatalogedFiles returns the catalog size for a run.
func (ds *DataStore) CountCatalogedFiles(migrationID uint) (int64, error) {
	var count int64
	err := ds.DB.Model(&CatalogedFile{}).
		Where("migration_id = ?", migrationID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count cataloged files for run %d: %w", migrationID, err)
	}
	return count, nil
}
