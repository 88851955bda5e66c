// decisions.go implements FileDecision upserts and completeness queries.
package datastore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/opendharma/archive-migrate/internal/errors"
)

// UpsertDecision inserts a decision for a catalog entry or, if one already
// exists, merges only the supplied fields onto it. The unique index on
// catalog_id makes repeated identical upserts yield a single row.
func (ds *DataStore) UpsertDecision(decision *FileDecision, fields map[string]any) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var existing FileDecision
		err := tx.Where("catalog_id = ?", decision.CatalogID).First(&existing).Error
		switch {
		case err == nil:
			// Partial update: only the supplied fields, never clobbering the rest.
			if len(fields) == 0 {
				return nil
			}
			if err := tx.Model(&existing).Updates(fields).Error; err != nil {
				return fmt.Errorf("failed to update decision for catalog %d: %w", decision.CatalogID, err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(decision).Error; err != nil {
				return fmt.Errorf("failed to create decision for catalog %d: %w", decision.CatalogID, err)
			}
			return nil
		default:
			return fmt.Errorf("failed to look up decision for catalog %d: %w", decision.CatalogID, err)
		}
	})
}

// GetDecisions returns all decisions for a run.
func (ds *DataStore) GetDecisions(migrationID uint) ([]FileDecision, error) {
	var decisions []FileDecision
	err := ds.DB.Where("migration_id = ?", migrationID).
		Order("catalog_id ASC").
		Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get decisions for run %d: %w", migrationID, err)
	}
	return decisions, nil
}

// CountDecided returns decided/total completeness for a run.
func (ds *DataStore) CountDecided(migrationID uint) (decided, total int64, err error) {
	if err = ds.DB.Model(&FileDecision{}).
		Where("migration_id = ?", migrationID).
		Count(&decided).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count decisions for run %d: %w", migrationID, err)
	}
	if err = ds.DB.Model(&CatalogedFile{}).
		Where("migration_id = ?", migrationID).
		Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count catalog for run %d: %w", migrationID, err)
	}
	return decided, total, nil
}
