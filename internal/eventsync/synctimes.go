package eventsync

import (
	"context"
	"time"

	"github.com/lineagelab/eventline/pkg/db"
	"gorm.io/gorm"
)

// Sync categories tracked in category_sync_times.
const (
	CategoryCommitSync       = "COMMIT_SYNC"
	CategoryGlobalCommitSync = "GLOBAL_COMMIT_SYNC"
)

// CategorySyncTime records when a project was last synced for a category.
type CategorySyncTime struct {
	ProjectID    int64     `gorm:"column:project_id;primaryKey"`
	CategoryName string    `gorm:"column:category_name;primaryKey"`
	LastSynced   time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (CategorySyncTime) TableName() string { return "category_sync_times" }

func lastSynced(ctx context.Context, conn *gorm.DB, projectID int64, category string) (time.Time, bool, error) {
	var row CategorySyncTime
	err := conn.WithContext(ctx).Raw(
		`SELECT project_id, category_name, last_synced FROM category_sync_times
		 WHERE project_id = ? AND category_name = ?`,
		projectID, category,
	).Scan(&row).Error
	if err != nil {
		return time.Time{}, false, err
	}
	if row.ProjectID == 0 {
		return time.Time{}, false, nil
	}
	return row.LastSynced, true, nil
}

func setLastSynced(ctx context.Context, conn *gorm.DB, projectID int64, category string, t time.Time) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE category_sync_times SET last_synced = ? WHERE project_id = ? AND category_name = ?`,
		t, projectID, category,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO category_sync_times (project_id, category_name, last_synced) VALUES (?, ?, ?)`,
		projectID, category, t,
	).Error
	if err != nil && db.IsDuplicateKeyErr(err) {
		return conn.WithContext(ctx).Exec(
			`UPDATE category_sync_times SET last_synced = ? WHERE project_id = ? AND category_name = ?`,
			t, projectID, category,
		).Error
	}
	return err
}
