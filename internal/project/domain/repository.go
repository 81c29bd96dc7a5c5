package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts the project or moves latest_event_date forward.
	// The date is monotonic: an older date never overwrites a newer one.
	Upsert(ctx context.Context, db *gorm.DB, project *Project) error
	FindByID(ctx context.Context, db *gorm.DB, projectID int64) (*Project, error)
	Delete(ctx context.Context, db *gorm.DB, projectID int64) error
}

type ViewingRepository interface {
	Record(ctx context.Context, db *gorm.DB, projectID int64, userID string, viewedAt time.Time) error
	// Deduplicate keeps only the newest viewing per (project, user).
	Deduplicate(ctx context.Context, db *gorm.DB) (int64, error)
	// List returns viewings newest first. A non-zero before bounds the
	// page to rows strictly older than it; limit <= 0 means no limit.
	List(ctx context.Context, db *gorm.DB, projectID int64, before time.Time, limit int) ([]Viewing, error)
}
