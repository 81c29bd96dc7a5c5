package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	Delete(ctx context.Context, db *gorm.DB, key Key) error
	FindByKey(ctx context.Context, db *gorm.DB, key Key) (*Event, error)
	ListIDs(ctx context.Context, db *gorm.DB, projectID int64) ([]string, error)
	LatestByEventDate(ctx context.Context, db *gorm.DB, projectID int64) (*Event, error)
	CountByStatus(ctx context.Context, db *gorm.DB, projectID int64) (map[Status]int, error)
	CountAllByStatus(ctx context.Context, db *gorm.DB) ([]StatusCount, error)
}

// StatusCount is one (project, status) bucket of the events table.
type StatusCount struct {
	ProjectID int64
	Status    Status
	Total     int
}

// StatusChanger executes status commands transactionally, retrying
// deadlocked transactions in place.
type StatusChanger interface {
	Execute(ctx context.Context, db *gorm.DB, cmd StatusCommand) (UpdateResult, error)
}
