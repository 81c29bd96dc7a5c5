package eventsync

import (
	"context"
	"time"

	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	obsmetrics "github.com/lineagelab/eventline/internal/observability/metrics"
)

type workProject struct {
	ProjectID int64
	Slug      string
}

type workEvent struct {
	EventID   string
	ProjectID int64
}

// fetchProjectsDueForSync lists projects whose rate-limit window for the
// category has passed. The read takes no row locks; competing workers
// dedupe through the per-project redis lock and SyncIfDue's window
// re-check.
func (w *Worker) fetchProjectsDueForSync(ctx context.Context, category string, cutoff time.Time, limit int) ([]workProject, error) {
	var projects []workProject
	err := w.db.WithContext(ctx).Raw(
		`SELECT project_id, slug
		 FROM projects
		 WHERE project_id IN (
			 SELECT p.project_id
			 FROM projects p
			 LEFT JOIN category_sync_times cst
			   ON cst.project_id = p.project_id AND cst.category_name = ?
			 WHERE cst.last_synced IS NULL OR cst.last_synced < ?
		 )
		 ORDER BY project_id
		 LIMIT ?`,
		category,
		cutoff,
		limit,
	).Scan(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

func (w *Worker) fetchEventsForCleanup(ctx context.Context, limit int) ([]workEvent, error) {
	var events []workEvent
	lockStart := time.Now()
	err := w.db.WithContext(ctx).Raw(
		`SELECT event_id, project_id
		 FROM events
		 WHERE status = ?
		 ORDER BY event_date ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		eventdomain.StatusAwaitingDeletion,
		limit,
	).Scan(&events).Error
	obsmetrics.EventLog().ObserveDBLockWait(obsmetrics.LockResourceEventsForCleanup, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (w *Worker) fetchProjectsWithStuckDeleting(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var projectIDs []int64
	err := w.db.WithContext(ctx).Raw(
		`SELECT DISTINCT project_id
		 FROM events
		 WHERE status = ? AND execution_date <= ?`,
		eventdomain.StatusDeleting,
		cutoff,
	).Scan(&projectIDs).Error
	if err != nil {
		return nil, err
	}
	return projectIDs, nil
}
