package repository

import (
	"context"

	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() eventdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, e *eventdomain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (event_id, project_id, status, created_date, execution_date, event_date, batch_date, body, message, payload, payload_schema_version, processing_time_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID,
		e.ProjectID,
		e.Status,
		e.CreatedDate,
		e.ExecutionDate,
		e.EventDate,
		e.BatchDate,
		e.Body,
		e.Message,
		e.Payload,
		e.PayloadSchemaVersion,
		e.ProcessingTimeMS,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, key eventdomain.Key) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM events WHERE event_id = ? AND project_id = ?`,
		key.EventID,
		key.ProjectID,
	).Error
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key eventdomain.Key) (*eventdomain.Event, error) {
	var event eventdomain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT event_id, project_id, status, created_date, execution_date, event_date, batch_date, body, message, payload, payload_schema_version, processing_time_ms
		 FROM events WHERE event_id = ? AND project_id = ?`,
		key.EventID,
		key.ProjectID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.EventID == "" {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) ListIDs(ctx context.Context, db *gorm.DB, projectID int64) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT event_id FROM events WHERE project_id = ?`,
		projectID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) LatestByEventDate(ctx context.Context, db *gorm.DB, projectID int64) (*eventdomain.Event, error) {
	var event eventdomain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT event_id, project_id, status, created_date, execution_date, event_date, batch_date, body, message, payload, payload_schema_version, processing_time_ms
		 FROM events WHERE project_id = ? ORDER BY event_date DESC LIMIT 1`,
		projectID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.EventID == "" {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, projectID int64) (map[eventdomain.Status]int, error) {
	var rows []struct {
		Status eventdomain.Status
		Total  int
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS total FROM events WHERE project_id = ? GROUP BY status`,
		projectID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[eventdomain.Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *repo) CountAllByStatus(ctx context.Context, db *gorm.DB) ([]eventdomain.StatusCount, error) {
	var rows []eventdomain.StatusCount
	err := db.WithContext(ctx).Raw(
		`SELECT project_id, status, COUNT(*) AS total FROM events GROUP BY project_id, status`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
