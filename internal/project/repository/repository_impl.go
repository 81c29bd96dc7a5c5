package repository

import (
	"context"
	"time"

	projectdomain "github.com/lineagelab/eventline/internal/project/domain"
	"github.com/lineagelab/eventline/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() projectdomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, conn *gorm.DB, p *projectdomain.Project) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE projects SET slug = ?, latest_event_date = ?
		 WHERE project_id = ? AND latest_event_date < ?`,
		p.Slug, p.LatestEventDate, p.ProjectID, p.LatestEventDate,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM projects WHERE project_id = ?`,
		p.ProjectID,
	).Scan(&total).Error
	if err != nil {
		return err
	}
	if total > 0 {
		// Row exists with a newer or equal date; refresh the slug only.
		return conn.WithContext(ctx).Exec(
			`UPDATE projects SET slug = ? WHERE project_id = ? AND slug <> ?`,
			p.Slug, p.ProjectID, p.Slug,
		).Error
	}

	err = conn.WithContext(ctx).Exec(
		`INSERT INTO projects (project_id, slug, latest_event_date) VALUES (?, ?, ?)`,
		p.ProjectID, p.Slug, p.LatestEventDate,
	).Error
	if err != nil && db.IsDuplicateKeyErr(err) {
		// Lost the insert race; the winner's date may still be older.
		return conn.WithContext(ctx).Exec(
			`UPDATE projects SET slug = ?, latest_event_date = ?
			 WHERE project_id = ? AND latest_event_date < ?`,
			p.Slug, p.LatestEventDate, p.ProjectID, p.LatestEventDate,
		).Error
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, projectID int64) (*projectdomain.Project, error) {
	var project projectdomain.Project
	err := conn.WithContext(ctx).Raw(
		`SELECT project_id, slug, latest_event_date FROM projects WHERE project_id = ?`,
		projectID,
	).Scan(&project).Error
	if err != nil {
		return nil, err
	}
	if project.ProjectID == 0 {
		return nil, nil
	}
	return &project, nil
}

func (r *repo) Delete(ctx context.Context, conn *gorm.DB, projectID int64) error {
	return conn.WithContext(ctx).Exec(
		`DELETE FROM projects WHERE project_id = ?`,
		projectID,
	).Error
}

type viewingRepo struct{}

func ProvideViewings() projectdomain.ViewingRepository {
	return &viewingRepo{}
}

func (r *viewingRepo) Record(ctx context.Context, conn *gorm.DB, projectID int64, userID string, viewedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO project_viewings (project_id, user_id, viewed_at) VALUES (?, ?, ?)`,
		projectID, userID, viewedAt,
	).Error
}

func (r *viewingRepo) Deduplicate(ctx context.Context, conn *gorm.DB) (int64, error) {
	res := conn.WithContext(ctx).Exec(
		`DELETE FROM project_viewings
		 WHERE EXISTS (
			 SELECT 1 FROM project_viewings newer
			 WHERE newer.project_id = project_viewings.project_id
			   AND newer.user_id = project_viewings.user_id
			   AND newer.viewed_at > project_viewings.viewed_at
		 )`,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *viewingRepo) List(ctx context.Context, conn *gorm.DB, projectID int64, before time.Time, limit int) ([]projectdomain.Viewing, error) {
	query := `SELECT project_id, user_id, viewed_at FROM project_viewings WHERE project_id = ?`
	args := []any{projectID}
	if !before.IsZero() {
		query += ` AND viewed_at < ?`
		args = append(args, before)
	}
	query += ` ORDER BY viewed_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var viewings []projectdomain.Viewing
	err := conn.WithContext(ctx).Raw(query, args...).Scan(&viewings).Error
	if err != nil {
		return nil, err
	}
	return viewings, nil
}
