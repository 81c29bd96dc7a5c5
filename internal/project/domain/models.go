package domain

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// Project mirrors the upstream host's project identity together with the
// newest event date the log has seen for it.
type Project struct {
	ProjectID       int64     `json:"project_id" gorm:"column:project_id;primaryKey"`
	Slug            string    `json:"slug" gorm:"type:text;not null"`
	LatestEventDate time.Time `json:"latest_event_date" gorm:"not null"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

// Viewing records that a user looked at a project.
type Viewing struct {
	ProjectID int64     `json:"project_id" gorm:"column:project_id;not null"`
	UserID    string    `json:"user_id" gorm:"column:user_id;not null"`
	ViewedAt  time.Time `json:"viewed_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Viewing) TableName() string { return "project_viewings" }

// EpochSentinel marks a project discovered with no events yet; any real
// event date moves it forward.
var EpochSentinel = time.Unix(0, 0).UTC()

// NormalizeSlug canonicalizes a namespace/path slug segment by segment.
func NormalizeSlug(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	for i := range parts {
		parts[i] = slug.Make(parts[i])
	}
	return strings.Join(parts, "/")
}
