package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	projectdomain "github.com/lineagelab/eventline/internal/project/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := conn.Exec(`
		CREATE TABLE projects (
			project_id INTEGER PRIMARY KEY,
			slug TEXT NOT NULL,
			latest_event_date DATETIME NOT NULL
		)
	`).Error; err != nil {
		t.Fatalf("create projects table: %v", err)
	}
	if err := conn.Exec(`
		CREATE TABLE project_viewings (
			project_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			viewed_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		t.Fatalf("create project_viewings table: %v", err)
	}

	return conn
}

func TestUpsertInsertsNewProject(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := repo.Upsert(ctx, conn, &projectdomain.Project{ProjectID: 7, Slug: "group/proj", LatestEventDate: base})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	found, err := repo.FindByID(ctx, conn, 7)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.Slug != "group/proj" {
		t.Fatalf("unexpected project %+v", found)
	}
}

func TestUpsertLatestEventDateIsMonotonic(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Upsert(ctx, conn, &projectdomain.Project{ProjectID: 7, Slug: "group/proj", LatestEventDate: base}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// An older date must not win.
	if err := repo.Upsert(ctx, conn, &projectdomain.Project{ProjectID: 7, Slug: "group/proj", LatestEventDate: base.Add(-time.Hour)}); err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	found, err := repo.FindByID(ctx, conn, 7)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !found.LatestEventDate.Equal(base) {
		t.Fatalf("stale date overwrote newer one: %v", found.LatestEventDate)
	}

	// A newer date moves it forward.
	if err := repo.Upsert(ctx, conn, &projectdomain.Project{ProjectID: 7, Slug: "group/proj", LatestEventDate: base.Add(time.Hour)}); err != nil {
		t.Fatalf("fresh upsert: %v", err)
	}
	found, err = repo.FindByID(ctx, conn, 7)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !found.LatestEventDate.Equal(base.Add(time.Hour)) {
		t.Fatalf("newer date did not win: %v", found.LatestEventDate)
	}
}

func TestUpsertWithStaleDateStillRefreshesSlug(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Upsert(ctx, conn, &projectdomain.Project{ProjectID: 7, Slug: "group/old-name", LatestEventDate: base}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.Upsert(ctx, conn, &projectdomain.Project{ProjectID: 7, Slug: "group/renamed", LatestEventDate: base.Add(-time.Hour)}); err != nil {
		t.Fatalf("rename upsert: %v", err)
	}

	found, err := repo.FindByID(ctx, conn, 7)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Slug != "group/renamed" {
		t.Fatalf("expected renamed slug, got %q", found.Slug)
	}
	if !found.LatestEventDate.Equal(base) {
		t.Fatalf("date must stay at %v, got %v", base, found.LatestEventDate)
	}
}

func TestDeleteProject(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()

	if err := repo.Upsert(ctx, conn, &projectdomain.Project{ProjectID: 7, Slug: "group/proj", LatestEventDate: projectdomain.EpochSentinel}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.Delete(ctx, conn, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	found, err := repo.FindByID(ctx, conn, 7)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found != nil {
		t.Fatalf("expected project gone, got %+v", found)
	}
}

func TestDeduplicateKeepsNewestViewingPerUser(t *testing.T) {
	conn := newTestDB(t)
	viewings := ProvideViewings()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []struct {
		projectID int64
		userID    string
		viewedAt  time.Time
	}{
		{7, "alice", base},
		{7, "alice", base.Add(time.Hour)},
		{7, "alice", base.Add(2 * time.Hour)},
		{7, "bob", base},
		{8, "alice", base},
	}
	for _, v := range seed {
		if err := viewings.Record(ctx, conn, v.projectID, v.userID, v.viewedAt); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	removed, err := viewings.Deduplicate(ctx, conn)
	if err != nil {
		t.Fatalf("deduplicate: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 rows removed, got %d", removed)
	}

	rows, err := viewings.List(ctx, conn, 7, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 viewings for project 7, got %v", rows)
	}
	for _, row := range rows {
		if row.UserID == "alice" && !row.ViewedAt.Equal(base.Add(2*time.Hour)) {
			t.Fatalf("expected alice's newest viewing to survive, got %v", row.ViewedAt)
		}
	}

	// Idempotent: nothing left to remove.
	removed, err = viewings.Deduplicate(ctx, conn)
	if err != nil {
		t.Fatalf("second deduplicate: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 rows removed on repeat, got %d", removed)
	}
}

func TestListViewingsHonorsCursorAndLimit(t *testing.T) {
	conn := newTestDB(t)
	viewings := ProvideViewings()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		user := fmt.Sprintf("user-%d", i)
		if err := viewings.Record(ctx, conn, 7, user, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rows, err := viewings.List(ctx, conn, 7, time.Time{}, 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(rows) != 2 || rows[0].UserID != "user-3" || rows[1].UserID != "user-2" {
		t.Fatalf("expected newest two viewings, got %v", rows)
	}

	rows, err = viewings.List(ctx, conn, 7, rows[1].ViewedAt, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rows) != 2 || rows[0].UserID != "user-1" || rows[1].UserID != "user-0" {
		t.Fatalf("expected older two viewings, got %v", rows)
	}
}

func TestNormalizeSlugPerSegment(t *testing.T) {
	got := projectdomain.NormalizeSlug("My Group/Ä Projekt")
	if got != "my-group/a-projekt" {
		t.Fatalf("unexpected slug %q", got)
	}
}
