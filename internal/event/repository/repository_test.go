package repository

import (
	"context"
	"testing"
	"time"

	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"github.com/lineagelab/eventline/pkg/db"
)

func TestInsertAndFindByKey(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := repo.Insert(ctx, conn, &eventdomain.Event{
		EventID:       "sha-1",
		ProjectID:     7,
		Status:        eventdomain.StatusNew,
		CreatedDate:   base,
		ExecutionDate: base,
		EventDate:     base,
		BatchDate:     base,
		Body:          []byte(`{"categoryName":"CREATION"}`),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	found, err := repo.FindByKey(ctx, conn, eventdomain.Key{EventID: "sha-1", ProjectID: 7})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil {
		t.Fatal("expected event")
	}
	if found.Status != eventdomain.StatusNew || found.ProjectID != 7 {
		t.Fatalf("unexpected row %+v", found)
	}

	missing, err := repo.FindByKey(ctx, conn, eventdomain.Key{EventID: "sha-1", ProjectID: 8})
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing key, got %+v", missing)
	}
}

func TestInsertDuplicateKeyIsDetectable(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	row := &eventdomain.Event{
		EventID: "sha-1", ProjectID: 7, Status: eventdomain.StatusNew,
		CreatedDate: base, ExecutionDate: base, EventDate: base, BatchDate: base,
		Body: []byte(`{}`),
	}
	if err := repo.Insert(ctx, conn, row); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := repo.Insert(ctx, conn, row)
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
	if !db.IsDuplicateKeyErr(err) {
		t.Fatalf("expected duplicate key classification, got %v", err)
	}
}

func TestListIDsAndLatestByEventDate(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	insertEvent(t, conn, "old", 7, eventdomain.StatusTriplesStore, base.Add(-time.Hour))
	insertEvent(t, conn, "new", 7, eventdomain.StatusNew, base)
	insertEvent(t, conn, "elsewhere", 8, eventdomain.StatusNew, base)

	ids, err := repo.ListIDs(ctx, conn, 7)
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}

	latest, err := repo.LatestByEventDate(ctx, conn, 7)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.EventID != "new" {
		t.Fatalf("expected latest event 'new', got %+v", latest)
	}

	none, err := repo.LatestByEventDate(ctx, conn, 99)
	if err != nil {
		t.Fatalf("latest empty project: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for empty project, got %+v", none)
	}
}

func TestCountByStatusGroupsPerProject(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	insertEvent(t, conn, "a", 7, eventdomain.StatusNew, base)
	insertEvent(t, conn, "b", 7, eventdomain.StatusNew, base)
	insertEvent(t, conn, "c", 7, eventdomain.StatusTriplesStore, base)
	insertEvent(t, conn, "d", 8, eventdomain.StatusNew, base)

	counts, err := repo.CountByStatus(ctx, conn, 7)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[eventdomain.StatusNew] != 2 || counts[eventdomain.StatusTriplesStore] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 statuses, got %v", counts)
	}

	if err := repo.Delete(ctx, conn, eventdomain.Key{EventID: "c", ProjectID: 7}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	counts, err = repo.CountByStatus(ctx, conn, 7)
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if len(counts) != 1 || counts[eventdomain.StatusNew] != 2 {
		t.Fatalf("unexpected counts after delete %v", counts)
	}
}

func TestCountAllByStatusSpansProjects(t *testing.T) {
	conn := newTestDB(t)
	repo := Provide()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	insertEvent(t, conn, "a", 7, eventdomain.StatusNew, base)
	insertEvent(t, conn, "b", 7, eventdomain.StatusNew, base)
	insertEvent(t, conn, "c", 8, eventdomain.StatusTriplesStore, base)

	rows, err := repo.CountAllByStatus(ctx, conn)
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 buckets, got %v", rows)
	}

	totals := make(map[eventdomain.StatusCount]bool, len(rows))
	for _, row := range rows {
		totals[row] = true
	}
	if !totals[eventdomain.StatusCount{ProjectID: 7, Status: eventdomain.StatusNew, Total: 2}] {
		t.Fatalf("missing project 7 bucket in %v", rows)
	}
	if !totals[eventdomain.StatusCount{ProjectID: 8, Status: eventdomain.StatusTriplesStore, Total: 1}] {
		t.Fatalf("missing project 8 bucket in %v", rows)
	}
}
