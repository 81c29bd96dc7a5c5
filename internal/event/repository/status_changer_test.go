package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lineagelab/eventline/internal/clock"
	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// SQLite support: strip the row-locking clauses postgres uses.
	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	conn.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate)
	conn.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate)

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := conn.Exec(`
		CREATE TABLE events (
			event_id TEXT NOT NULL,
			project_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_date DATETIME NOT NULL,
			execution_date DATETIME NOT NULL,
			event_date DATETIME NOT NULL,
			batch_date DATETIME NOT NULL,
			body TEXT NOT NULL,
			message TEXT,
			payload BLOB,
			payload_schema_version TEXT,
			processing_time_ms INTEGER,
			PRIMARY KEY (event_id, project_id)
		)
	`).Error; err != nil {
		t.Fatalf("create events table: %v", err)
	}

	return conn
}

func insertEvent(t *testing.T, conn *gorm.DB, eventID string, projectID int64, status eventdomain.Status, eventDate time.Time) {
	t.Helper()
	err := conn.Exec(
		`INSERT INTO events (event_id, project_id, status, created_date, execution_date, event_date, batch_date, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, projectID, status, eventDate, eventDate, eventDate, eventDate, `{}`,
	).Error
	if err != nil {
		t.Fatalf("insert event %s: %v", eventID, err)
	}
}

func eventStatus(t *testing.T, conn *gorm.DB, eventID string, projectID int64) eventdomain.Status {
	t.Helper()
	var status eventdomain.Status
	err := conn.Raw(
		`SELECT status FROM events WHERE event_id = ? AND project_id = ?`,
		eventID, projectID,
	).Scan(&status).Error
	if err != nil {
		t.Fatalf("read status of %s: %v", eventID, err)
	}
	return status
}

func deltaFor(result eventdomain.UpdateResult, status eventdomain.Status) int {
	for _, d := range result.Deltas {
		if d.Status == status {
			return d.Delta
		}
	}
	return 0
}

func TestClaimForGenerationMovesNewToGenerating(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(base)
	changer := NewStatusChanger(clk)

	insertEvent(t, conn, "c1", 7, eventdomain.StatusNew, base)

	result, err := changer.Execute(context.Background(), conn, eventdomain.ToGeneratingTriples{
		Key: eventdomain.Key{EventID: "c1", ProjectID: 7},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Updated {
		t.Fatal("expected updated result")
	}
	if got := eventStatus(t, conn, "c1", 7); got != eventdomain.StatusGeneratingTriples {
		t.Fatalf("expected GENERATING_TRIPLES, got %s", got)
	}
	if deltaFor(result, eventdomain.StatusNew) != -1 || deltaFor(result, eventdomain.StatusGeneratingTriples) != 1 {
		t.Fatalf("unexpected deltas %v", result.Deltas)
	}
}

func TestClaimIsIdempotentOnRepeat(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))

	insertEvent(t, conn, "c1", 7, eventdomain.StatusNew, base)

	cmd := eventdomain.ToGeneratingTriples{Key: eventdomain.Key{EventID: "c1", ProjectID: 7}}
	if _, err := changer.Execute(context.Background(), conn, cmd); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	result, err := changer.Execute(context.Background(), conn, cmd)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if result.Updated || len(result.Deltas) != 0 {
		t.Fatalf("expected empty result on repeat, got %+v", result)
	}
}

func TestClaimOfMissingEventIsNoOp(t *testing.T) {
	conn := newTestDB(t)
	changer := NewStatusChanger(clock.NewFakeClock(time.Now()))

	result, err := changer.Execute(context.Background(), conn, eventdomain.ToGeneratingTriples{
		Key: eventdomain.Key{EventID: "missing", ProjectID: 1},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Updated {
		t.Fatal("expected no-op for missing event")
	}
}

func TestClaimRefusesWrongSourceStatus(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))

	insertEvent(t, conn, "c1", 7, eventdomain.StatusTriplesStore, base)

	result, err := changer.Execute(context.Background(), conn, eventdomain.ToGeneratingTriples{
		Key: eventdomain.Key{EventID: "c1", ProjectID: 7},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Updated {
		t.Fatal("expected no-op from terminal status")
	}
	if got := eventStatus(t, conn, "c1", 7); got != eventdomain.StatusTriplesStore {
		t.Fatalf("status changed unexpectedly to %s", got)
	}
}

func TestToTriplesGeneratedStoresCompressedPayload(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))

	insertEvent(t, conn, "c1", 7, eventdomain.StatusGeneratingTriples, base)

	payload := []byte(`[{"subject":"a","predicate":"b","object":"c"}]`)
	result, err := changer.Execute(context.Background(), conn, eventdomain.ToTriplesGenerated{
		Key:            eventdomain.Key{EventID: "c1", ProjectID: 7},
		Payload:        payload,
		SchemaVersion:  "9",
		ProcessingTime: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Updated {
		t.Fatal("expected updated result")
	}

	var row eventdomain.Event
	err = conn.Raw(
		`SELECT event_id, project_id, status, payload, payload_schema_version, processing_time_ms
		 FROM events WHERE event_id = ? AND project_id = ?`, "c1", 7,
	).Scan(&row).Error
	if err != nil {
		t.Fatalf("read row: %v", err)
	}
	if row.Status != eventdomain.StatusTriplesGenerated {
		t.Fatalf("expected TRIPLES_GENERATED, got %s", row.Status)
	}
	stored, err := eventdomain.DecompressPayload(row.Payload)
	if err != nil {
		t.Fatalf("decompress payload: %v", err)
	}
	if string(stored) != string(payload) {
		t.Fatalf("payload round trip mismatch: %q", stored)
	}
	if row.PayloadSchemaVersion == nil || *row.PayloadSchemaVersion != "9" {
		t.Fatalf("unexpected schema version %v", row.PayloadSchemaVersion)
	}
	if row.ProcessingTimeMS == nil || *row.ProcessingTimeMS != 1500 {
		t.Fatalf("unexpected processing time %v", row.ProcessingTimeMS)
	}
}

func TestRecoverableFailureSchedulesRetry(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))

	insertEvent(t, conn, "c1", 7, eventdomain.StatusGeneratingTriples, base)

	result, err := changer.Execute(context.Background(), conn, eventdomain.ToFailure{
		Key:        eventdomain.Key{EventID: "c1", ProjectID: 7},
		Target:     eventdomain.StatusGenerationRecoverableFailure,
		Message:    "renku export crashed",
		RetryDelay: 3 * time.Minute,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Updated {
		t.Fatal("expected updated result")
	}

	var row struct {
		Status        eventdomain.Status
		ExecutionDate time.Time
		Message       *string
	}
	err = conn.Raw(
		`SELECT status, execution_date, message FROM events WHERE event_id = ? AND project_id = ?`, "c1", 7,
	).Scan(&row).Error
	if err != nil {
		t.Fatalf("read row: %v", err)
	}
	if row.Status != eventdomain.StatusGenerationRecoverableFailure {
		t.Fatalf("expected recoverable failure, got %s", row.Status)
	}
	if want := base.Add(3 * time.Minute); !row.ExecutionDate.Equal(want) {
		t.Fatalf("expected execution date %v, got %v", want, row.ExecutionDate)
	}
	if row.Message == nil || *row.Message != "renku export crashed" {
		t.Fatalf("unexpected message %v", row.Message)
	}
}

func TestTransformationFailureCascadesToEarlierAncestors(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))

	insertEvent(t, conn, "older", 7, eventdomain.StatusTriplesGenerated, base.Add(-2*time.Hour))
	insertEvent(t, conn, "failed", 7, eventdomain.StatusTransformingTriples, base.Add(-time.Hour))
	insertEvent(t, conn, "newer", 7, eventdomain.StatusTriplesGenerated, base)
	insertEvent(t, conn, "other-project", 8, eventdomain.StatusTriplesGenerated, base.Add(-2*time.Hour))

	result, err := changer.Execute(context.Background(), conn, eventdomain.ToFailure{
		Key:    eventdomain.Key{EventID: "failed", ProjectID: 7},
		Target: eventdomain.StatusTransformationNonRecoverableFailure,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Updated {
		t.Fatal("expected updated result")
	}

	if got := eventStatus(t, conn, "failed", 7); got != eventdomain.StatusTransformationNonRecoverableFailure {
		t.Fatalf("failed event: expected non-recoverable failure, got %s", got)
	}
	if got := eventStatus(t, conn, "older", 7); got != eventdomain.StatusNew {
		t.Fatalf("older ancestor: expected NEW, got %s", got)
	}
	if got := eventStatus(t, conn, "newer", 7); got != eventdomain.StatusTriplesGenerated {
		t.Fatalf("newer sibling must be untouched, got %s", got)
	}
	if got := eventStatus(t, conn, "other-project", 8); got != eventdomain.StatusTriplesGenerated {
		t.Fatalf("other project must be untouched, got %s", got)
	}
	if deltaFor(result, eventdomain.StatusNew) != 1 {
		t.Fatalf("expected NEW delta 1 from cascade, got %v", result.Deltas)
	}
}

func TestRecoverableTransformationFailureCascadesWithRetry(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))

	insertEvent(t, conn, "older", 7, eventdomain.StatusTriplesGenerated, base.Add(-2*time.Hour))
	insertEvent(t, conn, "failed", 7, eventdomain.StatusTransformingTriples, base.Add(-time.Hour))

	_, err := changer.Execute(context.Background(), conn, eventdomain.ToFailure{
		Key:        eventdomain.Key{EventID: "failed", ProjectID: 7},
		Target:     eventdomain.StatusTransformationRecoverableFailure,
		RetryDelay: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var row struct {
		Status        eventdomain.Status
		ExecutionDate time.Time
	}
	err = conn.Raw(
		`SELECT status, execution_date FROM events WHERE event_id = ? AND project_id = ?`, "older", 7,
	).Scan(&row).Error
	if err != nil {
		t.Fatalf("read ancestor: %v", err)
	}
	if row.Status != eventdomain.StatusTransformationRecoverableFailure {
		t.Fatalf("expected ancestor in recoverable failure, got %s", row.Status)
	}
	if want := base.Add(5 * time.Minute); !row.ExecutionDate.Equal(want) {
		t.Fatalf("expected ancestor retry at %v, got %v", want, row.ExecutionDate)
	}
}

func TestToFailureRejectsNonFailureTarget(t *testing.T) {
	conn := newTestDB(t)
	changer := NewStatusChanger(clock.NewFakeClock(time.Now()))

	_, err := changer.Execute(context.Background(), conn, eventdomain.ToFailure{
		Key:    eventdomain.Key{EventID: "c1", ProjectID: 7},
		Target: eventdomain.StatusTriplesStore,
	})
	if err == nil {
		t.Fatal("expected error for invalid failure target")
	}
}

func TestRollbackToAwaitingDeletionMovesAllStuckRows(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))

	insertEvent(t, conn, "d1", 7, eventdomain.StatusDeleting, base)
	insertEvent(t, conn, "d2", 7, eventdomain.StatusDeleting, base)
	insertEvent(t, conn, "n1", 7, eventdomain.StatusNew, base)

	result, err := changer.Execute(context.Background(), conn, eventdomain.RollbackToAwaitingDeletion{ProjectID: 7})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Updated {
		t.Fatal("expected updated result")
	}
	if deltaFor(result, eventdomain.StatusDeleting) != -2 || deltaFor(result, eventdomain.StatusAwaitingDeletion) != 2 {
		t.Fatalf("unexpected deltas %v", result.Deltas)
	}
	if got := eventStatus(t, conn, "d1", 7); got != eventdomain.StatusAwaitingDeletion {
		t.Fatalf("expected AWAITING_DELETION, got %s", got)
	}
	if got := eventStatus(t, conn, "n1", 7); got != eventdomain.StatusNew {
		t.Fatalf("NEW event must be untouched, got %s", got)
	}
}

func TestProjectEventsToNewResetsAndClearsPayloads(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))

	insertEvent(t, conn, "done", 7, eventdomain.StatusTriplesStore, base)
	insertEvent(t, conn, "generated", 7, eventdomain.StatusTriplesGenerated, base)
	insertEvent(t, conn, "fresh", 7, eventdomain.StatusNew, base)
	if err := conn.Exec(
		`UPDATE events SET payload = ?, payload_schema_version = '9' WHERE event_id = 'generated'`,
		eventdomain.CompressPayload([]byte("triples")),
	).Error; err != nil {
		t.Fatalf("seed payload: %v", err)
	}

	result, err := changer.Execute(context.Background(), conn, eventdomain.ProjectEventsToNew{ProjectID: 7})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Updated {
		t.Fatal("expected updated result")
	}
	if deltaFor(result, eventdomain.StatusNew) != 2 {
		t.Fatalf("expected NEW delta 2, got %v", result.Deltas)
	}

	for _, id := range []string{"done", "generated", "fresh"} {
		if got := eventStatus(t, conn, id, 7); got != eventdomain.StatusNew {
			t.Fatalf("event %s: expected NEW, got %s", id, got)
		}
	}

	var row struct {
		Payload []byte
	}
	if err := conn.Raw(`SELECT payload FROM events WHERE event_id = 'generated'`).Scan(&row).Error; err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if len(row.Payload) != 0 {
		t.Fatal("expected payload cleared")
	}
}

func TestCleanupLifecycleTransitions(t *testing.T) {
	conn := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	changer := NewStatusChanger(clock.NewFakeClock(base))
	ctx := context.Background()

	insertEvent(t, conn, "c1", 7, eventdomain.StatusTriplesStore, base)
	key := eventdomain.Key{EventID: "c1", ProjectID: 7}

	if result, err := changer.Execute(ctx, conn, eventdomain.ToAwaitingDeletion{Key: key}); err != nil || !result.Updated {
		t.Fatalf("to awaiting deletion: updated=%v err=%v", result.Updated, err)
	}
	if result, err := changer.Execute(ctx, conn, eventdomain.ToDeleting{Key: key}); err != nil || !result.Updated {
		t.Fatalf("to deleting: updated=%v err=%v", result.Updated, err)
	}
	if got := eventStatus(t, conn, "c1", 7); got != eventdomain.StatusDeleting {
		t.Fatalf("expected DELETING, got %s", got)
	}
}
