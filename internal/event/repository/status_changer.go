package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lineagelab/eventline/internal/clock"
	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"github.com/lineagelab/eventline/internal/observability/metrics"
	"github.com/lineagelab/eventline/pkg/db"
	"gorm.io/gorm"
)

const defaultDeadlockRetryDelay = time.Second

type changer struct {
	clk        clock.Clock
	retryDelay time.Duration
}

// NewStatusChanger builds the transactional status command executor.
func NewStatusChanger(clk clock.Clock) eventdomain.StatusChanger {
	return &changer{clk: clk, retryDelay: defaultDeadlockRetryDelay}
}

// NewStatusChangerWithRetryDelay is for tests that exercise the deadlock
// retry loop without waiting out the production delay.
func NewStatusChangerWithRetryDelay(clk clock.Clock, retryDelay time.Duration) eventdomain.StatusChanger {
	if retryDelay <= 0 {
		retryDelay = defaultDeadlockRetryDelay
	}
	return &changer{clk: clk, retryDelay: retryDelay}
}

// Execute runs the command inside one transaction. Deadlocked and
// serialization-failed transactions are retried in place after a fixed
// delay; a stale status assumption is benign and returns an empty result.
func (c *changer) Execute(ctx context.Context, conn *gorm.DB, cmd eventdomain.StatusCommand) (eventdomain.UpdateResult, error) {
	for {
		result, err := c.executeOnce(ctx, conn, cmd)
		if err == nil {
			return result, nil
		}
		if !db.IsDeadlockErr(err) {
			return eventdomain.UpdateResult{}, err
		}
		metrics.EventLog().IncDeadlockRetry(cmd.CommandName())
		select {
		case <-ctx.Done():
			return eventdomain.UpdateResult{}, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *changer) executeOnce(ctx context.Context, conn *gorm.DB, cmd eventdomain.StatusCommand) (eventdomain.UpdateResult, error) {
	var result eventdomain.UpdateResult
	now := c.clk.Now()

	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch cmd := cmd.(type) {
		case eventdomain.ToGeneratingTriples:
			result, err = casUpdate(tx, cmd.Key,
				[]eventdomain.Status{eventdomain.StatusNew, eventdomain.StatusGenerationRecoverableFailure},
				eventdomain.StatusGeneratingTriples,
				`, execution_date = ?`, now)
		case eventdomain.ToTriplesGenerated:
			result, err = casUpdate(tx, cmd.Key,
				[]eventdomain.Status{eventdomain.StatusGeneratingTriples},
				eventdomain.StatusTriplesGenerated,
				`, execution_date = ?, payload = ?, payload_schema_version = ?, processing_time_ms = ?, message = NULL`,
				now, eventdomain.CompressPayload(cmd.Payload), cmd.SchemaVersion, cmd.ProcessingTime.Milliseconds())
		case eventdomain.ToTransformingTriples:
			result, err = casUpdate(tx, cmd.Key,
				[]eventdomain.Status{eventdomain.StatusTriplesGenerated, eventdomain.StatusTransformationRecoverableFailure},
				eventdomain.StatusTransformingTriples,
				`, execution_date = ?`, now)
		case eventdomain.ToTriplesStore:
			result, err = casUpdate(tx, cmd.Key,
				[]eventdomain.Status{eventdomain.StatusTransformingTriples},
				eventdomain.StatusTriplesStore,
				`, execution_date = ?, processing_time_ms = ?, message = NULL`,
				now, cmd.ProcessingTime.Milliseconds())
		case eventdomain.ToFailure:
			result, err = executeToFailure(tx, cmd, now)
		case eventdomain.RollbackToNew:
			result, err = casUpdate(tx, cmd.Key,
				[]eventdomain.Status{eventdomain.StatusGeneratingTriples},
				eventdomain.StatusNew,
				`, execution_date = ?`, now)
		case eventdomain.RollbackToTriplesGenerated:
			result, err = casUpdate(tx, cmd.Key,
				[]eventdomain.Status{eventdomain.StatusTransformingTriples},
				eventdomain.StatusTriplesGenerated,
				`, execution_date = ?`, now)
		case eventdomain.RollbackToAwaitingDeletion:
			result, err = bulkStatusUpdate(tx, cmd.ProjectID,
				eventdomain.StatusDeleting, eventdomain.StatusAwaitingDeletion,
				`, execution_date = ?`, now)
		case eventdomain.ToAwaitingDeletion:
			result, err = casUpdate(tx, cmd.Key, nil,
				eventdomain.StatusAwaitingDeletion,
				`, execution_date = ?`, now)
		case eventdomain.ToDeleting:
			result, err = casUpdate(tx, cmd.Key,
				[]eventdomain.Status{eventdomain.StatusAwaitingDeletion},
				eventdomain.StatusDeleting,
				`, execution_date = ?`, now)
		case eventdomain.ProjectEventsToNew:
			result, err = executeProjectEventsToNew(tx, cmd.ProjectID, now)
		default:
			err = fmt.Errorf("unknown status command %q", cmd.CommandName())
		}
		return err
	})
	if err != nil {
		return eventdomain.UpdateResult{}, err
	}
	return result, nil
}

// casUpdate performs one compare-and-set transition. A nil expected set
// accepts any current status. Zero rows affected means the caller's view
// of the event was stale; the result is empty, not an error.
func casUpdate(tx *gorm.DB, key eventdomain.Key, expected []eventdomain.Status, target eventdomain.Status, setClause string, setArgs ...any) (eventdomain.UpdateResult, error) {
	var result eventdomain.UpdateResult

	current, found, err := currentStatus(tx, key)
	if err != nil {
		return result, err
	}
	if !found || current == target {
		return result, nil
	}
	if expected != nil && !statusIn(current, expected) {
		return result, nil
	}

	args := make([]any, 0, len(setArgs)+4)
	args = append(args, target)
	args = append(args, setArgs...)
	args = append(args, key.EventID, key.ProjectID, current)

	res := tx.Exec(
		`UPDATE events SET status = ?`+setClause+` WHERE event_id = ? AND project_id = ? AND status = ?`,
		args...,
	)
	if res.Error != nil {
		return result, res.Error
	}
	if res.RowsAffected == 0 {
		return result, nil
	}

	result.Updated = true
	result.Add(key.ProjectID, current, -1)
	result.Add(key.ProjectID, target, 1)
	return result, nil
}

func executeToFailure(tx *gorm.DB, cmd eventdomain.ToFailure, now time.Time) (eventdomain.UpdateResult, error) {
	if !eventdomain.FailureTargets[cmd.Target] {
		return eventdomain.UpdateResult{}, fmt.Errorf("invalid failure target %q", cmd.Target)
	}

	expected := []eventdomain.Status{eventdomain.StatusGeneratingTriples}
	transformation := cmd.Target == eventdomain.StatusTransformationRecoverableFailure ||
		cmd.Target == eventdomain.StatusTransformationNonRecoverableFailure
	if transformation {
		expected = []eventdomain.Status{eventdomain.StatusTransformingTriples}
	}

	executionDate := now
	recoverable := cmd.Target == eventdomain.StatusGenerationRecoverableFailure ||
		cmd.Target == eventdomain.StatusTransformationRecoverableFailure
	if recoverable {
		executionDate = now.Add(cmd.RetryDelay)
	}

	result, err := casUpdate(tx, cmd.Key, expected, cmd.Target,
		`, execution_date = ?, message = ?`, executionDate, cmd.Message)
	if err != nil || !result.Updated || !transformation {
		return result, err
	}

	// A failed transformation invalidates same-project ancestors that were
	// generated against the now-broken lineage: strictly earlier event
	// dates only, later events are untouched.
	var failedEventDate time.Time
	err = tx.Raw(
		`SELECT event_date FROM events WHERE event_id = ? AND project_id = ?`,
		cmd.Key.EventID, cmd.Key.ProjectID,
	).Scan(&failedEventDate).Error
	if err != nil {
		return eventdomain.UpdateResult{}, err
	}

	cascadeTarget := eventdomain.StatusNew
	cascadeExecution := now
	if recoverable {
		cascadeTarget = eventdomain.StatusTransformationRecoverableFailure
		cascadeExecution = now.Add(cmd.RetryDelay)
	}

	res := tx.Exec(
		`UPDATE events SET status = ?, execution_date = ?
		 WHERE project_id = ? AND status = ? AND event_date < ?`,
		cascadeTarget, cascadeExecution,
		cmd.Key.ProjectID, eventdomain.StatusTriplesGenerated, failedEventDate,
	)
	if res.Error != nil {
		return eventdomain.UpdateResult{}, res.Error
	}
	if n := int(res.RowsAffected); n > 0 {
		result.Add(cmd.Key.ProjectID, eventdomain.StatusTriplesGenerated, -n)
		result.Add(cmd.Key.ProjectID, cascadeTarget, n)
	}
	return result, nil
}

func bulkStatusUpdate(tx *gorm.DB, projectID int64, from, to eventdomain.Status, setClause string, setArgs ...any) (eventdomain.UpdateResult, error) {
	var result eventdomain.UpdateResult

	args := make([]any, 0, len(setArgs)+3)
	args = append(args, to)
	args = append(args, setArgs...)
	args = append(args, projectID, from)

	res := tx.Exec(
		`UPDATE events SET status = ?`+setClause+` WHERE project_id = ? AND status = ?`,
		args...,
	)
	if res.Error != nil {
		return result, res.Error
	}
	if n := int(res.RowsAffected); n > 0 {
		result.Updated = true
		result.Add(projectID, from, -n)
		result.Add(projectID, to, n)
	}
	return result, nil
}

func executeProjectEventsToNew(tx *gorm.DB, projectID int64, now time.Time) (eventdomain.UpdateResult, error) {
	var result eventdomain.UpdateResult

	var rows []struct {
		Status eventdomain.Status
		Total  int
	}
	err := tx.Raw(
		`SELECT status, COUNT(*) AS total FROM events WHERE project_id = ? AND status <> ? GROUP BY status`,
		projectID, eventdomain.StatusNew,
	).Scan(&rows).Error
	if err != nil {
		return result, err
	}

	res := tx.Exec(
		`UPDATE events
		 SET status = ?, execution_date = ?, payload = NULL, payload_schema_version = NULL, processing_time_ms = NULL, message = NULL
		 WHERE project_id = ? AND status <> ?`,
		eventdomain.StatusNew, now, projectID, eventdomain.StatusNew,
	)
	if res.Error != nil {
		return result, res.Error
	}
	if res.RowsAffected == 0 {
		return result, nil
	}

	result.Updated = true
	total := 0
	for _, row := range rows {
		result.Add(projectID, row.Status, -row.Total)
		total += row.Total
	}
	result.Add(projectID, eventdomain.StatusNew, total)
	return result, nil
}

func currentStatus(tx *gorm.DB, key eventdomain.Key) (eventdomain.Status, bool, error) {
	var row struct {
		Status eventdomain.Status
	}
	err := tx.Raw(
		`SELECT status FROM events WHERE event_id = ? AND project_id = ?`,
		key.EventID, key.ProjectID,
	).Scan(&row).Error
	if err != nil {
		return "", false, err
	}
	if row.Status == "" {
		return "", false, nil
	}
	return row.Status, true, nil
}

func statusIn(status eventdomain.Status, set []eventdomain.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
