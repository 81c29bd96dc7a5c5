package domain

import "time"

// StatusDelta is one per-(project, status) count movement produced by a
// status change. Callers fold deltas into the status gauges.
type StatusDelta struct {
	ProjectID int64
	Status    Status
	Delta     int
}

// UpdateResult reports what a status command changed.
type UpdateResult struct {
	Updated bool
	Deltas  []StatusDelta
}

// Add records a count movement on the result, folding duplicates.
func (r *UpdateResult) Add(projectID int64, status Status, delta int) {
	if delta == 0 {
		return
	}
	for i := range r.Deltas {
		if r.Deltas[i].ProjectID == projectID && r.Deltas[i].Status == status {
			r.Deltas[i].Delta += delta
			return
		}
	}
	r.Deltas = append(r.Deltas, StatusDelta{ProjectID: projectID, Status: status, Delta: delta})
}

// StatusCommand is a closed set of event status transitions. Commands are
// plain data; the StatusChanger executes them transactionally.
type StatusCommand interface {
	CommandName() string
}

// ToGeneratingTriples claims an event for triple generation.
type ToGeneratingTriples struct {
	Key Key
}

// ToTriplesGenerated records a successful generation together with the
// produced payload.
type ToTriplesGenerated struct {
	Key            Key
	Payload        []byte
	SchemaVersion  string
	ProcessingTime time.Duration
}

// ToTransformingTriples claims a generated event for transformation.
type ToTransformingTriples struct {
	Key Key
}

// ToTriplesStore marks the terminal success of the pipeline.
type ToTriplesStore struct {
	Key            Key
	ProcessingTime time.Duration
}

// ToFailure moves an event to one of the four failure statuses. Recoverable
// targets schedule a retry after RetryDelay. Transformation failures cascade
// to same-project TRIPLES_GENERATED events with a strictly earlier event
// date, so ancestors are re-processed in order.
type ToFailure struct {
	Key        Key
	Target     Status
	Message    string
	RetryDelay time.Duration
}

// RollbackToNew releases a generation claim.
type RollbackToNew struct {
	Key Key
}

// RollbackToTriplesGenerated releases a transformation claim.
type RollbackToTriplesGenerated struct {
	Key Key
}

// RollbackToAwaitingDeletion releases stuck DELETING rows of a project.
type RollbackToAwaitingDeletion struct {
	ProjectID int64
}

// ToAwaitingDeletion schedules an event for deletion.
type ToAwaitingDeletion struct {
	Key Key
}

// ToDeleting claims an AWAITING_DELETION event for physical cleanup.
type ToDeleting struct {
	Key Key
}

// ProjectEventsToNew resets every event of a project back to NEW and clears
// stored payloads, for full re-provisioning.
type ProjectEventsToNew struct {
	ProjectID int64
}

func (ToGeneratingTriples) CommandName() string        { return "to_generating_triples" }
func (ToTriplesGenerated) CommandName() string         { return "to_triples_generated" }
func (ToTransformingTriples) CommandName() string      { return "to_transforming_triples" }
func (ToTriplesStore) CommandName() string             { return "to_triples_store" }
func (ToFailure) CommandName() string                  { return "to_failure" }
func (RollbackToNew) CommandName() string              { return "rollback_to_new" }
func (RollbackToTriplesGenerated) CommandName() string { return "rollback_to_triples_generated" }
func (RollbackToAwaitingDeletion) CommandName() string { return "rollback_to_awaiting_deletion" }
func (ToAwaitingDeletion) CommandName() string         { return "to_awaiting_deletion" }
func (ToDeleting) CommandName() string                 { return "to_deleting" }
func (ProjectEventsToNew) CommandName() string         { return "project_events_to_new" }

// FailureTargets enumerates the statuses ToFailure may target.
var FailureTargets = map[Status]bool{
	StatusGenerationRecoverableFailure:        true,
	StatusGenerationNonRecoverableFailure:     true,
	StatusTransformationRecoverableFailure:    true,
	StatusTransformationNonRecoverableFailure: true,
}
