package domain

// Status is the processing status of an event in the log.
type Status string

const (
	StatusNew                                 Status = "NEW"
	StatusGeneratingTriples                   Status = "GENERATING_TRIPLES"
	StatusTriplesGenerated                    Status = "TRIPLES_GENERATED"
	StatusTransformingTriples                 Status = "TRANSFORMING_TRIPLES"
	StatusTriplesStore                        Status = "TRIPLES_STORE"
	StatusSkipped                             Status = "SKIPPED"
	StatusGenerationRecoverableFailure        Status = "GENERATION_RECOVERABLE_FAILURE"
	StatusGenerationNonRecoverableFailure     Status = "GENERATION_NON_RECOVERABLE_FAILURE"
	StatusTransformationRecoverableFailure    Status = "TRANSFORMATION_RECOVERABLE_FAILURE"
	StatusTransformationNonRecoverableFailure Status = "TRANSFORMATION_NON_RECOVERABLE_FAILURE"
	StatusAwaitingDeletion                    Status = "AWAITING_DELETION"
	StatusDeleting                            Status = "DELETING"
)

// AllStatuses lists every status the log recognizes.
var AllStatuses = []Status{
	StatusNew,
	StatusGeneratingTriples,
	StatusTriplesGenerated,
	StatusTransformingTriples,
	StatusTriplesStore,
	StatusSkipped,
	StatusGenerationRecoverableFailure,
	StatusGenerationNonRecoverableFailure,
	StatusTransformationRecoverableFailure,
	StatusTransformationNonRecoverableFailure,
	StatusAwaitingDeletion,
	StatusDeleting,
}

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Processing reports whether an event in this status is claimed by a worker.
func (s Status) Processing() bool {
	switch s {
	case StatusGeneratingTriples, StatusTransformingTriples, StatusDeleting:
		return true
	default:
		return false
	}
}

// Final reports whether the status is terminal for the pipeline.
func (s Status) Final() bool {
	switch s {
	case StatusTriplesStore, StatusSkipped,
		StatusGenerationNonRecoverableFailure,
		StatusTransformationNonRecoverableFailure:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }
