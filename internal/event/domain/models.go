package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Event is one row in the durable event log. The key is composite: the
// external source assigns event ids, projects namespace them.
type Event struct {
	EventID              string         `json:"event_id" gorm:"column:event_id;primaryKey"`
	ProjectID            int64          `json:"project_id" gorm:"column:project_id;primaryKey"`
	Status               Status         `json:"status" gorm:"type:text;not null"`
	CreatedDate          time.Time      `json:"created_date" gorm:"not null"`
	ExecutionDate        time.Time      `json:"execution_date" gorm:"not null"`
	EventDate            time.Time      `json:"event_date" gorm:"not null"`
	BatchDate            time.Time      `json:"batch_date" gorm:"not null"`
	Body                 datatypes.JSON `json:"body" gorm:"not null"`
	Message              *string        `json:"message,omitempty"`
	Payload              []byte         `json:"-"`
	PayloadSchemaVersion *string        `json:"payload_schema_version,omitempty"`
	ProcessingTimeMS     *int64         `json:"processing_time_ms,omitempty" gorm:"column:processing_time_ms"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "events" }

// Key identifies one event row.
type Key struct {
	EventID   string
	ProjectID int64
}
