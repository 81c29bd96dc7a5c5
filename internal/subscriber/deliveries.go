package subscriber

import (
	"context"
	"time"

	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"github.com/lineagelab/eventline/pkg/db"
	"gorm.io/gorm"
)

// EventDelivery marks an event as handed to a subscriber. The primary key
// on (event_id, project_id) guarantees one outstanding delivery per event.
type EventDelivery struct {
	EventID       string    `gorm:"column:event_id;primaryKey"`
	ProjectID     int64     `gorm:"column:project_id;primaryKey"`
	SubscriberURL string    `gorm:"column:subscriber_url;not null"`
	DeliveryID    string    `gorm:"column:delivery_id;not null"`
	DeliveredAt   time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (EventDelivery) TableName() string { return "event_deliveries" }

// registerDelivery inserts the guard row. It returns false when a
// delivery for the event is already outstanding.
func registerDelivery(ctx context.Context, conn *gorm.DB, delivery EventDelivery) (bool, error) {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO event_deliveries (event_id, project_id, subscriber_url, delivery_id, delivered_at)
		 VALUES (?, ?, ?, ?, ?)`,
		delivery.EventID,
		delivery.ProjectID,
		delivery.SubscriberURL,
		delivery.DeliveryID,
		delivery.DeliveredAt,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func clearDelivery(ctx context.Context, conn *gorm.DB, key eventdomain.Key) error {
	return conn.WithContext(ctx).Exec(
		`DELETE FROM event_deliveries WHERE event_id = ? AND project_id = ?`,
		key.EventID,
		key.ProjectID,
	).Error
}

func countOutstanding(ctx context.Context, conn *gorm.DB, subscriberURL string) (int, error) {
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM event_deliveries WHERE subscriber_url = ?`,
		subscriberURL,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}
