package subscriber

import (
	"context"

	"gorm.io/gorm"
)

// CapacityFinder decides whether a subscriber can take one more event.
type CapacityFinder interface {
	HasCapacity(ctx context.Context, conn *gorm.DB, sub Subscriber) (bool, error)
}

type noopCapacityFinder struct{}

// NewNoopCapacityFinder treats every subscriber as unbounded.
func NewNoopCapacityFinder() CapacityFinder {
	return noopCapacityFinder{}
}

func (noopCapacityFinder) HasCapacity(context.Context, *gorm.DB, Subscriber) (bool, error) {
	return true, nil
}

type countingCapacityFinder struct{}

// NewCountingCapacityFinder throttles subscribers that declared a
// capacity by counting their outstanding deliveries.
func NewCountingCapacityFinder() CapacityFinder {
	return countingCapacityFinder{}
}

func (countingCapacityFinder) HasCapacity(ctx context.Context, conn *gorm.DB, sub Subscriber) (bool, error) {
	if sub.Capacity <= 0 {
		return true, nil
	}
	outstanding, err := countOutstanding(ctx, conn, sub.URL)
	if err != nil {
		return false, err
	}
	return outstanding < sub.Capacity, nil
}
