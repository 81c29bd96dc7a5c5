package event

import (
	"context"
	"strconv"

	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"github.com/lineagelab/eventline/internal/observability/metrics"
	"gorm.io/gorm"
)

// ApplyDeltas folds a status command result into the per-status gauges.
func ApplyDeltas(m *metrics.EventLogMetrics, result eventdomain.UpdateResult) {
	for _, d := range result.Deltas {
		m.AddStatusDelta(d.Status.String(), strconv.FormatInt(d.ProjectID, 10), d.Delta)
	}
}

// SeedStatusGauges loads the stored per-project status counts so the
// gauges survive restarts. Gauges start at zero, so adding the count
// once on startup sets the absolute value.
func SeedStatusGauges(ctx context.Context, conn *gorm.DB, events eventdomain.Repository, m *metrics.EventLogMetrics) error {
	counts, err := events.CountAllByStatus(ctx, conn)
	if err != nil {
		return err
	}
	for _, c := range counts {
		m.AddStatusDelta(c.Status.String(), strconv.FormatInt(c.ProjectID, 10), c.Total)
	}
	return nil
}
