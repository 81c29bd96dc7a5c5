package eventsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lineagelab/eventline/internal/clock"
	"github.com/lineagelab/eventline/internal/event"
	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	obsmetrics "github.com/lineagelab/eventline/internal/observability/metrics"
	projectdomain "github.com/lineagelab/eventline/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("eventsync: invalid configuration")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Engine   *Engine
	Events   eventdomain.Repository
	Changer  eventdomain.StatusChanger
	Projects projectdomain.Repository
	Viewings projectdomain.ViewingRepository
	GenID    *snowflake.Node
	Config   Config `optional:"true"`
}

// Worker drives the periodic sync, cleanup and recovery jobs.
type Worker struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clk      clock.Clock
	genID    *snowflake.Node
	engine   *Engine
	events   eventdomain.Repository
	changer  eventdomain.StatusChanger
	projects projectdomain.Repository
	viewings projectdomain.ViewingRepository
}

func New(p Params) (*Worker, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Engine == nil || p.Events == nil || p.Changer == nil || p.Projects == nil || p.Viewings == nil || p.GenID == nil {
		return nil, ErrInvalidConfig
	}
	return &Worker{
		db:       p.DB,
		log:      p.Log.Named("eventsync.worker").With(zap.String("component", "eventsync.worker")),
		cfg:      p.Config.withDefaults(),
		clk:      p.Clock,
		genID:    p.GenID,
		engine:   p.Engine,
		events:   p.Events,
		changer:  p.Changer,
		projects: p.Projects,
		viewings: p.Viewings,
	}, nil
}

func (w *Worker) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := w.clk.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := w.log.With(
		zap.String("job", name),
		zap.String("run_id", w.genID.Generate().String()),
	)
	logMetrics := obsmetrics.EventLog()
	logMetrics.IncJobRun(name)

	err := fn(ctx)
	logMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		logMetrics.IncJobTimeout(name)
	}
	logMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (w *Worker) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"commit_sync", w.isJobEnabled("commit_sync"), func(ctx context.Context) error {
			return w.runJob(ctx, "commit_sync", 5*time.Minute, func(ctx context.Context) error {
				return w.SyncDueProjectsJob(ctx, CategoryCommitSync)
			})
		}},
		{"global_commit_sync", w.isJobEnabled("global_commit_sync"), func(ctx context.Context) error {
			return w.runJob(ctx, "global_commit_sync", 30*time.Minute, func(ctx context.Context) error {
				return w.SyncDueProjectsJob(ctx, CategoryGlobalCommitSync)
			})
		}},
		{"cleanup", w.isJobEnabled("cleanup"), func(ctx context.Context) error {
			return w.runJob(ctx, "cleanup", 5*time.Minute, w.CleanupJob)
		}},
		{"recovery_sweep", w.isJobEnabled("recovery_sweep"), func(ctx context.Context) error {
			return w.runJob(ctx, "recovery_sweep", 30*time.Second, w.RecoverySweepJob)
		}},
		{"viewings_dedup", w.isJobEnabled("viewings_dedup"), func(ctx context.Context) error {
			return w.runJob(ctx, "viewings_dedup", 30*time.Second, w.DedupViewingsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := w.clk.Now().Add(w.cfg.RunInterval)
	logMetrics := obsmetrics.EventLog()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			logMetrics.ObserveRunLoopLag(runLag)
		}
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("sync run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(w.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(w.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range w.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// SyncDueProjectsJob claims due projects and syncs each against the
// upstream commit history.
func (w *Worker) SyncDueProjectsJob(ctx context.Context, category string) error {
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cutoff := w.clk.Now().Add(-w.cfg.FrequencyFor(category))
		projects, err := w.fetchProjectsDueForSync(ctx, category, cutoff, w.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(projects) == 0 {
			return jobErr
		}

		progressed := false
		for _, project := range projects {
			summary, err := w.engine.SyncIfDue(ctx, project.ProjectID, project.Slug, category)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				w.log.Warn("project sync failed",
					zap.String("category", category),
					zap.Int64("project_id", project.ProjectID),
					zap.Error(err),
				)
				continue
			}
			progressed = true
			w.log.Info("project synced",
				zap.String("category", category),
				zap.Int64("project_id", project.ProjectID),
				zap.Int("created", summary.Get(OutcomeCreated)),
				zap.Int("existed", summary.Get(OutcomeExisted)),
				zap.Int("skipped", summary.Get(OutcomeSkipped)),
				zap.Int("deleted", summary.Get(OutcomeDeleted)),
				zap.Int("failed", summary.Get(OutcomeFailed)),
			)
		}
		if !progressed {
			// Every claim in the batch failed; retry on the next run
			// instead of hammering the same projects.
			return jobErr
		}
	}
}

// CleanupJob claims AWAITING_DELETION events, marks them DELETING and
// deletes them physically. Projects left without events are dropped.
func (w *Worker) CleanupJob(ctx context.Context) error {
	var jobErr error
	affected := map[int64]bool{}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		claimed, err := w.fetchEventsForCleanup(ctx, w.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(claimed) == 0 {
			break
		}

		progressed := false
		for _, row := range claimed {
			key := eventdomain.Key{EventID: row.EventID, ProjectID: row.ProjectID}
			result, err := w.changer.Execute(ctx, w.db, eventdomain.ToDeleting{Key: key})
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			event.ApplyDeltas(obsmetrics.EventLog(), result)
			if !result.Updated {
				continue
			}
			if err := w.events.Delete(ctx, w.db, key); err != nil {
				jobErr = errors.Join(jobErr, err)
				continue
			}
			obsmetrics.EventLog().AddStatusDelta(
				eventdomain.StatusDeleting.String(), fmt.Sprint(row.ProjectID), -1)
			affected[row.ProjectID] = true
			progressed = true
		}
		if !progressed {
			break
		}
	}

	for projectID := range affected {
		counts, err := w.events.CountByStatus(ctx, w.db, projectID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if len(counts) > 0 {
			continue
		}
		if err := w.projects.Delete(ctx, w.db, projectID); err != nil {
			jobErr = errors.Join(jobErr, err)
		}
	}

	return jobErr
}

// RecoverySweepJob releases DELETING claims whose worker died mid-flight
// so the cleanup job can pick them up again.
func (w *Worker) RecoverySweepJob(ctx context.Context) error {
	cutoff := w.clk.Now().Add(-w.cfg.RecoveryThreshold)
	projectIDs, err := w.fetchProjectsWithStuckDeleting(ctx, cutoff)
	if err != nil {
		return err
	}

	var jobErr error
	for _, projectID := range projectIDs {
		result, err := w.changer.Execute(ctx, w.db, eventdomain.RollbackToAwaitingDeletion{ProjectID: projectID})
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		event.ApplyDeltas(obsmetrics.EventLog(), result)
		if result.Updated {
			w.log.Info("recovered stuck deletions", zap.Int64("project_id", projectID))
		}
	}
	return jobErr
}

// DedupViewingsJob collapses duplicate project viewings to the newest.
func (w *Worker) DedupViewingsJob(ctx context.Context) error {
	removed, err := w.viewings.Deduplicate(ctx, w.db)
	if err != nil {
		return err
	}
	if removed > 0 {
		w.log.Info("deduplicated project viewings", zap.Int64("removed", removed))
	}
	return nil
}
