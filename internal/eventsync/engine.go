package eventsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lineagelab/eventline/internal/clock"
	"github.com/lineagelab/eventline/internal/commits"
	"github.com/lineagelab/eventline/internal/event"
	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	obsmetrics "github.com/lineagelab/eventline/internal/observability/metrics"
	projectdomain "github.com/lineagelab/eventline/internal/project/domain"
	"github.com/lineagelab/eventline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EngineParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Events   eventdomain.Repository
	Changer  eventdomain.StatusChanger
	Projects projectdomain.Repository
	Source   commits.Source
	Locker   *Locker `optional:"true"`
	Config   Config  `optional:"true"`
}

// Engine reconciles the event log against the external commit history.
type Engine struct {
	db       *gorm.DB
	log      *zap.Logger
	clk      clock.Clock
	cfg      Config
	events   eventdomain.Repository
	changer  eventdomain.StatusChanger
	projects projectdomain.Repository
	source   commits.Source
	locker   *Locker
}

func NewEngine(p EngineParams) (*Engine, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Events == nil || p.Changer == nil || p.Projects == nil || p.Source == nil {
		return nil, ErrInvalidConfig
	}
	return &Engine{
		db:       p.DB,
		log:      p.Log.Named("eventsync").With(zap.String("component", "eventsync")),
		clk:      p.Clock,
		cfg:      p.Config.withDefaults(),
		events:   p.Events,
		changer:  p.Changer,
		projects: p.Projects,
		source:   p.Source,
		locker:   p.Locker,
	}, nil
}

type commitEventBody struct {
	CategoryName string            `json:"categoryName"`
	ID           string            `json:"id"`
	ParentID     string            `json:"parentId,omitempty"`
	Project      commitEventTarget `json:"project"`
}

type commitEventTarget struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}

// SyncIfDue runs a sync for (project, category) unless one ran inside the
// category's rate-limit window. The sync time advances only when the sync
// actually ran.
func (e *Engine) SyncIfDue(ctx context.Context, projectID int64, slug, category string) (Summary, error) {
	now := e.clk.Now()
	last, found, err := lastSynced(ctx, e.db, projectID, category)
	if err != nil {
		return nil, err
	}
	if found && now.Sub(last) <= e.cfg.FrequencyFor(category) {
		return Summary{}.Increment(OutcomeSkipped), nil
	}

	var summary Summary
	if category == CategoryGlobalCommitSync {
		summary, err = e.FullSync(ctx, projectID, slug)
	} else {
		summary, err = e.MinimalSync(ctx, projectID, slug)
	}
	if err != nil {
		return summary, err
	}
	if err := setLastSynced(ctx, e.db, projectID, category, now); err != nil {
		return summary, err
	}
	return summary, nil
}

// Expedite makes the next natural sync window for (project, category)
// open delayOnRequest from now. It performs no sync work itself.
func (e *Engine) Expedite(ctx context.Context, projectID int64, category string) error {
	rewound := e.clk.Now().Add(-e.cfg.FrequencyFor(category)).Add(e.cfg.ExpediteDelay)
	return setLastSynced(ctx, e.db, projectID, category, rewound)
}

// MinimalSync compares the newest upstream commit against the newest
// event and runs a full sync only on mismatch.
func (e *Engine) MinimalSync(ctx context.Context, projectID int64, slug string) (Summary, error) {
	latest, err := e.source.LatestCommit(ctx, projectID)
	if err != nil {
		obsmetrics.EventLog().IncSyncOutcome(CategoryCommitSync, OutcomeFailed)
		return Summary{}.Increment(OutcomeFailed), fmt.Errorf("latest commit for project %d: %w", projectID, err)
	}

	newest, err := e.events.LatestByEventDate(ctx, e.db, projectID)
	if err != nil {
		return nil, err
	}

	if newest != nil && latest != "" && string(latest) == newest.EventID {
		obsmetrics.EventLog().IncSyncOutcome(CategoryCommitSync, OutcomeSkipped)
		return Summary{}.Increment(OutcomeSkipped), nil
	}
	if newest == nil && latest == "" {
		return Summary{}.Increment(OutcomeSkipped), nil
	}
	return e.fullSync(ctx, projectID, slug, CategoryCommitSync)
}

// FullSync diffs the project's full upstream history against the event
// log: missing commits become NEW events, orphaned events are scheduled
// for deletion, and the project row moves forward.
func (e *Engine) FullSync(ctx context.Context, projectID int64, slug string) (Summary, error) {
	return e.fullSync(ctx, projectID, slug, CategoryGlobalCommitSync)
}

// fullSync carries the category that triggered the sync so outcomes from
// a minimal sync falling through to a full diff stay attributed to
// COMMIT_SYNC.
func (e *Engine) fullSync(ctx context.Context, projectID int64, slug, category string) (Summary, error) {
	lockKey := projectLockKey(projectID)
	token, ok, err := e.locker.TryLock(ctx, lockKey, e.cfg.ProjectLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another instance is syncing this project right now.
		return Summary{}.Increment(OutcomeSkipped), nil
	}
	defer func() {
		if err := e.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			e.log.Warn("failed to release project sync lock", zap.Int64("project_id", projectID), zap.Error(err))
		}
	}()

	history, err := e.source.AllCommits(ctx, projectID)
	if err != nil {
		obsmetrics.EventLog().IncSyncOutcome(category, OutcomeFailed)
		return Summary{}.Increment(OutcomeFailed), fmt.Errorf("all commits for project %d: %w", projectID, err)
	}

	existing, err := e.events.ListIDs(ctx, e.db, projectID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}

	summary := Summary{}
	upstream := make(map[string]bool, len(history))
	normalizedSlug := projectdomain.NormalizeSlug(slug)

	var missing []commits.CommitInfo
	for _, commit := range history {
		upstream[string(commit.ID)] = true
		if !known[string(commit.ID)] {
			missing = append(missing, commit)
		}
	}

	for start := 0; start < len(missing); start += e.cfg.InsertBatchSize {
		end := start + e.cfg.InsertBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch, err := e.insertBatch(ctx, projectID, normalizedSlug, missing[start:end])
		summary = summary.Combine(batch)
		if err != nil {
			return summary, err
		}
	}

	for _, id := range existing {
		if upstream[id] {
			continue
		}
		// The commit vanished upstream (force push); retire its event.
		result, err := e.changer.Execute(ctx, e.db, eventdomain.ToAwaitingDeletion{
			Key: eventdomain.Key{EventID: id, ProjectID: projectID},
		})
		if err != nil {
			summary = summary.Increment(OutcomeFailed)
			e.log.Warn("failed to retire orphaned event",
				zap.String("event_id", id), zap.Int64("project_id", projectID), zap.Error(err))
			continue
		}
		event.ApplyDeltas(obsmetrics.EventLog(), result)
		if result.Updated {
			summary = summary.Increment(OutcomeDeleted)
		} else {
			summary = summary.Increment(OutcomeExisted)
		}
	}

	latestEventDate := projectdomain.EpochSentinel
	newest, err := e.events.LatestByEventDate(ctx, e.db, projectID)
	if err != nil {
		return summary, err
	}
	if newest != nil {
		latestEventDate = newest.EventDate
	}
	if err := e.projects.Upsert(ctx, e.db, &projectdomain.Project{
		ProjectID:       projectID,
		Slug:            normalizedSlug,
		LatestEventDate: latestEventDate,
	}); err != nil {
		return summary, err
	}

	for outcome, count := range summary {
		obsmetrics.EventLog().AddSyncOutcome(category, outcome, count)
	}
	return summary, nil
}

func (e *Engine) insertBatch(ctx context.Context, projectID int64, slug string, batch []commits.CommitInfo) (Summary, error) {
	summary := Summary{}
	now := e.clk.Now()

	for _, commit := range batch {
		body, err := json.Marshal(commitEventBody{
			CategoryName: "CREATION",
			ID:           string(commit.ID),
			ParentID:     string(commit.ParentID),
			Project:      commitEventTarget{ID: projectID, Slug: slug},
		})
		if err != nil {
			return summary, err
		}

		insertErr := e.events.Insert(ctx, e.db, &eventdomain.Event{
			EventID:       string(commit.ID),
			ProjectID:     projectID,
			Status:        eventdomain.StatusNew,
			CreatedDate:   now,
			ExecutionDate: now,
			EventDate:     now,
			BatchDate:     now,
			Body:          body,
		})
		switch {
		case insertErr == nil:
			summary = summary.Increment(OutcomeCreated)
			obsmetrics.EventLog().AddStatusDelta(eventdomain.StatusNew.String(), fmt.Sprint(projectID), 1)
		case db.IsDuplicateKeyErr(insertErr):
			summary = summary.Increment(OutcomeExisted)
		default:
			return summary.Increment(OutcomeFailed), insertErr
		}
	}
	return summary, nil
}
