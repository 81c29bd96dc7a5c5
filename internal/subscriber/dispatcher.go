package subscriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lineagelab/eventline/internal/clock"
	"github.com/lineagelab/eventline/internal/event"
	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	obsmetrics "github.com/lineagelab/eventline/internal/observability/metrics"
	obstracing "github.com/lineagelab/eventline/internal/observability/tracing"
	projectdomain "github.com/lineagelab/eventline/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig   = errors.New("subscriber: invalid configuration")
	errSubscriberGone  = errors.New("subscriber: endpoint gone")
	errNoCapacity      = errors.New("subscriber: no capacity")
	dispatchCategories = []string{CategoryAwaitingGeneration, CategoryTriplesGenerated}
)

type DispatcherParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Registry *Registry
	Capacity CapacityFinder
	Events   eventdomain.Repository
	Changer  eventdomain.StatusChanger
	Projects projectdomain.Repository
	GenID    *snowflake.Node
	Config   Config `optional:"true"`
}

// Dispatcher feeds claimed events to registered subscribers, one
// competing-consumer loop per category.
type Dispatcher struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clk        clock.Clock
	genID      *snowflake.Node
	registry   *Registry
	capacity   CapacityFinder
	events     eventdomain.Repository
	changer    eventdomain.StatusChanger
	projects   projectdomain.Repository
	executor   *ProcessExecutor
	httpClient *http.Client
}

func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Registry == nil || p.Capacity == nil || p.Events == nil || p.Changer == nil || p.Projects == nil || p.GenID == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Dispatcher{
		db:       p.DB,
		log:      p.Log.Named("subscriber.dispatcher").With(zap.String("component", "subscriber.dispatcher")),
		cfg:      cfg,
		clk:      p.Clock,
		genID:    p.GenID,
		registry: p.Registry,
		capacity: p.Capacity,
		events:   p.Events,
		changer:  p.Changer,
		projects: p.Projects,
		executor: NewProcessExecutor(cfg.Concurrency),
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: cfg.SendTimeout,
		}),
	}, nil
}

// RunForever drives one supervised loop per dispatch category until the
// context is cancelled.
func (d *Dispatcher) RunForever(ctx context.Context) {
	var wg sync.WaitGroup
	for _, category := range dispatchCategories {
		wg.Add(1)
		go func(category string) {
			defer wg.Done()
			d.categoryLoop(ctx, category)
		}(category)
	}
	wg.Wait()
}

func (d *Dispatcher) categoryLoop(ctx context.Context, category string) {
	for {
		if ctx.Err() != nil {
			return
		}
		dispatched, err := d.DispatchOnce(ctx, category)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			d.log.Warn("dispatch failed, restarting loop",
				zap.String("category", category),
				zap.Error(err),
			)
			if !sleepCtx(ctx, d.cfg.RestartDelay) {
				return
			}
		case !dispatched:
			if !sleepCtx(ctx, d.cfg.PollInterval) {
				return
			}
		}
	}
}

// DispatchOnce claims at most one eligible event and hands it to the
// first subscriber with capacity. It reports whether an event was
// dispatched.
func (d *Dispatcher) DispatchOnce(ctx context.Context, category string) (bool, error) {
	subs := d.registry.Next(category)
	if len(subs) == 0 {
		return false, nil
	}

	claimed, err := d.claimNext(ctx, category)
	if err != nil || claimed == nil {
		return false, err
	}
	key := eventdomain.Key{EventID: claimed.EventID, ProjectID: claimed.ProjectID}

	for _, sub := range subs {
		hasCapacity, err := d.capacity.HasCapacity(ctx, d.db, sub)
		if err != nil {
			return false, errors.Join(err, d.rollbackClaim(ctx, category, key))
		}
		if !hasCapacity {
			obsmetrics.EventLog().IncDelivery(category, obsmetrics.DeliveryOutcomeBusy)
			continue
		}

		err = d.executor.Submit(ctx, func(ctx context.Context) error {
			return d.deliver(ctx, category, claimed, sub)
		})
		if errors.Is(err, errSubscriberGone) {
			// deliver released the claim on the way out, so take it back
			// before the next subscriber sees the event. If another worker
			// got there first the event is theirs now.
			reclaimed, reclaimErr := d.reclaim(ctx, category, key)
			if reclaimErr != nil {
				return false, reclaimErr
			}
			if !reclaimed {
				return false, nil
			}
			continue
		}
		return err == nil, err
	}

	// Nobody can take the event right now; release the claim so another
	// worker (or the next poll) picks it up.
	if err := d.rollbackClaim(ctx, category, key); err != nil {
		return false, err
	}
	return false, errNoCapacity
}

func (d *Dispatcher) claimNext(ctx context.Context, category string) (*eventdomain.Event, error) {
	var claimed *eventdomain.Event

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate, err := d.lockCandidate(ctx, tx, category)
		if err != nil || candidate == nil {
			return err
		}

		key := eventdomain.Key{EventID: candidate.EventID, ProjectID: candidate.ProjectID}
		var cmd eventdomain.StatusCommand
		var claimedStatus eventdomain.Status
		if category == CategoryTriplesGenerated {
			cmd = eventdomain.ToTransformingTriples{Key: key}
			claimedStatus = eventdomain.StatusTransformingTriples
		} else {
			cmd = eventdomain.ToGeneratingTriples{Key: key}
			claimedStatus = eventdomain.StatusGeneratingTriples
		}

		result, err := d.changer.Execute(ctx, tx, cmd)
		if err != nil {
			return err
		}
		if result.Updated {
			event.ApplyDeltas(obsmetrics.EventLog(), result)
			candidate.Status = claimedStatus
			claimed = candidate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (d *Dispatcher) lockCandidate(ctx context.Context, tx *gorm.DB, category string) (*eventdomain.Event, error) {
	now := d.clk.Now()
	var candidate eventdomain.Event
	lockStart := time.Now()

	var err error
	if category == CategoryTriplesGenerated {
		// One transformation per project at a time keeps the ancestor
		// rollback scope well defined.
		err = tx.WithContext(ctx).Raw(
			`SELECT event_id, project_id, status, created_date, execution_date, event_date, batch_date, body, message, payload, payload_schema_version, processing_time_ms
			 FROM events
			 WHERE status IN (?) AND execution_date <= ?
			   AND NOT EXISTS (
				   SELECT 1 FROM events busy
				   WHERE busy.project_id = events.project_id AND busy.status = ?
			   )
			 ORDER BY event_date ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT 1`,
			[]eventdomain.Status{eventdomain.StatusTriplesGenerated, eventdomain.StatusTransformationRecoverableFailure},
			now,
			eventdomain.StatusTransformingTriples,
		).Scan(&candidate).Error
	} else {
		err = tx.WithContext(ctx).Raw(
			`SELECT event_id, project_id, status, created_date, execution_date, event_date, batch_date, body, message, payload, payload_schema_version, processing_time_ms
			 FROM events
			 WHERE status IN (?) AND execution_date <= ?
			 ORDER BY event_date ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT 1`,
			[]eventdomain.Status{eventdomain.StatusNew, eventdomain.StatusGenerationRecoverableFailure},
			now,
		).Scan(&candidate).Error
	}
	obsmetrics.EventLog().ObserveDBLockWait(obsmetrics.LockResourceEventsForDispatch, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if candidate.EventID == "" {
		return nil, nil
	}
	return &candidate, nil
}

// deliver POSTs the envelope and applies dispatch recovery: transient
// failures retry with a fixed backoff until the subscriber answers,
// permanent rejections go through the state machine, and a vanished
// subscriber releases the claim for someone else.
func (d *Dispatcher) deliver(ctx context.Context, category string, ev *eventdomain.Event, sub Subscriber) error {
	key := eventdomain.Key{EventID: ev.EventID, ProjectID: ev.ProjectID}

	slug := ""
	project, err := d.projects.FindByID(ctx, d.db, ev.ProjectID)
	if err != nil {
		return errors.Join(err, d.rollbackClaim(ctx, category, key))
	}
	if project != nil {
		slug = project.Slug
	}

	body, err := buildEnvelope(category, ev, slug)
	if err != nil {
		return errors.Join(err, d.rollbackClaim(ctx, category, key))
	}

	registered, err := registerDelivery(ctx, d.db, EventDelivery{
		EventID:       ev.EventID,
		ProjectID:     ev.ProjectID,
		SubscriberURL: sub.URL,
		DeliveryID:    d.genID.Generate().String(),
		DeliveredAt:   d.clk.Now(),
	})
	if err != nil {
		return errors.Join(err, d.rollbackClaim(ctx, category, key))
	}
	if !registered {
		// A delivery for this event is still outstanding elsewhere.
		return d.rollbackClaim(ctx, category, key)
	}

	log := d.log.With(
		zap.String("category", category),
		zap.String("event_id", ev.EventID),
		zap.Int64("project_id", ev.ProjectID),
		zap.String("subscriber", sub.URL),
	)

	for {
		statusCode, message, postErr := d.post(ctx, sub.URL, body)
		outcome := classifyDelivery(statusCode, postErr)
		obsmetrics.EventLog().IncDelivery(category, outcome.String())

		switch outcome {
		case outcomeAccepted:
			// The guard row stays until the subscriber reports back.
			return nil

		case outcomeGone:
			d.registry.Remove(category, sub.URL)
			log.Info("subscriber gone, releasing claim")
			if err := clearDelivery(ctx, d.db, key); err != nil {
				return err
			}
			if err := d.rollbackClaim(ctx, category, key); err != nil {
				return err
			}
			return errSubscriberGone

		case outcomePermanent:
			log.Warn("subscriber rejected event", zap.Int("status_code", statusCode), zap.String("message", message))
			if err := clearDelivery(ctx, d.db, key); err != nil {
				return err
			}
			return d.markNonRecoverable(ctx, category, key, message)

		default: // busy or transient
			if postErr != nil {
				log.Warn("delivery attempt failed", zap.Error(postErr))
			} else {
				log.Warn("subscriber unavailable", zap.Int("status_code", statusCode))
			}
			if !sleepCtx(ctx, d.cfg.RetryBackoff) {
				if err := clearDelivery(context.WithoutCancel(ctx), d.db, key); err != nil {
					return err
				}
				return errors.Join(ctx.Err(), d.rollbackClaim(context.WithoutCancel(ctx), category, key))
			}
		}
	}
}

// ResolveDelivery drops the guard row once the subscriber reported the
// event's outcome.
func (d *Dispatcher) ResolveDelivery(ctx context.Context, key eventdomain.Key) error {
	return clearDelivery(ctx, d.db, key)
}

// reclaim re-runs the claim transition for an event whose claim was
// rolled back mid-dispatch. It reports whether this worker holds the
// claim again.
func (d *Dispatcher) reclaim(ctx context.Context, category string, key eventdomain.Key) (bool, error) {
	var cmd eventdomain.StatusCommand
	if category == CategoryTriplesGenerated {
		cmd = eventdomain.ToTransformingTriples{Key: key}
	} else {
		cmd = eventdomain.ToGeneratingTriples{Key: key}
	}
	result, err := d.changer.Execute(ctx, d.db, cmd)
	if err != nil {
		return false, err
	}
	event.ApplyDeltas(obsmetrics.EventLog(), result)
	return result.Updated, nil
}

func (d *Dispatcher) rollbackClaim(ctx context.Context, category string, key eventdomain.Key) error {
	var cmd eventdomain.StatusCommand
	if category == CategoryTriplesGenerated {
		cmd = eventdomain.RollbackToTriplesGenerated{Key: key}
	} else {
		cmd = eventdomain.RollbackToNew{Key: key}
	}
	result, err := d.changer.Execute(ctx, d.db, cmd)
	if err != nil {
		return err
	}
	event.ApplyDeltas(obsmetrics.EventLog(), result)
	return nil
}

func (d *Dispatcher) markNonRecoverable(ctx context.Context, category string, key eventdomain.Key, message string) error {
	target := eventdomain.StatusGenerationNonRecoverableFailure
	if category == CategoryTriplesGenerated {
		target = eventdomain.StatusTransformationNonRecoverableFailure
	}
	result, err := d.changer.Execute(ctx, d.db, eventdomain.ToFailure{
		Key:     key,
		Target:  target,
		Message: message,
	})
	if err != nil {
		return err
	}
	event.ApplyDeltas(obsmetrics.EventLog(), result)
	return nil
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return resp.StatusCode, string(bytes.TrimSpace(excerpt)), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
