package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lineagelab/eventline/internal/event"
	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"github.com/lineagelab/eventline/internal/eventsync"
	projectdomain "github.com/lineagelab/eventline/internal/project/domain"
	"github.com/lineagelab/eventline/pkg/db"
	"gorm.io/datatypes"
)

// Inbound envelope categories accepted on POST /events. Anything else is
// rejected before the store is touched.
const (
	categoryCreation         = "CREATION"
	categoryCommitSyncReq    = "COMMIT_SYNC_REQUEST"
	categoryGlobalSyncReq    = "GLOBAL_COMMIT_SYNC_REQUEST"
	categoryProjectViewed    = "PROJECT_VIEWED"
	categoryProjectsToNewReq = "MIGRATION_REQUEST"
)

type inboundProject struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}

type inboundEnvelope struct {
	CategoryName string          `json:"categoryName"`
	ID           string          `json:"id"`
	Project      *inboundProject `json:"project"`
	Body         json.RawMessage `json:"body"`
}

func (s *Server) postEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: read body: %v", ErrInvalidRequest, err))
		return
	}
	if err := s.validator.Validate(raw); err != nil {
		AbortWithError(c, err)
		return
	}

	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body is not valid JSON"))
		return
	}

	switch env.CategoryName {
	case categoryCreation:
		s.acceptCreation(c, env, raw)
	case categoryCommitSyncReq:
		s.acceptSyncRequest(c, env, eventsync.CategoryCommitSync)
	case categoryGlobalSyncReq:
		s.acceptSyncRequest(c, env, eventsync.CategoryGlobalCommitSync)
	case categoryProjectViewed:
		s.acceptProjectViewed(c, env)
	case categoryProjectsToNewReq:
		s.acceptMigrationRequest(c, env)
	default:
		AbortWithError(c, newValidationError("categoryName", "unknown_category",
			fmt.Sprintf("unsupported category %q", env.CategoryName)))
	}
}

func (s *Server) acceptCreation(c *gin.Context, env inboundEnvelope, raw []byte) {
	if env.ID == "" {
		AbortWithError(c, newValidationError("id", "required", "id is required for CREATION"))
		return
	}
	if env.Project == nil {
		AbortWithError(c, newValidationError("project", "required", "project is required for CREATION"))
		return
	}

	if s.limiter.Enabled() {
		res, err := s.limiter.AllowIngest(c.Request.Context(), env.Project.ID)
		// A limiter outage must not block ingestion, so only an explicit
		// denial rejects the event.
		if err == nil && !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(res.RetryAfter.Seconds())), 10))
			}
			AbortWithError(c, ErrTooManyRequests)
			return
		}
	}

	now := s.clk.Now()
	row := &eventdomain.Event{
		EventID:       env.ID,
		ProjectID:     env.Project.ID,
		Status:        eventdomain.StatusNew,
		CreatedDate:   now,
		ExecutionDate: now,
		EventDate:     now,
		BatchDate:     now,
		Body:          datatypes.JSON(raw),
	}
	if err := s.events.Insert(c.Request.Context(), s.db, row); err != nil {
		if db.IsDuplicateKeyErr(err) {
			c.JSON(http.StatusOK, gin.H{"status": "existed"})
			return
		}
		AbortWithError(c, err)
		return
	}

	project := &projectdomain.Project{
		ProjectID:       env.Project.ID,
		Slug:            projectdomain.NormalizeSlug(env.Project.Slug),
		LatestEventDate: now,
	}
	if err := s.projects.Upsert(c.Request.Context(), s.db, project); err != nil {
		AbortWithError(c, err)
		return
	}

	var result eventdomain.UpdateResult
	result.Updated = true
	result.Add(env.Project.ID, eventdomain.StatusNew, 1)
	event.ApplyDeltas(s.metrics(), result)

	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

func (s *Server) acceptSyncRequest(c *gin.Context, env inboundEnvelope, category string) {
	if env.Project == nil {
		AbortWithError(c, newValidationError("project", "required", "project is required for sync requests"))
		return
	}
	if err := s.syncEngine.Expedite(c.Request.Context(), env.Project.ID, category); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type projectViewedBody struct {
	UserID   string    `json:"userId"`
	ViewedAt time.Time `json:"date"`
}

func (s *Server) acceptProjectViewed(c *gin.Context, env inboundEnvelope) {
	if env.Project == nil {
		AbortWithError(c, newValidationError("project", "required", "project is required for PROJECT_VIEWED"))
		return
	}
	var body projectViewedBody
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, &body); err != nil {
			AbortWithError(c, newValidationError("body", "invalid_json", "PROJECT_VIEWED body is not valid JSON"))
			return
		}
	}
	if body.UserID == "" {
		AbortWithError(c, newValidationError("body.userId", "required", "userId is required for PROJECT_VIEWED"))
		return
	}
	viewedAt := body.ViewedAt
	if viewedAt.IsZero() {
		viewedAt = s.clk.Now()
	}
	if err := s.viewings.Record(c.Request.Context(), s.db, env.Project.ID, body.UserID, viewedAt); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) acceptMigrationRequest(c *gin.Context, env inboundEnvelope) {
	if env.Project == nil {
		AbortWithError(c, newValidationError("project", "required", "project is required for MIGRATION_REQUEST"))
		return
	}
	result, err := s.changer.Execute(c.Request.Context(), s.db, eventdomain.ProjectEventsToNew{
		ProjectID: env.Project.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	event.ApplyDeltas(s.metrics(), result)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type patchEventBody struct {
	Status           string  `json:"status"`
	Payload          string  `json:"payload,omitempty"`
	SchemaVersion    string  `json:"schemaVersion,omitempty"`
	ProcessingTimeMS int64   `json:"processingTimeMs,omitempty"`
	Message          *string `json:"message,omitempty"`
}

func (s *Server) patchEvent(c *gin.Context) {
	key, err := eventKeyFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var body patchEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body is not valid JSON"))
		return
	}

	cmd, err := s.commandForPatch(key, body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	row, err := s.events.FindByKey(c.Request.Context(), s.db, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if row == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	result, err := s.changer.Execute(c.Request.Context(), s.db, cmd)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	event.ApplyDeltas(s.metrics(), result)

	if err := s.dispatcher.ResolveDelivery(c.Request.Context(), key); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": result.Updated})
}

// commandForPatch maps a subscriber outcome report onto a status command.
// TRIPLES_GENERATED doubles as result (payload present) and rollback
// (payload absent), matching what subscribers can actually report.
func (s *Server) commandForPatch(key eventdomain.Key, body patchEventBody) (eventdomain.StatusCommand, error) {
	status := eventdomain.Status(body.Status)
	switch status {
	case eventdomain.StatusTriplesGenerated:
		if body.Payload == "" {
			return eventdomain.RollbackToTriplesGenerated{Key: key}, nil
		}
		payload, err := base64.StdEncoding.DecodeString(body.Payload)
		if err != nil {
			return nil, newValidationError("payload", "invalid_base64", "payload must be base64 encoded")
		}
		return eventdomain.ToTriplesGenerated{
			Key:            key,
			Payload:        payload,
			SchemaVersion:  body.SchemaVersion,
			ProcessingTime: time.Duration(body.ProcessingTimeMS) * time.Millisecond,
		}, nil
	case eventdomain.StatusTriplesStore:
		return eventdomain.ToTriplesStore{
			Key:            key,
			ProcessingTime: time.Duration(body.ProcessingTimeMS) * time.Millisecond,
		}, nil
	case eventdomain.StatusNew:
		return eventdomain.RollbackToNew{Key: key}, nil
	case eventdomain.StatusAwaitingDeletion:
		return eventdomain.ToAwaitingDeletion{Key: key}, nil
	default:
		if eventdomain.FailureTargets[status] {
			message := ""
			if body.Message != nil {
				message = *body.Message
			}
			return eventdomain.ToFailure{
				Key:        key,
				Target:     status,
				Message:    message,
				RetryDelay: s.retryDelay,
			}, nil
		}
		return nil, newValidationError("status", "unsupported_status",
			fmt.Sprintf("cannot transition to %q via this endpoint", body.Status))
	}
}

func (s *Server) getEvent(c *gin.Context) {
	key, err := eventKeyFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	row, err := s.events.FindByKey(c.Request.Context(), s.db, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if row == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, row)
}

func eventKeyFromPath(c *gin.Context) (eventdomain.Key, error) {
	eventID := c.Param("eventId")
	if eventID == "" {
		return eventdomain.Key{}, newValidationError("eventId", "required", "eventId is required")
	}
	projectID, err := parseProjectID(c.Param("projectId"))
	if err != nil {
		return eventdomain.Key{}, err
	}
	return eventdomain.Key{EventID: eventID, ProjectID: projectID}, nil
}
