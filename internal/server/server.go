package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lineagelab/eventline/internal/clock"
	"github.com/lineagelab/eventline/internal/config"
	eventdomain "github.com/lineagelab/eventline/internal/event/domain"
	"github.com/lineagelab/eventline/internal/eventsync"
	"github.com/lineagelab/eventline/internal/observability"
	obsmiddleware "github.com/lineagelab/eventline/internal/observability/logger"
	obsmetrics "github.com/lineagelab/eventline/internal/observability/metrics"
	obstracing "github.com/lineagelab/eventline/internal/observability/tracing"
	projectdomain "github.com/lineagelab/eventline/internal/project/domain"
	"github.com/lineagelab/eventline/internal/ratelimit"
	"github.com/lineagelab/eventline/internal/subscriber"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	db         *gorm.DB
	clk        clock.Clock
	validator  *envelopeValidator
	events     eventdomain.Repository
	changer    eventdomain.StatusChanger
	projects   projectdomain.Repository
	viewings   projectdomain.ViewingRepository
	syncEngine *eventsync.Engine
	registry   *subscriber.Registry
	dispatcher *subscriber.Dispatcher
	limiter    *ratelimit.IngestLimiter
	retryDelay time.Duration
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	DB         *gorm.DB
	Clock      clock.Clock
	Events     eventdomain.Repository
	Changer    eventdomain.StatusChanger
	Projects   projectdomain.Repository
	Viewings   projectdomain.ViewingRepository
	SyncEngine *eventsync.Engine
	Registry   *subscriber.Registry
	Dispatcher *subscriber.Dispatcher
	Limiter    *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) (*Server, error) {
	validator, err := newEnvelopeValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:     p.Gin,
		db:         p.DB,
		clk:        p.Clock,
		validator:  validator,
		events:     p.Events,
		changer:    p.Changer,
		projects:   p.Projects,
		viewings:   p.Viewings,
		syncEngine: p.SyncEngine,
		registry:   p.Registry,
		dispatcher: p.Dispatcher,
		limiter:    p.Limiter,
		retryDelay: subscriber.DefaultConfig().RetryDelayOnFailure,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.engine.POST("/events", s.postEvent)
	s.engine.GET("/events/:eventId/:projectId", s.getEvent)
	s.engine.PATCH("/events/:eventId/:projectId", s.patchEvent)
	s.engine.POST("/subscriptions", s.postSubscription)
	s.engine.GET("/projects/:projectId/viewings", s.getProjectViewings)
}

func (s *Server) metrics() *obsmetrics.EventLogMetrics {
	return obsmetrics.EventLog()
}
