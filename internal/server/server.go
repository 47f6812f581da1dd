package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/quotaflow/internal/alert"
	alertdomain "github.com/smallbiznis/quotaflow/internal/alert/domain"
	"github.com/smallbiznis/quotaflow/internal/auth"
	authdomain "github.com/smallbiznis/quotaflow/internal/auth/domain"
	"github.com/smallbiznis/quotaflow/internal/authorization"
	"github.com/smallbiznis/quotaflow/internal/config"
	"github.com/smallbiznis/quotaflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/quotaflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quotaflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/quotaflow/internal/observability/tracing"
	"github.com/smallbiznis/quotaflow/internal/organization"
	"github.com/smallbiznis/quotaflow/internal/quota"
	quotadomain "github.com/smallbiznis/quotaflow/internal/quota/domain"
	"github.com/smallbiznis/quotaflow/internal/ratelimit"
	"github.com/smallbiznis/quotaflow/internal/tracking"
	trackingdomain "github.com/smallbiznis/quotaflow/internal/tracking/domain"
	"github.com/smallbiznis/quotaflow/internal/usage"
	usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"
	"github.com/smallbiznis/quotaflow/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	auth.Module,
	organization.Module,
	ratelimit.Module,
	usage.Module,
	quota.Module,
	alert.Module,
	tracking.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware())
	}
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	cfg        config.Config
	authsvc    authdomain.Service
	authzSvc   authorization.Service
	usageSvc   usagedomain.Service
	quotaSvc   quotadomain.Service
	alertSvc   alertdomain.Service
	trackSvc   trackingdomain.Service
	liveEvents *liveevents.Hub
	obsMetrics *obsmetrics.Metrics
	limiter    *ratelimit.UsageTrackLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Authsvc    authdomain.Service
	AuthzSvc   authorization.Service
	UsageSvc   usagedomain.Service
	QuotaSvc   quotadomain.Service
	AlertSvc   alertdomain.Service
	TrackSvc   trackingdomain.Service
	LiveEvents *liveevents.Hub              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
	Limiter    *ratelimit.UsageTrackLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		authsvc:    p.Authsvc,
		authzSvc:   p.AuthzSvc,
		usageSvc:   p.UsageSvc,
		quotaSvc:   p.QuotaSvc,
		alertSvc:   p.AlertSvc,
		trackSvc:   p.TrackSvc,
		liveEvents: p.LiveEvents,
		obsMetrics: p.ObsMetrics,
		limiter:    p.Limiter,
	}

	svc.registerUsageRoutes()
	svc.registerQuotaRoutes()
	svc.registerAlertRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerUsageRoutes() {
	usage := s.engine.Group("/usage", s.BearerAuthRequired())

	usage.POST("/track", s.TrackUsage)
	usage.POST("/check-quota", s.CheckQuota)
	usage.GET("/analytics", s.UsageAnalytics)
	usage.GET("/events", s.ListUsageEvents)
	usage.GET("/live", s.StreamUsageLiveEvents)
}

func (s *Server) registerQuotaRoutes() {
	quotas := s.engine.Group("/quotas", s.BearerAuthRequired())

	quotas.GET("", s.ListQuotas)
	quotas.POST("/update", s.UpdateQuota)
	quotas.POST("/reset", s.ResetQuotas)
}

func (s *Server) registerAlertRoutes() {
	alerts := s.engine.Group("/alerts", s.BearerAuthRequired())

	alerts.GET("", s.ListAlerts)
	alerts.POST("/:id/acknowledge", s.AcknowledgeAlert)
	alerts.DELETE("/:id", s.DismissAlert)
}
