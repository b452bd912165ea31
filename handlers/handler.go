package handlers

import (
	"time"

	"cosmicwatch/core"
	"cosmicwatch/metrics"
	"cosmicwatch/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the API handlers.
type Options struct {
	Services *service.Services
	// ACL guards admin routes; nil allows every address.
	ACL *IPAccessControl
	// AdminAuth requires a bearer access token on admin routes.
	AdminAuth           bool
	IngestRatePerSecond float64
	IngestBurst         int
	RetentionDays       int
	Metrics             *metrics.Metrics
	Gatherer            prometheus.Gatherer
	Logger              *zap.Logger
	// Shutdown is called after a confirmed shutdown request.
	Shutdown func()
}

// Handler serves the monitoring, auth and runtime API.
type Handler struct {
	svc       *service.Services
	rt        *core.Runtime
	acl       *IPAccessControl
	adminAuth bool
	limiter   *RateLimiter
	retention int
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	log       *zap.Logger
	started   time.Time
	shutdown  shutdownManager
}

func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		svc:       opts.Services,
		rt:        opts.Services.Runtime.Runtime(),
		acl:       opts.ACL,
		adminAuth: opts.AdminAuth,
		limiter:   NewRateLimiter(opts.IngestRatePerSecond, opts.IngestBurst, opts.Metrics, opts.Logger.Named("ratelimit")),
		retention: opts.RetentionDays,
		metrics:   opts.Metrics,
		gatherer:  opts.Gatherer,
		log:       opts.Logger,
		started:   time.Now(),
		shutdown:  shutdownManager{trigger: opts.Shutdown},
	}
}

// selfComponents are the server's own parts scored by the runtime health report.
var selfComponents = []string{serverComponent, service.IngestComponent, core.GlobalComponent}

// Register installs middleware and routes on r and mounts the server's own
// components on the runtime.
func (h *Handler) Register(r *gin.Engine) {
	for _, name := range selfComponents {
		h.rt.Monitor.TrackMount(name, nil)
	}
	r.Use(TrackRequests(h.rt.Monitor, h.metrics), Recovery(h.rt.Monitor, h.log))

	api := r.Group("/api")
	api.GET("/health", h.HealthCheck)
	api.GET("/version", h.Version)
	api.POST("/monitoring/logs", h.limiter.Limit(), h.StoreLogs)
	api.POST("/auth/refresh", h.RefreshToken)

	admin := api.Group("", h.acl.Middleware())
	if h.adminAuth {
		admin.Use(RequireBearer(h.svc.Auth))
	}

	admin.GET("/monitoring/logs", h.GetLogs)
	admin.GET("/monitoring/health/component", h.GetComponentHealth)
	admin.GET("/monitoring/health/application", h.GetApplicationHealth)
	admin.GET("/monitoring/analytics/errors", h.GetErrorAnalytics)
	admin.GET("/monitoring/analytics/performance", h.GetPerformanceMetrics)
	admin.GET("/monitoring/journey/:sessionId", h.GetUserJourney)
	admin.DELETE("/monitoring/cleanup", h.CleanupLogs)

	admin.POST("/auth/refresh-tokens", h.IssueRefreshToken)

	admin.GET("/runtime/events", h.GetRuntimeEvents)
	admin.GET("/runtime/health", h.GetRuntimeHealth)
	admin.GET("/runtime/health/:component", h.GetRuntimeComponentHealth)
	admin.GET("/runtime/corrections", h.GetCorrections)
	admin.DELETE("/runtime/corrections", h.ClearCorrections)
	admin.GET("/runtime/corrections/stats", h.GetCorrectionStats)
	admin.POST("/runtime/classify", h.Classify)

	admin.POST("/system/shutdown-code", h.GenerateShutdownCode)
	admin.POST("/system/shutdown", h.VerifyAndShutdown)

	admin.GET("/metrics", h.GetMetrics)
	admin.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// Close unmounts the components mounted by Register.
func (h *Handler) Close() {
	for i := len(selfComponents) - 1; i >= 0; i-- {
		h.rt.Monitor.TrackUnmount(selfComponents[i])
	}
}
