// Package server exposes the platform over HTTP: the REST API, the
// websocket alert feed, Prometheus metrics and health probes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/aml/cases"
	"github.com/napsa-zm/erm-platform/internal/aml/screening"
	"github.com/napsa-zm/erm-platform/internal/aml/stream"
	"github.com/napsa-zm/erm-platform/internal/analytics/fedlearn"
	"github.com/napsa-zm/erm-platform/internal/analytics/netgraph"
	"github.com/napsa-zm/erm-platform/internal/analytics/sentiment"
	"github.com/napsa-zm/erm-platform/internal/audit"
	"github.com/napsa-zm/erm-platform/internal/auth"
	"github.com/napsa-zm/erm-platform/internal/config"
	"github.com/napsa-zm/erm-platform/internal/erm"
	"github.com/napsa-zm/erm-platform/internal/erm/incident"
	"github.com/napsa-zm/erm-platform/internal/erm/kri"
	"github.com/napsa-zm/erm-platform/internal/erm/rcsa"
	"github.com/napsa-zm/erm-platform/internal/integrations"
	"github.com/napsa-zm/erm-platform/internal/org"
	"github.com/napsa-zm/erm-platform/internal/reports"
	"github.com/napsa-zm/erm-platform/pkg/metrics"
)

// Deps carries everything the HTTP layer serves. Optional fields (Redis,
// Directory, Engine, Hub, Ledger) may be nil; the routes degrade
// accordingly.
type Deps struct {
	Config *config.Config
	Logger *zap.Logger
	Redis  *redis.Client

	Auth      *auth.Manager
	Directory *integrations.ADConnector

	Risks     *erm.Service
	KRIs      *kri.Service
	RCSA      *rcsa.Service
	Incidents *incident.Service
	Org       *org.Service

	AML      *aml.Store
	Cases    *cases.Service
	Screener *screening.Screener
	Engine   *stream.Engine
	Hub      *stream.Hub

	Ledger    *audit.Ledger
	Generator *reports.Generator
	Scheduler *reports.Scheduler

	Sentiment *sentiment.Analyzer
	Graph     *netgraph.Analyzer
	FedLearn  *fedlearn.Coordinator

	Integrations *integrations.Registry
}

// Server is the configured HTTP front end.
type Server struct {
	deps   Deps
	router *gin.Engine
	http   *http.Server
}

// New builds the router with the full middleware stack and every route
// group mounted under /api/v1.
func New(deps Deps) (*Server, error) {
	if deps.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(ginzap.Ginzap(deps.Logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(deps.Logger, true))
	r.Use(otelgin.Middleware("erm-platform"))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(instrument())

	if deps.Config.Server.RateLimit != "" {
		rate, err := limiter.NewRateFromFormatted(deps.Config.Server.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("bad rate limit %q: %w", deps.Config.Server.RateLimit, err)
		}
		var store limiter.Store
		if deps.Redis != nil {
			store, err = sredis.NewStoreWithOptions(deps.Redis, limiter.StoreOptions{
				Prefix: "erm:ratelimit",
			})
			if err != nil {
				return nil, fmt.Errorf("rate limit store: %w", err)
			}
		} else {
			store = memory.NewStore()
		}
		r.Use(mgin.NewMiddleware(limiter.New(store, rate)))
	}

	s := &Server{deps: deps, router: r}
	s.mountRoutes()

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) mountRoutes() {
	api := s.router.Group("/api/v1")

	api.GET("/health", s.health)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.POST("/auth/login", s.login)
	api.POST("/auth/refresh", s.deps.Auth.Middleware(), s.refresh)

	authed := api.Group("", s.deps.Auth.Middleware())
	analyst := auth.RequireRole(auth.RoleAnalyst)
	officer := auth.RequireRole(auth.RoleOfficer)
	admin := auth.RequireRole(auth.RoleAdmin)

	risks := authed.Group("/risks")
	{
		risks.GET("", s.listRisks)
		risks.POST("", analyst, s.createRisk)
		risks.GET("/:id", s.getRisk)
		risks.PUT("/:id", analyst, s.updateRisk)
		risks.DELETE("/:id", officer, s.deleteRisk)
		risks.GET("/:id/controls", s.listRiskControls)
		risks.POST("/:id/controls", analyst, s.linkControl)
		risks.GET("/:id/assessments", s.listRiskAssessments)
		risks.POST("/:id/assessments", analyst, s.createRiskAssessment)
	}
	authed.GET("/risk-categories", s.listCategories)
	authed.POST("/risk-categories", officer, s.createCategory)

	controls := authed.Group("/controls")
	{
		controls.GET("", s.listControls)
		controls.POST("", analyst, s.createControl)
		controls.GET("/:id", s.getControl)
		controls.PUT("/:id", analyst, s.updateControl)
		controls.DELETE("/:id", officer, s.deleteControl)
	}

	kris := authed.Group("/kris")
	{
		kris.GET("", s.listKRIs)
		kris.POST("", analyst, s.createKRI)
		kris.GET("/summary", s.kriSummary)
		kris.GET("/:id", s.getKRI)
		kris.PUT("/:id", analyst, s.updateKRI)
		kris.DELETE("/:id", officer, s.deleteKRI)
		kris.POST("/:id/measurements", analyst, s.addMeasurement)
	}

	rcsaGroup := authed.Group("/rcsa")
	{
		rcsaGroup.GET("/templates", s.listTemplates)
		rcsaGroup.POST("/templates", officer, s.createTemplate)
		rcsaGroup.GET("/templates/:id", s.getTemplate)
		rcsaGroup.GET("/assessments", s.listRCSAAssessments)
		rcsaGroup.POST("/assessments", analyst, s.startAssessment)
		rcsaGroup.GET("/assessments/:id", s.getRCSAAssessment)
		rcsaGroup.POST("/assessments/:id/responses", analyst, s.respond)
		rcsaGroup.POST("/assessments/:id/submit", analyst, s.submitAssessment)
		rcsaGroup.POST("/assessments/:id/approve", officer, s.approveAssessment)
		rcsaGroup.POST("/assessments/:id/actions", analyst, s.addActionItem)
		rcsaGroup.POST("/actions/:id/complete", analyst, s.completeActionItem)
	}

	incidents := authed.Group("/incidents")
	{
		incidents.GET("", s.listIncidents)
		incidents.POST("", analyst, s.createIncident)
		incidents.GET("/:id", s.getIncident)
		incidents.PUT("/:id", analyst, s.updateIncident)
		incidents.POST("/:id/transition", analyst, s.transitionIncident)
		incidents.POST("/:id/notes", analyst, s.addIncidentNote)
	}

	units := authed.Group("/org-units")
	{
		units.GET("", s.listUnits)
		units.GET("/tree", s.orgTree)
		units.POST("", admin, s.createUnit)
		units.GET("/:id", s.getUnit)
		units.PUT("/:id", admin, s.updateUnit)
		units.DELETE("/:id", admin, s.deleteUnit)
	}

	amlGroup := authed.Group("/aml")
	{
		amlGroup.GET("/customers", s.listCustomers)
		amlGroup.POST("/customers", analyst, s.createCustomer)
		amlGroup.GET("/customers/:id", s.getCustomer)
		amlGroup.GET("/transactions", s.listTransactions)
		amlGroup.POST("/transactions", analyst, s.createTransaction)
		amlGroup.GET("/alerts", s.listAlerts)
		amlGroup.GET("/alerts/:id", s.getAlert)
		amlGroup.POST("/alerts/:id/acknowledge", analyst, s.acknowledgeAlert)
		amlGroup.POST("/alerts/:id/resolve", analyst, s.resolveAlert)
		amlGroup.GET("/cases", s.listCases)
		amlGroup.POST("/cases", analyst, s.openCase)
		amlGroup.GET("/cases/:id", s.getCase)
		amlGroup.POST("/cases/:id/alerts", analyst, s.attachAlert)
		amlGroup.POST("/cases/:id/transition", officer, s.transitionCase)
		amlGroup.POST("/cases/:id/notes", analyst, s.addCaseNote)
		amlGroup.POST("/cases/:id/sar", officer, s.fileSAR)
		amlGroup.GET("/reports", s.listRegReports)
		amlGroup.GET("/reports/:id", s.getRegReport)
		amlGroup.POST("/reports/:id/transition", officer, s.transitionRegReport)
		amlGroup.POST("/screening/check", analyst, s.screeningCheck)
		amlGroup.GET("/watchlist", s.listWatchlist)
		amlGroup.POST("/watchlist", officer, s.upsertWatchlistEntry)
		amlGroup.POST("/watchlist/lists", officer, s.createSanctionsList)
	}

	authed.GET("/stream/stats", s.streamStats)
	authed.GET("/stream/events", s.streamEvents)
	s.router.GET("/ws/alerts", s.wsAlerts)

	auditGroup := authed.Group("/audit")
	{
		auditGroup.POST("/events", analyst, s.recordAuditEvent)
		auditGroup.GET("/trail", s.auditTrail)
		auditGroup.POST("/verify", officer, s.auditVerify)
		auditGroup.GET("/stats", s.auditStats)
	}

	reportsGroup := authed.Group("/reports")
	{
		reportsGroup.GET("/generate", s.generateReport)
		reportsGroup.GET("/schedules", s.listSchedules)
		reportsGroup.POST("/schedules", officer, s.createSchedule)
		reportsGroup.PATCH("/schedules/:id", officer, s.toggleSchedule)
		reportsGroup.DELETE("/schedules/:id", officer, s.deleteSchedule)
		reportsGroup.GET("/schedules/:id/runs", s.scheduleRuns)
	}

	analytics := authed.Group("/analytics")
	{
		analytics.POST("/sentiment", s.analyzeSentiment)
		analytics.GET("/sentiment/overview", s.sentimentOverview)
		analytics.POST("/network/rebuild", analyst, s.rebuildNetwork)
		analytics.GET("/network/stats", s.networkStats)
		analytics.GET("/network/:customerID", s.customerNetwork)
		analytics.GET("/fedlearn/experiments", s.listExperiments)
		analytics.POST("/fedlearn/experiments", officer, s.createExperiment)
		analytics.GET("/fedlearn/experiments/:id", s.getExperiment)
		analytics.POST("/fedlearn/participants", officer, s.registerParticipant)
		analytics.GET("/fedlearn/rounds/:id", s.experimentRounds)
		analytics.POST("/fedlearn/rounds", officer, s.runRound)
	}

	ints := authed.Group("/integrations")
	{
		ints.GET("", s.listConnectors)
		ints.GET("/history", s.connectorHistory)
		ints.GET("/:name/status", s.connectorStatus)
		ints.POST("/:name/sync", officer, s.connectorSync)
	}
}

// instrument records request counts and latency per route template.
func instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// audit records a ledger event for a mutating request. Failures are
// logged, not surfaced; the mutation already happened.
func (s *Server) audit(c *gin.Context, eventType, entityType, entityID string) {
	if s.deps.Ledger == nil {
		return
	}
	_, err := s.deps.Ledger.Record(c.Request.Context(), audit.Event{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor(c),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.deps.Logger.Warn("audit record failed",
			zap.String("event_type", eventType), zap.Error(err))
	}
}

func (s *Server) health(c *gin.Context) {
	out := gin.H{
		"status":      "ok",
		"environment": s.deps.Config.Environment,
		"time":        time.Now().UTC(),
	}
	if s.deps.Engine != nil {
		out["stream"] = "running"
	}
	c.JSON(http.StatusOK, out)
}
