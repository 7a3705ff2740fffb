package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"telemetry-backbone/src/interfaces"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/metrics"
	"telemetry-backbone/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

// APIDeps are the collaborators behind the HTTP surface. Any ingestion or
// query dependency may be nil; its routes then answer 503.
type APIDeps struct {
	Connections *ConnectionManager
	Snapshots   interfaces.ISnapshotProvider
	Querier     interfaces.IMetricsQuerier
	Metrics     *metrics.Metrics

	Ticks      interfaces.ITickIngester
	Signals    interfaces.ISignalRecorder
	Trades     interfaces.ITradeRecorder
	Executions interfaces.IExecutionRecorder
}

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	deps   APIDeps
	engine *gin.Engine
	server *http.Server
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, log *logger.Logger, deps APIDeps) *APIServer {
	if strings.ToUpper(cfg.LogLevel) != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config: cfg,
		Logger: log,
		deps:   deps,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	s.engine.GET("/ws", s.handleWebSocket)

	api := s.engine.Group("/api")
	api.GET("/snapshot", s.getSnapshot)
	api.GET("/collectors", s.getCollectors)
	api.GET("/health", s.getHealth)
	api.GET("/connections", s.getConnections)
	api.GET("/metrics/:category", s.getMetrics)

	events := api.Group("/events")
	events.POST("/tick", s.postTick)
	events.POST("/signal", s.postSignal)
	events.POST("/trade", s.postTrade)
	events.POST("/execution", s.postExecution)

	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
}

// Handler exposes the router (tests drive it through httptest).
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start blocks until the server fails or Stop is called.
func (s *APIServer) Start() error {
	s.Logger.Info("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop drains in-flight requests. Hijacked websockets are closed by the
// connection manager, not here.
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	if s.deps.Connections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket not available"})
		return
	}
	s.deps.Connections.ServeWebSocket(c.Writer, c.Request)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getSnapshot(c *gin.Context) {
	if s.deps.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot provider"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Snapshots.CompositeSnapshot())
}

// -----------------------------------------------------------------------------

func (s *APIServer) getCollectors(c *gin.Context) {
	if s.deps.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot provider"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Snapshots.CollectorStatuses())
}

// -----------------------------------------------------------------------------

// getHealth reports "degraded" while any collector is not running.
func (s *APIServer) getHealth(c *gin.Context) {
	status := "ok"
	ready, total := 0, 0
	var latest time.Time
	if s.deps.Snapshots != nil {
		for _, st := range s.deps.Snapshots.CollectorStatuses() {
			total++
			if st.State == "running" {
				ready++
			}
		}
		latest = s.deps.Snapshots.CompositeSnapshot().Timestamp
	}
	if ready < total {
		status = "degraded"
	}

	connections := 0
	if s.deps.Connections != nil {
		connections = s.deps.Connections.ConnectionCount()
	}

	body := gin.H{
		"status":           status,
		"connections":      connections,
		"collectors_ready": ready,
		"collectors_total": total,
		"latest_update":    int64(0),
	}
	if !latest.IsZero() {
		body["latest_update"] = latest.UnixMilli()
	}
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getConnections(c *gin.Context) {
	if s.deps.Connections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket not available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":       s.deps.Connections.Stats(),
		"connections": s.deps.Connections.Connections(),
	})
}

// -----------------------------------------------------------------------------

// getMetrics answers /api/metrics/:category?start&end&discriminator&bucket.
// The window defaults to the last hour.
func (s *APIServer) getMetrics(c *gin.Context) {
	if s.deps.Querier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}

	category, err := parseCategory(c.Param("category"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := time.Now().UTC()
	end, err := parseTimeParam(c.Query("end"), now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := parseTimeParam(c.Query("start"), end.Add(-time.Hour))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !end.After(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be after start"})
		return
	}
	bucket, err := parseBucket(c.Query("bucket"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := s.deps.Querier.Query(c.Request.Context(), models.MQueryRequest{
		Category:      category,
		Start:         start,
		End:           end,
		Discriminator: c.Query("discriminator"),
		Bucket:        bucket,
	})
	if err != nil {
		s.Logger.Error("Metrics query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category": category,
		"bucket":   bucket,
		"start":    start,
		"end":      end,
		"rows":     rows,
	})
}

// -----------------------------------------------------------------------------
// Event ingestion
// -----------------------------------------------------------------------------

func (s *APIServer) postTick(c *gin.Context) {
	if s.deps.Ticks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "market data collector disabled"})
		return
	}
	var tick models.MMarketTick
	if !bindEvent(c, &tick) {
		return
	}
	stampIfZero(&tick.Timestamp, time.Now())
	s.deps.Ticks.IngestTick(tick)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *APIServer) postSignal(c *gin.Context) {
	if s.deps.Signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "strategy collector disabled"})
		return
	}
	var ev models.MSignalEvent
	if !bindEvent(c, &ev) {
		return
	}
	stampIfZero(&ev.Timestamp, time.Now())
	s.deps.Signals.RecordSignal(ev)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *APIServer) postTrade(c *gin.Context) {
	if s.deps.Trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "strategy collector disabled"})
		return
	}
	var ev models.MTradeEvent
	if !bindEvent(c, &ev) {
		return
	}
	stampIfZero(&ev.Timestamp, time.Now())
	s.deps.Trades.RecordTrade(ev)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *APIServer) postExecution(c *gin.Context) {
	if s.deps.Executions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution collector disabled"})
		return
	}
	var ev models.MExecutionEvent
	if !bindEvent(c, &ev) {
		return
	}
	stampIfZero(&ev.Timestamp, time.Now())
	s.deps.Executions.RecordExecution(ev)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type validatable interface {
	Validate() error
}

// bindEvent decodes the body into dst and validates it, answering 400 on
// either failure.
func bindEvent(c *gin.Context, dst validatable) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := dst.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
