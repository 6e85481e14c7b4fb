// Package web serves the live stream and the control API.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pipatrol/patrol/internal/broker"
	"github.com/pipatrol/patrol/internal/config"
	"github.com/pipatrol/patrol/internal/events"
	"github.com/pipatrol/patrol/internal/face"
	"github.com/pipatrol/patrol/internal/health"
	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/motion"
	"github.com/pipatrol/patrol/internal/service"
	"github.com/pipatrol/patrol/internal/web/streaming"
)

// FrameBroker is the shared frame and preview state
type FrameBroker interface {
	streaming.FrameSource
	Status() broker.Status
	SetPreview(enabled bool)
	LivePath() string
}

// FaceService enrolls samples and retrains the model
type FaceService interface {
	Enroll(name string, jpegData []byte) (string, error)
	Train(ctx context.Context, progress face.ProgressFunc) (*face.TrainResult, error)
	Info() face.ModelInfo
}

// EventStore reads the event log
type EventStore interface {
	GetEvent(ctx context.Context, id int64) (*events.Event, error)
	ListEvents(ctx context.Context, opts events.ListOptions) ([]*events.Event, int, error)
}

// MediaStore resolves event snapshots and clips by file name
type MediaStore interface {
	ResolveMedia(name string) (string, error)
	JPEGQuality() int
}

// HealthReporter produces the health report
type HealthReporter interface {
	Check(ctx context.Context) health.Report
}

// MotionState reports the gate state
type MotionState interface {
	State() motion.State
	LastMotion() time.Time
}

// Dependencies are the components the handlers read. Any of them may be
// nil, in which case the routes that need it answer 503.
type Dependencies struct {
	Broker FrameBroker
	Faces  FaceService
	Events EventStore
	Media  MediaStore
	Health HealthReporter
	Motion MotionState
	Hub    http.Handler
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	cancelReqs context.CancelFunc
	router     *gin.Engine
	deps       Dependencies
	stream     *streaming.Service
	version    string
	startTime  time.Time
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies wires the components behind the routes
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
	if deps.Broker != nil {
		s.stream = streaming.NewService(deps.Broker, s.config.StreamFPS, s.logger)
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// Request contexts derive from reqCtx, which Stop cancels so /live
	// streams end instead of holding Shutdown open. WriteTimeout stays 0
	// for the same long-lived routes.
	reqCtx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.cancelReqs = cancel
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		BaseContext: func(net.Listener) context.Context { return reqCtx },
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", ln.Addr().String())
		}
	}()

	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop ends open streams and shuts the web server down
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.cancelReqs()
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.router.GET("/live", s.handleLive)
	s.router.GET("/media/:file", s.handleMedia)
	s.router.GET("/ws/events", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.POST("/toggle_preview", s.handleTogglePreview)
		api.POST("/enroll", s.handleEnroll)
		api.POST("/train", s.handleTrain)
		api.GET("/model", s.handleModel)

		api.GET("/events", s.handleListEvents)
		api.GET("/events/:id", s.handleGetEvent)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows the dashboard, served from another port, to call the API
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
