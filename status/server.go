// Package status serves health, pipeline state and Prometheus metrics over HTTP.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/pipeline"
)

// PipelineStatus reports the state of the export pipeline
type PipelineStatus interface {
	Status() pipeline.Status
}

// BacklogFunc returns the number of archives waiting for delivery
type BacklogFunc func(ctx context.Context) (int, error)

// Server is the status HTTP endpoint
type Server struct {
	logger   logging.Logger
	pipeline PipelineStatus
	backlog  BacklogFunc
	gatherer prometheus.Gatherer
	service  string
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates the status server. backlog may be nil when the export sink
// has no local backlog.
func NewServer(logger logging.Logger, addr, service string, p PipelineStatus, backlog BacklogFunc, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = logging.NopLogger
	}

	s := &Server{
		logger:   logger,
		pipeline: p,
		backlog:  backlog,
		gatherer: gatherer,
		service:  service,
		router:   newEngine(),
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/status", s.status)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": s.service,
	})
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	pipeline.Status
	FilesInWindow int  `json:"files_in_window"`
	Backlog       *int `json:"backlog,omitempty"`
}

func (s *Server) status(c *gin.Context) {
	st := s.pipeline.Status()
	resp := StatusResponse{
		Status:        st,
		FilesInWindow: len(st.Window.Files),
	}

	if s.backlog != nil {
		backlog, err := s.backlog(c.Request.Context())
		if err != nil {
			s.logger.Error("Failed to read export backlog", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		resp.Backlog = &backlog
	}

	c.JSON(http.StatusOK, resp)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Status server listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
