// Package api exposes the dashboard over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/chrisdamba/venuesim/internal/detection"
	"github.com/chrisdamba/venuesim/internal/logging"
	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/session"
	"github.com/chrisdamba/venuesim/internal/simulator"
)

const maxHeatmapPoints = 5000

type Server struct {
	config     *models.Config
	sim        *simulator.Simulator
	sessions   *session.Session
	detections *detection.Session
	logger     zerolog.Logger

	router *gin.Engine
	server *http.Server
}

func NewServer(cfg *models.Config, sim *simulator.Simulator, sessions *session.Session, detections *detection.Session) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:     cfg,
		sim:        sim,
		sessions:   sessions,
		detections: detections,
		logger:     logging.Component("api"),
		router:     gin.New(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)

	api := s.router.Group("/api")

	api.POST("/session/login", s.login)
	api.POST("/session/register", s.register)

	authed := api.Group("", s.authenticate())
	{
		authed.POST("/session/logout", s.logout)
		authed.GET("/session", s.currentSession)
		authed.PUT("/session/duty", s.updateDuty)

		authed.GET("/areas", s.listAreas)
		authed.GET("/samples", s.listSamples)
		authed.GET("/heatmap", s.heatmap)
		authed.GET("/stream", s.stream)

		authed.GET("/alerts", s.listAlerts)
		authed.POST("/alerts", requireRole(models.RoleAdmin), s.createAlert)
		authed.POST("/alerts/:id/respond", requireRole(models.RoleSecurity), s.respondToAlert)
		authed.POST("/alerts/:id/resolve", requireRole(models.RoleAdmin), s.resolveAlert)
		authed.DELETE("/alerts/:id", s.acknowledgeAlert)
		authed.DELETE("/alerts", s.clearAlerts)
		authed.POST("/emergency", s.emergency)

		authed.POST("/detections/upload", s.uploadDetection)
		authed.POST("/detections/capture", s.captureDetection)
		authed.POST("/camera/start", s.startCamera)
		authed.POST("/camera/stop", s.stopCamera)
	}
}

// Run serves until ctx ends, then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("stopping API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.API.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API shutdown: %w", err)
	}
	return nil
}
