package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/chrisdamba/venuesim/internal/alerts"
	"github.com/chrisdamba/venuesim/internal/detection"
	"github.com/chrisdamba/venuesim/internal/session"
	"github.com/chrisdamba/venuesim/pkg/response"
)

const principalKey = "principal"

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(corsMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := s.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authenticate accepts a bearer token only while it matches the stored session.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}
		p, err := s.sessions.Authorize(c.Request.Context(), token)
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := session.CheckRole(principal(c), roles...); err != nil {
			response.Forbidden(c, err.Error())
			c.Abort()
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) session.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(session.Principal); ok {
			return p
		}
	}
	return session.Principal{}
}

// fail maps domain errors onto response codes.
func (s *Server) fail(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		response.Invalid(c, err)
	case errors.Is(err, session.ErrUnauthenticated):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, session.ErrForbidden), errors.Is(err, detection.ErrCameraPermissionDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, alerts.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, detection.ErrStreamInactive), errors.Is(err, detection.ErrCanceled):
		response.Conflict(c, err.Error())
	default:
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		response.InternalError(c, "internal error")
	}
}
