package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chrisdamba/venuesim/internal/models"
)

const streamBuffer = 32

type streamEvent struct {
	name string
	data interface{}
}

// stream pushes refreshed samples and new alerts as server-sent events.
// Events are dropped for a client that falls behind.
func (s *Server) stream(c *gin.Context) {
	events := make(chan streamEvent, streamBuffer)
	offer := func(ev streamEvent) {
		select {
		case events <- ev:
		default:
		}
	}
	unsubscribe := s.sim.Subscribe(
		func(samples []models.DensitySample) { offer(streamEvent{name: "samples", data: samples}) },
		func(alert models.AlertEvent) { offer(streamEvent{name: "alert", data: alert}) },
	)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-events:
			c.SSEvent(ev.name, ev.data)
			return true
		}
	})
}
