package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chrisdamba/venuesim/internal/detection"
	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/session"
	"github.com/chrisdamba/venuesim/pkg/response"
)

type sessionResponse struct {
	Principal session.Principal `json:"principal"`
	Token     string            `json:"token,omitempty"`
}

type emergencyRequest struct {
	Message string `json:"message"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"running":        s.sim.Running(),
		"ticks":          s.sim.Ticks(),
		"write_failures": s.sim.WriteFailures(),
	})
}

func (s *Server) login(c *gin.Context) {
	var creds session.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, token, err := s.sessions.Login(c.Request.Context(), creds)
	if err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, sessionResponse{Principal: p, Token: token})
}

func (s *Server) register(c *gin.Context) {
	var reg session.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, token, err := s.sessions.Register(c.Request.Context(), reg)
	if err != nil {
		s.fail(c, err)
		return
	}
	response.Created(c, sessionResponse{Principal: p, Token: token})
}

func (s *Server) logout(c *gin.Context) {
	if err := s.sessions.Logout(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *Server) currentSession(c *gin.Context) {
	response.Success(c, sessionResponse{Principal: principal(c)})
}

func (s *Server) updateDuty(c *gin.Context) {
	var update session.DutyUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := s.sessions.SetDutyStatus(c.Request.Context(), update)
	if err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, sessionResponse{Principal: p})
}

func (s *Server) listAreas(c *gin.Context) {
	response.Success(c, s.sim.Areas())
}

func (s *Server) listSamples(c *gin.Context) {
	response.Success(c, s.sim.Samples())
}

func (s *Server) heatmap(c *gin.Context) {
	count := s.config.API.HeatmapPoints
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxHeatmapPoints {
			response.BadRequest(c, "count must be between 0 and "+strconv.Itoa(maxHeatmapPoints))
			return
		}
		count = n
	}
	response.Success(c, s.sim.Heatmap(count))
}

func (s *Server) listAlerts(c *gin.Context) {
	status := c.DefaultQuery("status", models.AlertStatusAll)
	switch status {
	case models.AlertStatusAll, models.AlertStatusActive, models.AlertStatusInProgress, models.AlertStatusResolved:
	default:
		response.BadRequest(c, "status must be one of all, active, in_progress, resolved")
		return
	}
	response.Success(c, s.sim.Alerts(status))
}

func (s *Server) createAlert(c *gin.Context) {
	var req models.CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	alert, err := s.sim.CreateAlert(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	response.Created(c, alert)
}

func (s *Server) respondToAlert(c *gin.Context) {
	alert, err := s.sim.RespondToAlert(c.Param("id"), principal(c).Email)
	if err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, alert)
}

func (s *Server) resolveAlert(c *gin.Context) {
	alert, err := s.sim.ResolveAlert(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, alert)
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	if err := s.sim.AcknowledgeAlert(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *Server) clearAlerts(c *gin.Context) {
	response.Success(c, gin.H{"cleared": s.sim.ClearAlerts()})
}

func (s *Server) emergency(c *gin.Context) {
	var req emergencyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	p := principal(c)
	response.Created(c, s.sim.RaiseEmergency(p.Role, p.Email, req.Message))
}

// uploadDetection accepts either a multipart "image" file or its JSON metadata.
func (s *Server) uploadDetection(c *gin.Context) {
	var upload detection.Upload
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		upload = detection.Upload{Filename: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Size: fh.Size}
	} else if err := c.ShouldBindJSON(&upload); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	task, err := s.detections.AnalyzeUpload(context.WithoutCancel(c.Request.Context()), upload)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.awaitDetection(c, task)
}

func (s *Server) captureDetection(c *gin.Context) {
	task, err := s.detections.CaptureFrame(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.awaitDetection(c, task)
}

// awaitDetection holds the request until the analysis settles. An analysis
// superseded by a newer one answers 409.
func (s *Server) awaitDetection(c *gin.Context, task *detection.Task) {
	result, err := task.Wait(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, result)
}

func (s *Server) startCamera(c *gin.Context) {
	if err := s.detections.StartStream(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, gin.H{"streaming": true})
}

func (s *Server) stopCamera(c *gin.Context) {
	if err := s.detections.StopStream(); err != nil {
		s.fail(c, err)
		return
	}
	response.Success(c, gin.H{"streaming": false})
}
