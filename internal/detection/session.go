package detection

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/chrisdamba/venuesim/internal/models"
)

// Upload describes a submitted image. Only its metadata takes part in the
// simulated analysis.
type Upload struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"contentType" validate:"required,startswith=image/"`
	Size        int64  `json:"size" validate:"gt=0"`
}

// Session serializes analyses for one operator: starting a new analysis
// cancels the one still in flight, and only the newest result reaches
// onResult.
type Session struct {
	detector *Detector
	camera   Camera
	validate *validator.Validate
	onResult func(models.DetectionResult)

	mu        sync.Mutex
	current   *Task
	streaming bool
}

func NewSession(detector *Detector, camera Camera, onResult func(models.DetectionResult)) *Session {
	return &Session{
		detector: detector,
		camera:   camera,
		validate: validator.New(),
		onResult: onResult,
	}
}

func (s *Session) AnalyzeUpload(ctx context.Context, upload Upload) (*Task, error) {
	if err := s.validate.Struct(upload); err != nil {
		return nil, fmt.Errorf("invalid upload: %w", err)
	}
	return s.start(ctx, models.DetectionModeUpload), nil
}

// CaptureFrame analyses the current camera frame. It fails with
// ErrStreamInactive unless StartStream succeeded.
func (s *Session) CaptureFrame(ctx context.Context) (*Task, error) {
	s.mu.Lock()
	active := s.streaming
	s.mu.Unlock()
	if !active {
		return nil, ErrStreamInactive
	}
	return s.start(ctx, models.DetectionModeCapture), nil
}

// StartStream opens the camera. A denial leaves the stream inactive and is
// not retried.
func (s *Session) StartStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return nil
	}
	if err := s.camera.Open(ctx); err != nil {
		log.Warn().Err(err).Str("component", "detection").Msg("camera unavailable")
		return fmt.Errorf("error starting camera stream: %w", err)
	}
	s.streaming = true
	return nil
}

// StopStream closes the camera and cancels a pending frame capture.
func (s *Session) StopStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return nil
	}
	s.streaming = false
	if s.current != nil && s.current.Mode() == models.DetectionModeCapture {
		s.current.Cancel()
		s.current = nil
	}
	return s.camera.Close()
}

func (s *Session) StreamActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Current returns the in-flight task, if any.
func (s *Session) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cancel drops the in-flight task without starting another.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Cancel()
		s.current = nil
	}
}

func (s *Session) start(ctx context.Context, mode string) *Task {
	s.mu.Lock()
	if s.current != nil {
		s.current.Cancel()
	}
	task := s.detector.Analyze(ctx, mode)
	s.current = task
	s.mu.Unlock()

	go s.deliver(task)
	return task
}

func (s *Session) deliver(task *Task) {
	<-task.Done()

	s.mu.Lock()
	if s.current != task {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.mu.Unlock()

	if task.err != nil || s.onResult == nil {
		return
	}
	s.onResult(task.result)
}
