// Package detection simulates the secondary threat-detection feature. There
// is no model behind it: each analysis waits a fixed delay and then draws its
// verdict from an injected random.Source.
package detection

import (
	"context"
	"errors"
	"time"

	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/random"
)

var (
	ErrCanceled               = errors.New("analysis canceled")
	ErrStreamInactive         = errors.New("camera stream is not active")
	ErrCameraPermissionDenied = errors.New("camera permission denied")
)

const (
	minConfidence   = 70
	confidenceRange = 30

	uploadLocation  = "Frame center"
	captureLocation = "Lower right quadrant"
)

type Detector struct {
	src random.Source
	cfg models.DetectionConfig
	now func() time.Time
}

func NewDetector(src random.Source, cfg models.DetectionConfig) *Detector {
	return &Detector{src: src, cfg: cfg, now: time.Now}
}

// Delay is the simulated analysis latency for mode.
func (d *Detector) Delay(mode string) time.Duration {
	if mode == models.DetectionModeCapture {
		return d.cfg.CaptureDelay
	}
	return d.cfg.UploadDelay
}

// Evaluate draws a verdict immediately. Negative results carry no type,
// confidence or location.
func (d *Detector) Evaluate(mode string) models.DetectionResult {
	p, location := d.cfg.UploadThreatProbability, uploadLocation
	if mode == models.DetectionModeCapture {
		p, location = d.cfg.CaptureThreatProbability, captureLocation
	}

	result := models.DetectionResult{Mode: mode, AnalyzedAt: d.now()}
	if !random.Chance(d.src, p) {
		return result
	}
	result.Threat = true
	result.Type = random.Pick(d.src, models.ThreatTypes)
	result.Confidence = minConfidence + d.src.Intn(confidenceRange)
	result.Location = location
	return result
}

// Analyze starts a cancellable analysis that resolves after Delay(mode).
func (d *Detector) Analyze(ctx context.Context, mode string) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{mode: mode, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()

		timer := time.NewTimer(d.Delay(mode))
		defer timer.Stop()

		select {
		case <-ctx.Done():
			t.err = ErrCanceled
		case <-timer.C:
			if ctx.Err() != nil {
				t.err = ErrCanceled
				return
			}
			t.result = d.Evaluate(mode)
		}
	}()
	return t
}

// Task is a handle on one in-flight analysis.
type Task struct {
	mode   string
	cancel context.CancelFunc
	done   chan struct{}

	result models.DetectionResult
	err    error
}

func (t *Task) Mode() string { return t.mode }

// Done is closed once the task has a result or was canceled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel stops the task. It is safe to call more than once and after completion.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task finishes or ctx ends. A ctx expiry does not
// cancel the task itself.
func (t *Task) Wait(ctx context.Context) (models.DetectionResult, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return models.DetectionResult{}, ctx.Err()
	}
}
