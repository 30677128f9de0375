// Package simulator drives the venue dashboard: a scheduled refresh loop that
// re-randomizes crowd density per area and occasionally raises an alert.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/chrisdamba/venuesim/internal/alerts"
	"github.com/chrisdamba/venuesim/internal/factories"
	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/random"
)

const historyWindow = 24 * time.Hour

// AreaSyncer is implemented by outputs that keep their own copy of the
// venue layout.
type AreaSyncer interface {
	SyncAreas(ctx context.Context, areas []models.VenueArea) error
}

// AlertRestorer is implemented by outputs that can hand back alerts still
// open from a previous run.
type AlertRestorer interface {
	ActiveAlerts(ctx context.Context) ([]models.AlertEvent, error)
}

type subscriber struct {
	onSample func([]models.DensitySample)
	onAlert  func(models.AlertEvent)
}

type Simulator struct {
	Config     *models.Config
	EventQueue *models.EventQueue

	src      random.Source
	factory  *factories.AlertFactory
	alerts   *alerts.Log
	areas    []models.VenueArea
	heatmap  HeatmapOptions
	validate *validator.Validate
	now      func() time.Time
	logger   zerolog.Logger

	outMu         sync.Mutex
	output        OutputDestination
	writeFailures atomic.Int64

	mu          sync.RWMutex
	samples     []models.DensitySample
	ticks       int
	currentTime time.Time
	initialized bool
	finished    bool

	subMu       sync.RWMutex
	subscribers map[int]subscriber
	nextSubID   int

	runMu       sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	progressOut io.Writer
}

type Option func(*Simulator)

func WithSource(src random.Source) Option {
	return func(s *Simulator) { s.src = src }
}

func WithOutput(out OutputDestination) Option {
	return func(s *Simulator) { s.output = out }
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithProgressWriter sets where the bounded-run progress bar is drawn.
func WithProgressWriter(w io.Writer) Option {
	return func(s *Simulator) { s.progressOut = w }
}

func NewSimulator(config *models.Config, opts ...Option) *Simulator {
	sim := &Simulator{
		Config:      config,
		EventQueue:  models.NewEventQueue(),
		areas:       config.Areas(),
		validate:    validator.New(),
		now:         time.Now,
		logger:      log.With().Str("component", "simulator").Logger(),
		subscribers: make(map[int]subscriber),
		progressOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(sim)
	}
	if sim.src == nil {
		sim.src = random.New(config.Seed)
	}
	sim.factory = factories.NewAlertFactory(sim.src)
	sim.alerts = alerts.NewLog(config.AlertLogCapacity)
	sim.heatmap = HeatmapOptions{
		Jitter:             config.HeatmapJitter,
		CoreRadius:         config.HeatmapCoreRadius,
		HotspotProbability: config.HotspotProbability,
		Areas:              sim.areas,
	}
	return sim
}

// Initialize schedules the first refresh at start and the incoming alert
// after its delay. It runs once; later calls are no-ops.
func (s *Simulator) Initialize(ctx context.Context, start time.Time) {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	s.currentTime = start
	s.mu.Unlock()

	if syncer, ok := s.output.(AreaSyncer); ok {
		if err := syncer.SyncAreas(ctx, s.areas); err != nil {
			s.logger.Warn().Err(err).Msg("failed to sync venue areas to output")
		}
	}
	if restorer, ok := s.output.(AlertRestorer); ok {
		restored, err := restorer.ActiveAlerts(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to restore open alerts")
		}
		for _, alert := range restored {
			s.alerts.Append(alert)
		}
	}
	if s.Config.SeedAlerts > 0 {
		for _, alert := range s.factory.CreateHistoricalAlerts(s.Config.SeedAlerts, s.areas, start, historyWindow) {
			s.alerts.Append(alert)
		}
	}

	s.EventQueue.Enqueue(&models.Event{Time: start, Type: models.EventRefreshDensity})
	if s.Config.IncomingAlertDelay > 0 {
		s.EventQueue.Enqueue(&models.Event{Time: start.Add(s.Config.IncomingAlertDelay), Type: models.EventIncomingAlert})
	}
	s.logger.Info().
		Int("areas", len(s.areas)).
		Dur("refresh_interval", s.Config.RefreshInterval).
		Float64("alert_probability", s.Config.AlertProbability).
		Msg("simulation initialized")
}

// Step processes every event due at or before now and reports how many ran.
func (s *Simulator) Step(now time.Time) int {
	processed := 0
	for {
		event := s.EventQueue.DequeueDue(now)
		if event == nil {
			return processed
		}
		s.processEvent(event, now)
		processed++
	}
}

func (s *Simulator) processEvent(event *models.Event, now time.Time) {
	switch event.Type {
	case models.EventRefreshDensity:
		s.handleRefreshDensity(now)
		if !s.Finished() {
			s.EventQueue.Enqueue(&models.Event{Time: nextSlot(event.Time, now, s.Config.RefreshInterval), Type: models.EventRefreshDensity})
		}
	case models.EventIncomingAlert:
		s.raise(s.factory.CreateIncomingAlert(now))
		if s.Config.IncomingAlertRearm {
			s.EventQueue.Enqueue(&models.Event{Time: nextSlot(event.Time, now, s.Config.IncomingAlertDelay), Type: models.EventIncomingAlert})
		}
	default:
		s.logger.Warn().Str("type", event.Type).Msg("ignoring unknown event")
	}
}

// nextSlot keeps a repeating event on its original cadence: the next due
// time is due plus a whole number of intervals, and the first one strictly
// after now. Missed slots are skipped rather than replayed.
func nextSlot(due, now time.Time, interval time.Duration) time.Time {
	next := due.Add(interval)
	if next.After(now) {
		return next
	}
	missed := now.Sub(next)/interval + 1
	return next.Add(missed * interval)
}

func (s *Simulator) handleRefreshDensity(now time.Time) {
	samples := make([]models.DensitySample, len(s.areas))
	for i, area := range s.areas {
		samples[i] = models.DensitySample{
			AreaID:    area.ID,
			Density:   s.src.Float64() * 100,
			Timestamp: now,
		}
	}

	var alert *models.AlertEvent
	if len(s.areas) > 0 && random.Chance(s.src, s.Config.AlertProbability) {
		a := s.factory.CreateSimulatedAlert(s.areas, now)
		alert = &a
	}

	s.mu.Lock()
	s.samples = samples
	s.ticks++
	tick := s.ticks
	s.currentTime = now
	if s.Config.MaxTicks > 0 && s.ticks >= s.Config.MaxTicks {
		s.finished = true
	}
	s.mu.Unlock()

	for i, sample := range samples {
		s.publish(models.TopicDensitySamples, newDensitySampleEvent(tick, s.areas[i], sample))
	}
	for _, sub := range s.snapshotSubscribers() {
		if sub.onSample != nil {
			sub.onSample(copySamples(samples))
		}
	}
	if alert != nil {
		s.raise(*alert)
	}
}

// raise appends alert to the log, publishes it, and notifies subscribers.
func (s *Simulator) raise(alert models.AlertEvent) models.AlertEvent {
	if evicted, ok := s.alerts.Append(alert); ok {
		s.logger.Debug().Str("alert_id", evicted.ID).Msg("alert log full, evicted oldest alert")
	}
	s.logger.Info().Str("alert_id", alert.ID).Str("type", alert.Type).Str("location", alert.Location).Str("source", alert.Source).Msg("alert raised")

	s.publish(models.TopicAlertEvents, newAlertRaisedEvent(alert))
	for _, sub := range s.snapshotSubscribers() {
		if sub.onAlert != nil {
			sub.onAlert(alert)
		}
	}
	return alert
}

// Run drives Step from a ticker until ctx ends, Stop is called, or a
// bounded run reaches max_ticks.
func (s *Simulator) Run(ctx context.Context) error {
	s.Initialize(ctx, s.now())

	var bar *progressbar.ProgressBar
	if s.Config.MaxTicks > 0 {
		bar = progressbar.NewOptions(s.Config.MaxTicks,
			progressbar.OptionSetWriter(s.progressOut),
			progressbar.OptionSetDescription("refresh ticks"),
			progressbar.OptionShowCount(),
		)
	}

	ticker := time.NewTicker(s.Config.TickResolution)
	defer ticker.Stop()

	s.logger.Info().Dur("tick_resolution", s.Config.TickResolution).Msg("simulation loop started")
	lastTicks := 0
	for {
		s.Step(s.now())
		if bar != nil {
			if ticks := s.Ticks(); ticks > lastTicks {
				_ = bar.Add(ticks - lastTicks)
				lastTicks = ticks
			}
		}
		if s.Finished() {
			if bar != nil {
				_ = bar.Finish()
			}
			s.logger.Info().Int("ticks", s.Ticks()).Int64("write_failures", s.WriteFailures()).Msg("simulation completed")
			return nil
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Int("ticks", s.Ticks()).Msg("simulation loop stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start launches Run in the background. Calling Start while running is a no-op.
func (s *Simulator) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			s.logger.Error().Err(err).Msg("simulation loop failed")
		}
	}()
}

// Stop cancels a running loop and waits for it to exit. It is safe to call
// without a prior Start.
func (s *Simulator) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

// Running reports whether a loop started by Start is still active.
func (s *Simulator) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Subscribe registers callbacks invoked after each refresh and each new
// alert. Either may be nil. Refreshes notify from the loop goroutine, but
// alerts raised through CreateAlert, RaiseEmergency or RecordDetection notify
// from the caller's goroutine, so callbacks may run concurrently and must be
// safe for that.
func (s *Simulator) Subscribe(onSample func([]models.DensitySample), onAlert func(models.AlertEvent)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = subscriber{onSample: onSample, onAlert: onAlert}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Simulator) snapshotSubscribers() []subscriber {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	subs := make([]subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

func (s *Simulator) AcknowledgeAlert(id string) error {
	alert, err := s.alerts.Acknowledge(id)
	if err != nil {
		return err
	}
	s.logger.Info().Str("alert_id", alert.ID).Msg("alert acknowledged")
	s.publish(models.TopicAlertAcknowledgements, newAcknowledgementEvent(ActionAcknowledged, alert.ID, 1, s.now()))
	return nil
}

// RespondToAlert records that the security user with email has taken the
// alert. Only active alerts change; the acknowledgement is published either way.
func (s *Simulator) RespondToAlert(id, email string) (models.AlertEvent, error) {
	alert, err := s.alerts.Respond(id, email)
	if err != nil {
		return models.AlertEvent{}, err
	}
	s.logger.Info().Str("alert_id", alert.ID).Str("responder", alert.RespondedBy).Msg("alert in progress")
	ack := newAcknowledgementEvent(ActionResponded, alert.ID, 1, s.now())
	ack.Actor = alert.RespondedBy
	s.publish(models.TopicAlertAcknowledgements, ack)
	return alert, nil
}

func (s *Simulator) ResolveAlert(id string) (models.AlertEvent, error) {
	alert, err := s.alerts.Resolve(id)
	if err != nil {
		return models.AlertEvent{}, err
	}
	s.publish(models.TopicAlertAcknowledgements, newAcknowledgementEvent(ActionResolved, alert.ID, 1, s.now()))
	return alert, nil
}

// ClearAlerts empties the log and reports how many alerts were dropped.
func (s *Simulator) ClearAlerts() int {
	n := s.alerts.Clear()
	s.logger.Info().Int("count", n).Msg("alerts cleared")
	s.publish(models.TopicAlertAcknowledgements, newAcknowledgementEvent(ActionCleared, "", n, s.now()))
	return n
}

// CreateAlert raises a manual alert from a validated form. Nothing is
// recorded when validation fails.
func (s *Simulator) CreateAlert(req models.CreateAlertRequest) (models.AlertEvent, error) {
	if err := s.validate.Struct(req); err != nil {
		return models.AlertEvent{}, fmt.Errorf("invalid alert: %w", err)
	}
	return s.raise(s.factory.CreateManualAlert(req, s.areas, s.now())), nil
}

// RaiseEmergency records an admin broadcast or a security backup request.
func (s *Simulator) RaiseEmergency(role, email, message string) models.AlertEvent {
	return s.raise(s.factory.CreateEmergencyAlert(role, email, message, s.now()))
}

// RecordDetection publishes a finished analysis and, when configured,
// escalates a threat into the alert log.
func (s *Simulator) RecordDetection(result models.DetectionResult) (*models.AlertEvent, error) {
	s.publish(models.TopicDetectionResults, newDetectionResultEvent(result))
	if !result.Threat || !s.Config.Detection.EscalateThreats {
		return nil, nil
	}
	alert := s.raise(s.factory.CreateDetectionAlert(result, ""))
	return &alert, nil
}

func (s *Simulator) Alerts(status string) []models.AlertEvent {
	return s.alerts.List(status)
}

func (s *Simulator) Alert(id string) (models.AlertEvent, error) {
	return s.alerts.Get(id)
}

// Samples returns the latest reading per area.
func (s *Simulator) Samples() []models.DensitySample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySamples(s.samples)
}

func (s *Simulator) Areas() []models.VenueArea {
	areas := make([]models.VenueArea, len(s.areas))
	copy(areas, s.areas)
	return areas
}

func (s *Simulator) Heatmap(count int) []models.HeatmapPoint {
	return s.heatmap.Generate(s.src, s.Config.VenueCenter(), count)
}

func (s *Simulator) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Snapshot{
		Areas:       s.Areas(),
		Samples:     copySamples(s.samples),
		Alerts:      s.alerts.List(models.AlertStatusAll),
		Ticks:       s.ticks,
		CurrentTime: s.currentTime,
	}
}

func (s *Simulator) Ticks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}

// Finished reports whether a bounded run has reached max_ticks.
func (s *Simulator) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

func (s *Simulator) WriteFailures() int64 {
	return s.writeFailures.Load()
}

// Close flushes and closes the output destination.
func (s *Simulator) Close() error {
	s.Stop()
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.output == nil {
		return nil
	}
	return s.output.Close()
}
