package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisdamba/venuesim/internal/alerts"
	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/random"
)

var t0 = time.Date(2025, 4, 4, 18, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *models.Config {
	t.Helper()
	v := viper.New()
	models.SetDefaults(v)
	cfg, err := models.DecodeConfig(v)
	require.NoError(t, err)
	return cfg
}

type recordingOutput struct {
	mu       sync.Mutex
	messages []models.EventMessage
	err      error
	closed   bool
}

func (r *recordingOutput) WriteMessage(topic string, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, models.EventMessage{Topic: topic, Message: msg})
	return r.err
}

func (r *recordingOutput) Close() error {
	r.closed = true
	return nil
}

func (r *recordingOutput) topics() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, m := range r.messages {
		counts[m.Topic]++
	}
	return counts
}

func TestRefreshProducesOneSamplePerArea(t *testing.T) {
	cfg := testConfig(t)
	cfg.IncomingAlertDelay = 0
	sim := NewSimulator(cfg, WithSource(random.New(7)), WithClock(func() time.Time { return t0 }))
	sim.Initialize(context.Background(), t0)

	for i := 0; i < 50; i++ {
		now := t0.Add(time.Duration(i) * cfg.RefreshInterval)
		require.Equal(t, 1, sim.Step(now))

		samples := sim.Samples()
		require.Len(t, samples, len(sim.Areas()))
		seen := make(map[string]bool)
		for j, sample := range samples {
			assert.Equal(t, sim.Areas()[j].ID, sample.AreaID)
			assert.GreaterOrEqual(t, sample.Density, 0.0)
			assert.Less(t, sample.Density, 100.0)
			assert.Equal(t, now, sample.Timestamp)
			seen[sample.AreaID] = true
		}
		assert.Len(t, seen, len(samples))
	}
	assert.Equal(t, 50, sim.Ticks())
}

func TestRefreshClassifiesSeededDensities(t *testing.T) {
	cfg := testConfig(t)
	cfg.VenueAreas = []models.AreaConfig{
		{ID: "A1", Name: "Main Stage"},
		{ID: "A2", Name: "Food Court"},
		{ID: "A3", Name: "VIP Area"},
	}
	sim := NewSimulator(cfg, WithSource(random.NewSequence(0.8, 0.6, 0.1, 0.99)))
	sim.Initialize(context.Background(), t0)
	sim.Step(t0)

	var tiers []models.RiskTier
	for _, s := range sim.Samples() {
		tiers = append(tiers, s.Tier())
	}
	assert.Equal(t, []models.RiskTier{models.RiskHigh, models.RiskModerate, models.RiskLow}, tiers)
	assert.Empty(t, sim.Alerts(models.AlertStatusAll))
}

func TestStepReschedulesRefresh(t *testing.T) {
	cfg := testConfig(t)
	cfg.IncomingAlertDelay = 0
	sim := NewSimulator(cfg, WithSource(random.New(1)))

	assert.Zero(t, sim.Step(t0), "nothing is scheduled before Initialize")
	sim.Initialize(context.Background(), t0)
	sim.Initialize(context.Background(), t0.Add(time.Hour))

	assert.Equal(t, 1, sim.Step(t0))
	assert.Zero(t, sim.Step(t0.Add(4*time.Second)))
	assert.Equal(t, 1, sim.Step(t0.Add(5*time.Second)))

	// a late step runs a single refresh and skips ahead to the next slot on the original cadence
	assert.Equal(t, 1, sim.Step(t0.Add(time.Minute)))
	assert.Zero(t, sim.Step(t0.Add(time.Minute+4*time.Second)))
	assert.Equal(t, 1, sim.Step(t0.Add(time.Minute+5*time.Second)))
}

func TestLateStepKeepsSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.AlertProbability = 0
	sim := NewSimulator(cfg, WithSource(random.New(1)))
	sim.Initialize(context.Background(), t0)

	require.Equal(t, 1, sim.Step(t0))
	require.Equal(t, 1, sim.Step(t0.Add(5*time.Second+time.Millisecond)))
	assert.Equal(t, 1, sim.Step(t0.Add(10*time.Second)))

	// refresh due at 15s and the incoming alert due at 45s both run late
	assert.Equal(t, 2, sim.Step(t0.Add(46*time.Second)))
	assert.Equal(t, 1, sim.Step(t0.Add(50*time.Second)))
	for now := t0.Add(55 * time.Second); !now.After(t0.Add(90 * time.Second)); now = now.Add(5 * time.Second) {
		sim.Step(now)
	}

	incoming := sim.Alerts(models.AlertStatusAll)
	require.Len(t, incoming, 2)
	assert.Equal(t, t0.Add(46*time.Second), incoming[0].Timestamp)
	assert.Equal(t, t0.Add(90*time.Second), incoming[1].Timestamp)
}

func TestTickerOffsetDoesNotStretchInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.AlertProbability = 0
	cfg.IncomingAlertDelay = 0
	sim := NewSimulator(cfg, WithSource(random.New(1)))
	sim.Initialize(context.Background(), t0)

	// a 250ms ticker that always fires 10ms after the slot boundary
	for k := 0; k <= 240; k++ {
		sim.Step(t0.Add(10*time.Millisecond + time.Duration(k)*cfg.TickResolution))
	}
	assert.Equal(t, 13, sim.Ticks(), "one refresh per 5s over 60s, both ends included")
}

func TestNextSlot(t *testing.T) {
	interval := 5 * time.Second
	cases := []struct {
		name     string
		due, now time.Duration
		want     time.Duration
	}{
		{"on time", 5 * time.Second, 5 * time.Second, 10 * time.Second},
		{"slightly late", 5 * time.Second, 5*time.Second + time.Millisecond, 10 * time.Second},
		{"one slot behind", 5 * time.Second, 10 * time.Second, 15 * time.Second},
		{"far behind", 5 * time.Second, 62 * time.Second, 65 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextSlot(t0.Add(tc.due), t0.Add(tc.now), interval)
			assert.Equal(t, t0.Add(tc.want), got)
		})
	}
}

func TestAlertRateConvergesToProbability(t *testing.T) {
	cfg := testConfig(t)
	cfg.IncomingAlertDelay = 0
	sim := NewSimulator(cfg, WithSource(random.New(2025)))

	simulated := 0
	sim.Subscribe(nil, func(a models.AlertEvent) {
		if a.Source == models.AlertSourceSimulated {
			simulated++
		}
	})
	sim.Initialize(context.Background(), t0)

	const ticks = 10000
	for i := 0; i < ticks; i++ {
		sim.Step(t0.Add(time.Duration(i) * cfg.RefreshInterval))
	}
	assert.Equal(t, ticks, sim.Ticks())
	assert.InDelta(t, 0.10, float64(simulated)/ticks, 0.015)
	assert.Equal(t, cfg.AlertLogCapacity, len(sim.Alerts(models.AlertStatusAll)))
}

func TestSimulatedAlertUsesKnownTypeAndArea(t *testing.T) {
	cfg := testConfig(t)
	cfg.AlertProbability = 1
	sim := NewSimulator(cfg, WithSource(random.New(3)))
	sim.Initialize(context.Background(), t0)
	sim.Step(t0)

	list := sim.Alerts(models.AlertStatusActive)
	require.Len(t, list, 1)
	alert := list[0]
	assert.Contains(t, models.AlertTypes, alert.Type)
	assert.Equal(t, models.AlertSourceSimulated, alert.Source)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	require.NotNil(t, alert.Coordinates)

	var names []string
	for _, a := range sim.Areas() {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, alert.Location)
}

func TestIncomingAlertRearms(t *testing.T) {
	for _, rearm := range []bool{true, false} {
		cfg := testConfig(t)
		cfg.AlertProbability = 0
		cfg.IncomingAlertRearm = rearm
		sim := NewSimulator(cfg, WithSource(random.New(4)))
		sim.Initialize(context.Background(), t0)

		for now := t0; !now.After(t0.Add(100 * time.Second)); now = now.Add(cfg.RefreshInterval) {
			sim.Step(now)
		}

		incoming := sim.Alerts(models.AlertStatusAll)
		if rearm {
			require.Len(t, incoming, 2)
			assert.Equal(t, t0.Add(45*time.Second), incoming[0].Timestamp)
			assert.Equal(t, t0.Add(90*time.Second), incoming[1].Timestamp)
		} else {
			require.Len(t, incoming, 1)
		}
		for _, a := range incoming {
			assert.Equal(t, models.AlertSourceIncoming, a.Source)
			assert.Equal(t, "All areas", a.Location)
		}
	}
}

func TestMaxTicksFinishesRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxTicks = 3
	sim := NewSimulator(cfg, WithSource(random.New(5)))
	sim.Initialize(context.Background(), t0)

	for i := 0; i < 10; i++ {
		sim.Step(t0.Add(time.Duration(i) * cfg.RefreshInterval))
	}
	assert.True(t, sim.Finished())
	assert.Equal(t, 3, sim.Ticks())
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	cfg := testConfig(t)
	cfg.AlertProbability = 1
	sim := NewSimulator(cfg, WithSource(random.New(6)))
	sim.Initialize(context.Background(), t0)

	var sampleCalls, alertCalls int
	unsubscribe := sim.Subscribe(func(samples []models.DensitySample) {
		sampleCalls++
		assert.Len(t, samples, 9)
	}, func(models.AlertEvent) {
		alertCalls++
	})

	sim.Step(t0)
	assert.Equal(t, 1, sampleCalls)
	assert.Equal(t, 1, alertCalls)

	unsubscribe()
	unsubscribe()
	sim.Step(t0.Add(cfg.RefreshInterval))
	assert.Equal(t, 1, sampleCalls)
	assert.Equal(t, 1, alertCalls)
}

func TestAlertSubscribersRunOnCallerGoroutines(t *testing.T) {
	sim := NewSimulator(testConfig(t), WithSource(random.New(6)))
	sim.Initialize(context.Background(), t0)

	var (
		mu   sync.Mutex
		seen []string
	)
	sim.Subscribe(nil, func(alert models.AlertEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, alert.ID)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sim.CreateAlert(models.CreateAlertRequest{Title: "Spill", Description: "d", Location: "Food Court"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 8)
	assert.ElementsMatch(t, ids(sim.Alerts(models.AlertStatusAll)), seen)
}

func TestAlertOperationsPublishAcknowledgements(t *testing.T) {
	cfg := testConfig(t)
	cfg.AlertProbability = 1
	out := &recordingOutput{}
	sim := NewSimulator(cfg, WithSource(random.New(8)), WithOutput(out), WithClock(func() time.Time { return t0 }))
	sim.Initialize(context.Background(), t0)
	for i := 0; i < 4; i++ {
		sim.Step(t0.Add(time.Duration(i) * cfg.RefreshInterval))
	}

	all := sim.Alerts(models.AlertStatusAll)
	require.Len(t, all, 4)

	require.NoError(t, sim.AcknowledgeAlert(all[1].ID))
	remaining := sim.Alerts(models.AlertStatusAll)
	assert.Equal(t, []string{all[0].ID, all[2].ID, all[3].ID}, ids(remaining))
	assert.ErrorIs(t, sim.AcknowledgeAlert(all[1].ID), alerts.ErrNotFound)

	responded, err := sim.RespondToAlert(all[0].ID, "guard@venue.test")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusInProgress, responded.Status)
	assert.Equal(t, "guard@venue.test", responded.RespondedBy)
	_, err = sim.RespondToAlert(all[1].ID, "guard@venue.test")
	assert.ErrorIs(t, err, alerts.ErrNotFound)

	resolved, err := sim.ResolveAlert(all[2].ID)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved())
	assert.Equal(t, []string{all[2].ID}, ids(sim.Alerts(models.AlertStatusResolved)))
	assert.Equal(t, []string{all[0].ID}, ids(sim.Alerts(models.AlertStatusInProgress)))
	assert.Equal(t, []string{all[3].ID}, ids(sim.Alerts(models.AlertStatusActive)))

	assert.Equal(t, 3, sim.ClearAlerts())
	assert.Empty(t, sim.Alerts(models.AlertStatusAll))
	assert.Zero(t, sim.ClearAlerts())

	topics := out.topics()
	assert.Equal(t, 36, topics[models.TopicDensitySamples])
	assert.Equal(t, 4, topics[models.TopicAlertEvents])
	assert.Equal(t, 5, topics[models.TopicAlertAcknowledgements])

	var respondedEvent AlertAcknowledgementEvent
	for _, m := range out.messages {
		if m.Topic != models.TopicAlertAcknowledgements {
			continue
		}
		var ack AlertAcknowledgementEvent
		require.NoError(t, json.Unmarshal(m.Message, &ack))
		if ack.Action == ActionResponded {
			respondedEvent = ack
		}
	}
	assert.Equal(t, "AlertResponded", respondedEvent.EventType)
	assert.Equal(t, all[0].ID, respondedEvent.AlertID)
	assert.Equal(t, "guard@venue.test", respondedEvent.Actor)

	var last AlertAcknowledgementEvent
	require.NoError(t, json.Unmarshal(out.messages[len(out.messages)-2].Message, &last))
	assert.Equal(t, ActionCleared, last.Action)
	assert.Equal(t, int64(3), last.Count)
	assert.Equal(t, t0.Unix(), last.Timestamp)
}

func TestCreateAlertValidatesForm(t *testing.T) {
	sim := NewSimulator(testConfig(t), WithSource(random.New(9)))

	_, err := sim.CreateAlert(models.CreateAlertRequest{Title: "Blocked exit"})
	require.Error(t, err)
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Empty(t, sim.Alerts(models.AlertStatusAll))

	alert, err := sim.CreateAlert(models.CreateAlertRequest{
		Title:       "Blocked exit",
		Description: "Fire door propped shut",
		Location:    "food_court",
	})
	require.NoError(t, err)
	assert.Equal(t, "Food Court", alert.Location)
	assert.Equal(t, models.SeverityMedium, alert.Severity)
	assert.Equal(t, models.AlertSourceManual, alert.Source)
	assert.Len(t, sim.Alerts(models.AlertStatusActive), 1)
}

func TestRecordDetectionEscalatesThreats(t *testing.T) {
	cfg := testConfig(t)
	out := &recordingOutput{}
	sim := NewSimulator(cfg, WithSource(random.New(10)), WithOutput(out))

	alert, err := sim.RecordDetection(models.DetectionResult{Mode: models.DetectionModeUpload, AnalyzedAt: t0})
	require.NoError(t, err)
	assert.Nil(t, alert)

	alert, err = sim.RecordDetection(models.DetectionResult{
		Threat: true, Type: models.ThreatKnife, Confidence: 88, Location: "Frame center",
		Mode: models.DetectionModeCapture, AnalyzedAt: t0,
	})
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.AlertTypePotentialWeapon, alert.Type)
	assert.Equal(t, models.AlertSourceDetection, alert.Source)

	cfg.Detection.EscalateThreats = false
	alert, err = sim.RecordDetection(models.DetectionResult{Threat: true, Type: models.ThreatGun, AnalyzedAt: t0})
	require.NoError(t, err)
	assert.Nil(t, alert)

	assert.Equal(t, 3, out.topics()[models.TopicDetectionResults])
	assert.Len(t, sim.Alerts(models.AlertStatusAll), 1)
}

func TestRaiseEmergency(t *testing.T) {
	sim := NewSimulator(testConfig(t), WithSource(random.New(11)))

	backup := sim.RaiseEmergency(models.RoleSecurity, "guard@venue.test", "")
	assert.Equal(t, "Backup requested", backup.Type)
	broadcast := sim.RaiseEmergency(models.RoleAdmin, "chief@venue.test", "Evacuate north stand")
	assert.Equal(t, "Emergency broadcast", broadcast.Type)
	assert.Contains(t, broadcast.Description, "Evacuate north stand")
	assert.Len(t, sim.Alerts(models.AlertStatusActive), 2)
}

func TestOutputFailuresAreCountedNotFatal(t *testing.T) {
	cfg := testConfig(t)
	out := &recordingOutput{err: errors.New("disk full")}
	sim := NewSimulator(cfg, WithSource(random.New(12)), WithOutput(out))
	sim.Initialize(context.Background(), t0)

	sim.Step(t0)
	sim.Step(t0.Add(cfg.RefreshInterval))

	assert.Equal(t, 2, sim.Ticks())
	assert.GreaterOrEqual(t, sim.WriteFailures(), int64(18))
}

func TestSeedAlertsBackfillsHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.SeedAlerts = 12
	sim := NewSimulator(cfg, WithSource(random.New(13)))
	sim.Initialize(context.Background(), t0)

	history := sim.Alerts(models.AlertStatusAll)
	require.Len(t, history, 12)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

type restoringOutput struct {
	recordingOutput
	synced   []models.VenueArea
	restored []models.AlertEvent
}

func (r *restoringOutput) SyncAreas(_ context.Context, areas []models.VenueArea) error {
	r.synced = areas
	return nil
}

func (r *restoringOutput) ActiveAlerts(context.Context) ([]models.AlertEvent, error) {
	return r.restored, nil
}

func TestInitializeSyncsAndRestoresThroughOutput(t *testing.T) {
	out := &restoringOutput{restored: []models.AlertEvent{{ID: "old", Type: models.AlertTypeFight, Source: models.AlertSourceSimulated}}}
	sim := NewSimulator(testConfig(t), WithSource(random.New(14)), WithOutput(out))
	sim.Initialize(context.Background(), t0)

	assert.Len(t, out.synced, 9)
	got, err := sim.Alert("old")
	require.NoError(t, err)
	assert.Equal(t, models.AlertTypeFight, got.Type)
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.TickResolution = 2 * time.Millisecond
	cfg.RefreshInterval = 5 * time.Millisecond
	sim := NewSimulator(cfg, WithSource(random.New(15)))

	sim.Start(context.Background())
	sim.Start(context.Background())
	assert.True(t, sim.Running())
	require.Eventually(t, func() bool { return sim.Ticks() >= 3 }, 2*time.Second, 5*time.Millisecond)

	sim.Stop()
	sim.Stop()
	assert.False(t, sim.Running())

	stopped := sim.Ticks()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, sim.Ticks())
}

func TestRunHonoursContextAndMaxTicks(t *testing.T) {
	cfg := testConfig(t)
	cfg.TickResolution = time.Millisecond
	cfg.RefreshInterval = time.Millisecond
	cfg.MaxTicks = 5
	out := &recordingOutput{}
	sim := NewSimulator(cfg, WithSource(random.New(16)), WithOutput(out), WithProgressWriter(io.Discard))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sim.Run(ctx))
	assert.Equal(t, 5, sim.Ticks())

	require.NoError(t, sim.Close())
	assert.True(t, out.closed)

	cfg2 := testConfig(t)
	sim2 := NewSimulator(cfg2, WithSource(random.New(17)))
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	assert.NoError(t, sim2.Run(ctx2))
	assert.Equal(t, 1, sim2.Ticks())
}

func TestSnapshot(t *testing.T) {
	sim := NewSimulator(testConfig(t), WithSource(random.New(18)))
	sim.Initialize(context.Background(), t0)
	sim.Step(t0)

	snap := sim.Snapshot()
	assert.Len(t, snap.Areas, 9)
	assert.Len(t, snap.Samples, 9)
	assert.Equal(t, 1, snap.Ticks)
	assert.Equal(t, t0, snap.CurrentTime)
}

func ids(list []models.AlertEvent) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}
