package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisdamba/venuesim/internal/detection"
	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/random"
	"github.com/chrisdamba/venuesim/internal/session"
	"github.com/chrisdamba/venuesim/internal/simulator"
	"github.com/chrisdamba/venuesim/pkg/response"
)

var t0 = time.Date(2025, 4, 4, 18, 0, 0, 0, time.UTC)

type fixture struct {
	cfg    *models.Config
	sim    *simulator.Simulator
	server *Server
}

func newFixture(t *testing.T, mutate func(*models.Config)) *fixture {
	t.Helper()
	v := viper.New()
	models.SetDefaults(v)
	cfg, err := models.DecodeConfig(v)
	require.NoError(t, err)
	cfg.AlertProbability = 0
	cfg.IncomingAlertDelay = 0
	cfg.Detection.UploadDelay = time.Millisecond
	cfg.Detection.CaptureDelay = time.Millisecond
	cfg.Detection.UploadThreatProbability = 1
	cfg.Detection.CaptureThreatProbability = 0
	if mutate != nil {
		mutate(cfg)
	}

	sim := simulator.NewSimulator(cfg,
		simulator.WithSource(random.New(1)),
		simulator.WithClock(func() time.Time { return t0 }),
	)
	sim.Initialize(context.Background(), t0)
	sim.Step(t0)

	sessions := session.New(session.NewMemoryStore(), session.NewTokenIssuer("test-secret", "venuesim", time.Hour), session.Options{})
	detector := detection.NewDetector(random.New(2), cfg.Detection)
	camera := &detection.SimulatedCamera{Permitted: cfg.Detection.CameraPermitted}
	detections := detection.NewSession(detector, camera, func(r models.DetectionResult) {
		_, _ = sim.RecordDetection(r)
	})

	return &fixture{cfg: cfg, sim: sim, server: NewServer(cfg, sim, sessions, detections)}
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T, email, role string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/session/login", "", session.Credentials{Email: email, Password: "secret", Role: role})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data sessionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.Token)
	return body.Data.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response.Response {
	t.Helper()
	resp := response.Response{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ticks":1`)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/alerts", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/alerts", "garbage", nil).Code)

	token := f.login(t, "guard@venue.test", models.RoleSecurity)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/alerts", token, nil).Code)
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/session/login", "", map[string]string{"email": "guard@venue.test"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, []string{"Password"}, resp.Fields)

	w = f.do(t, http.MethodGet, "/api/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterAndCurrentSession(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/session/register", "", session.Registration{
		Name: "Ada", Email: "ada@venue.test", Password: "longenough", ConfirmPassword: "longenough", Role: models.RoleAdmin,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created sessionResponse
	decode(t, w, &created)

	w = f.do(t, http.MethodGet, "/api/session", created.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var current sessionResponse
	decode(t, w, &current)
	assert.Equal(t, "ada@venue.test", current.Principal.Email)
	assert.Equal(t, models.RoleAdmin, current.Principal.Role)
	assert.Equal(t, models.DutyAvailable, current.Principal.DutyStatus)
}

func TestTokenOfReplacedSessionIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	first := f.login(t, "first@venue.test", models.RoleSecurity)
	second := f.login(t, "second@venue.test", models.RoleSecurity)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/session", first, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/session", second, nil).Code)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	f := newFixture(t, nil)
	token := f.login(t, "guard@venue.test", models.RoleSecurity)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/session/logout", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/session", token, nil).Code)
}

func TestDutyStatus(t *testing.T) {
	f := newFixture(t, nil)
	token := f.login(t, "guard@venue.test", models.RoleSecurity)

	w := f.do(t, http.MethodPut, "/api/session/duty", token, session.DutyUpdate{Status: models.DutyBusy})
	require.Equal(t, http.StatusOK, w.Code)
	var updated sessionResponse
	decode(t, w, &updated)
	assert.Equal(t, models.DutyBusy, updated.Principal.DutyStatus)

	w = f.do(t, http.MethodPut, "/api/session/duty", token, session.DutyUpdate{Status: "asleep"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"Status"}, decode(t, w, nil).Fields)
}

func TestCreateAlertRequiresAdmin(t *testing.T) {
	f := newFixture(t, nil)
	req := models.CreateAlertRequest{Title: "Spill", Description: "Drinks on the floor", Location: "Food Court"}

	guard := f.login(t, "guard@venue.test", models.RoleSecurity)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/alerts", guard, req).Code)
	assert.Empty(t, f.sim.Alerts(models.AlertStatusAll))

	admin := f.login(t, "admin@venue.test", models.RoleAdmin)
	w := f.do(t, http.MethodPost, "/api/alerts", admin, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var alert models.AlertEvent
	decode(t, w, &alert)
	assert.Equal(t, "Food Court", alert.Location)
	assert.Equal(t, models.AlertSourceManual, alert.Source)

	w = f.do(t, http.MethodPost, "/api/alerts", admin, models.CreateAlertRequest{Location: "Food Court"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.ElementsMatch(t, []string{"Title", "Description"}, decode(t, w, nil).Fields)
	assert.Len(t, f.sim.Alerts(models.AlertStatusAll), 1)
}

func TestAlertLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.login(t, "admin@venue.test", models.RoleAdmin)

	var ids []string
	for _, title := range []string{"One", "Two", "Three"} {
		w := f.do(t, http.MethodPost, "/api/alerts", admin, models.CreateAlertRequest{Title: title, Description: "d", Location: "Main Stage"})
		require.Equal(t, http.StatusCreated, w.Code)
		var alert models.AlertEvent
		decode(t, w, &alert)
		ids = append(ids, alert.ID)
	}

	w := f.do(t, http.MethodPost, "/api/alerts/"+ids[0]+"/resolve", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resolved []models.AlertEvent
	decode(t, f.do(t, http.MethodGet, "/api/alerts?status=resolved", admin, nil), &resolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, ids[0], resolved[0].ID)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/alerts/"+ids[1], admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/alerts/"+ids[1], admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/alerts/missing/resolve", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/alerts?status=pending", admin, nil).Code)

	var remaining []models.AlertEvent
	decode(t, f.do(t, http.MethodGet, "/api/alerts", admin, nil), &remaining)
	require.Len(t, remaining, 2)
	assert.Equal(t, ids[0], remaining[0].ID)
	assert.Equal(t, ids[2], remaining[1].ID)

	var cleared map[string]int
	decode(t, f.do(t, http.MethodDelete, "/api/alerts", admin, nil), &cleared)
	assert.Equal(t, 2, cleared["cleared"])
	assert.Empty(t, f.sim.Alerts(models.AlertStatusAll))
}

func TestResolveRequiresAdmin(t *testing.T) {
	f := newFixture(t, nil)
	alert, err := f.sim.CreateAlert(models.CreateAlertRequest{Title: "Spill", Description: "d", Location: "Food Court"})
	require.NoError(t, err)

	guard := f.login(t, "guard@venue.test", models.RoleSecurity)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/alerts/"+alert.ID+"/resolve", guard, nil).Code)
	got, err := f.sim.Alert(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusActive, got.Status)
	assert.Empty(t, f.sim.Alerts(models.AlertStatusResolved))
}

func TestSecurityRespondsToAlert(t *testing.T) {
	f := newFixture(t, nil)
	var ids []string
	for _, title := range []string{"One", "Two"} {
		alert, err := f.sim.CreateAlert(models.CreateAlertRequest{Title: title, Description: "d", Location: "Main Stage"})
		require.NoError(t, err)
		ids = append(ids, alert.ID)
	}

	admin := f.login(t, "admin@venue.test", models.RoleAdmin)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/alerts/"+ids[0]+"/respond", admin, nil).Code)

	guard := f.login(t, "guard@venue.test", models.RoleSecurity)
	w := f.do(t, http.MethodPost, "/api/alerts/"+ids[0]+"/respond", guard, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var alert models.AlertEvent
	decode(t, w, &alert)
	assert.Equal(t, models.AlertStatusInProgress, alert.Status)
	assert.Equal(t, "guard@venue.test", alert.RespondedBy)

	var active, inProgress []models.AlertEvent
	decode(t, f.do(t, http.MethodGet, "/api/alerts?status=active", guard, nil), &active)
	decode(t, f.do(t, http.MethodGet, "/api/alerts?status=in_progress", guard, nil), &inProgress)
	require.Len(t, active, 1)
	assert.Equal(t, ids[1], active[0].ID)
	require.Len(t, inProgress, 1)
	assert.Equal(t, ids[0], inProgress[0].ID)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/alerts/missing/respond", guard, nil).Code)
}

func TestEmergency(t *testing.T) {
	f := newFixture(t, nil)
	guard := f.login(t, "guard@venue.test", models.RoleSecurity)

	w := f.do(t, http.MethodPost, "/api/emergency", guard, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var alert models.AlertEvent
	decode(t, w, &alert)
	assert.Equal(t, "Backup requested", alert.Type)
	assert.Contains(t, alert.Description, "guard@venue.test")

	admin := f.login(t, "admin@venue.test", models.RoleAdmin)
	w = f.do(t, http.MethodPost, "/api/emergency", admin, emergencyRequest{Message: "Evacuate stage left"})
	require.Equal(t, http.StatusCreated, w.Code)
	decode(t, w, &alert)
	assert.Equal(t, "Emergency broadcast", alert.Type)
	assert.Contains(t, alert.Description, "Evacuate stage left")
}

func TestVenueReadEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	token := f.login(t, "guard@venue.test", models.RoleSecurity)

	var areas []models.VenueArea
	decode(t, f.do(t, http.MethodGet, "/api/areas", token, nil), &areas)
	assert.Len(t, areas, 9)

	var samples []map[string]interface{}
	decode(t, f.do(t, http.MethodGet, "/api/samples", token, nil), &samples)
	require.Len(t, samples, 9)
	assert.Contains(t, samples[0], "tier")

	var points []models.HeatmapPoint
	decode(t, f.do(t, http.MethodGet, "/api/heatmap?count=25", token, nil), &points)
	assert.Len(t, points, 25)

	decode(t, f.do(t, http.MethodGet, "/api/heatmap", token, nil), &points)
	assert.Len(t, points, f.cfg.API.HeatmapPoints)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/heatmap?count=lots", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/heatmap?count=-1", token, nil).Code)
}

func TestUploadDetectionEscalatesThreat(t *testing.T) {
	f := newFixture(t, nil)
	token := f.login(t, "guard@venue.test", models.RoleSecurity)

	w := f.do(t, http.MethodPost, "/api/detections/upload", token, detection.Upload{Filename: "gate.jpg", ContentType: "image/jpeg", Size: 2048})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.DetectionResult
	decode(t, w, &result)
	assert.True(t, result.Threat)
	assert.Equal(t, models.DetectionModeUpload, result.Mode)
	assert.GreaterOrEqual(t, result.Confidence, 70)

	assert.Eventually(t, func() bool {
		return len(f.sim.Alerts(models.AlertStatusActive)) == 1
	}, time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodPost, "/api/detections/upload", token, detection.Upload{Filename: "notes.txt", ContentType: "text/plain", Size: 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"ContentType"}, decode(t, w, nil).Fields)
}

func TestUploadDetectionMultipart(t *testing.T) {
	f := newFixture(t, nil)
	token := f.login(t, "guard@venue.test", models.RoleSecurity)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="crowd.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("not really a png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/detections/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.DetectionResult
	decode(t, w, &result)
	assert.Equal(t, models.DetectionModeUpload, result.Mode)
}

func TestCaptureNeedsActiveStream(t *testing.T) {
	f := newFixture(t, nil)
	token := f.login(t, "guard@venue.test", models.RoleSecurity)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/detections/capture", token, nil).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/camera/start", token, nil).Code)
	w := f.do(t, http.MethodPost, "/api/detections/capture", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.DetectionResult
	decode(t, w, &result)
	assert.False(t, result.Threat)
	assert.Equal(t, models.DetectionModeCapture, result.Mode)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/camera/stop", token, nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/detections/capture", token, nil).Code)
}

func TestCameraPermissionDenied(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) { cfg.Detection.CameraPermitted = false })
	token := f.login(t, "guard@venue.test", models.RoleSecurity)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/camera/start", token, nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/detections/capture", token, nil).Code)
}

func TestStreamDeliversSamples(t *testing.T) {
	f := newFixture(t, nil)
	token := f.login(t, "guard@venue.test", models.RoleSecurity)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	f.sim.Step(t0.Add(f.cfg.RefreshInterval))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before any event")
			if line == "event:samples" {
				return
			}
		case <-deadline:
			t.Fatal("no samples event received")
		}
	}
}
