package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestRegistry(critical ...string) (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRegistry(critical...)
	r.now = clock.now
	r.started = clock.t
	return r, clock
}

func TestHealthStatus(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		want       string
	}{
		{"no components", map[string]bool{}, StatusOK},
		{"all up", map[string]bool{ComponentEngine: true, ComponentReporter: true}, StatusOK},
		{"non-critical down", map[string]bool{ComponentEngine: true, ComponentReporter: false}, StatusDegraded},
		{"critical down", map[string]bool{ComponentEngine: false, ComponentReporter: false}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(ComponentEngine)
			for name, up := range tt.components {
				r.Set(name, up, "dial failed")
			}
			rep := r.Health()
			assert.Equal(t, tt.want, rep.Status)
			assert.Len(t, rep.Components, len(tt.components))
		})
	}
}

func TestSinceTracksStateChanges(t *testing.T) {
	r, clock := newTestRegistry()
	t0 := clock.t

	r.Set(ComponentReporter, true, "")
	clock.t = t0.Add(time.Minute)
	r.Set(ComponentReporter, true, "heartbeat sent")
	assert.Equal(t, t0, r.Health().Components[ComponentReporter].Since, "same state keeps since")

	clock.t = t0.Add(2 * time.Minute)
	r.Set(ComponentReporter, false, "unavailable")
	c := r.Health().Components[ComponentReporter]
	assert.Equal(t, t0.Add(2*time.Minute), c.Since)
	assert.Equal(t, "unavailable", c.Detail)
	assert.False(t, c.Critical)
}

func TestReadiness(t *testing.T) {
	r, _ := newTestRegistry(ComponentEngine, ComponentAPI)
	r.Set(ComponentEngine, true, "")

	rep := r.Readiness()
	assert.Equal(t, StatusNotReady, rep.Status)
	assert.Equal(t, "waiting for api to start", rep.Message)

	r.Set(ComponentAPI, false, "bind failed")
	rep = r.Readiness()
	assert.Equal(t, StatusNotReady, rep.Status)
	assert.Equal(t, "api is down: bind failed", rep.Message)

	r.Set(ComponentAPI, true, "")
	r.Set(ComponentReporter, false, "unavailable")
	rep = r.Readiness()
	assert.Equal(t, StatusReady, rep.Status, "non-critical components do not gate readiness")
	assert.NotContains(t, rep.Components, ComponentReporter)
}

func TestHealthHandlers(t *testing.T) {
	r, clock := newTestRegistry(ComponentEngine)
	r.SetVersion("test")
	r.Set(ComponentEngine, true, "")
	clock.t = clock.t.Add(90 * time.Second)

	w := httptest.NewRecorder()
	r.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var rep Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rep))
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, "test", rep.Version)
	assert.Equal(t, "1m30s", rep.Uptime)

	r.Set(ComponentReporter, false, "unavailable")
	w = httptest.NewRecorder()
	r.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "degraded still serves")

	r.Set(ComponentEngine, false, "stopped")
	w = httptest.NewRecorder()
	r.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	r, _ := newTestRegistry()

	w := httptest.NewRecorder()
	r.LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "alive", response["status"])
	assert.Equal(t, "0s", response["uptime"])
}

func TestDefaultRegistry(t *testing.T) {
	SetComponent(ComponentCheckpoint, true, "open")
	c, ok := DefaultRegistry().Health().Components[ComponentCheckpoint]
	require.True(t, ok)
	assert.True(t, c.Up)
}
