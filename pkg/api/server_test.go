package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arobust/arobust/pkg/metrics"
	"github.com/arobust/arobust/pkg/types"
)

type stubDiagnoser struct {
	failures     map[string]string
	restartCount int
}

func (d *stubDiagnoser) Diagnose(failures map[string]string, restartCount int) types.DiagnosisAction {
	d.failures = failures
	d.restartCount = restartCount
	if len(failures) == 0 {
		return types.NewAction(types.ActionContinue, nil)
	}
	return types.NewAction(types.ActionRestartWorker, map[string]string{"rule": "oom"})
}

type stubSource struct{}

func (stubSource) CollectorCount() int              { return 3 }
func (stubSource) CheckpointCounts() map[string]int { return map[string]int{"actor": 2} }

func newTestServer(d Diagnoser, opts ...Option) *Server {
	return NewServer(d, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func TestDiagnose(t *testing.T) {
	d := &stubDiagnoser{}
	s := newTestServer(d)

	body := `{"failures":{"error":"CUDA out of memory"},"restart_count":2}`
	req := httptest.NewRequest(http.MethodPost, "/v1/diagnose", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"error": "CUDA out of memory"}, d.failures)
	assert.Equal(t, 2, d.restartCount)

	var action types.DiagnosisAction
	require.NoError(t, json.NewDecoder(w.Body).Decode(&action))
	assert.Equal(t, types.ActionRestartWorker, action.Type)
	assert.Equal(t, "oom", action.Parameters["rule"])
}

func TestDiagnoseBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"invalid json", http.MethodPost, `{"failures":`, http.StatusBadRequest},
		{"negative restart count", http.MethodPost, `{"restart_count":-1}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
	}

	s := newTestServer(&stubDiagnoser{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/diagnose", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/diagnose"},
		{http.MethodPut, "/v1/diagnose"},
		{http.MethodPost, "/v1/status"},
		{http.MethodDelete, "/v1/status"},
		{http.MethodPost, "/health"},
	}

	s := newTestServer(&stubDiagnoser{}, WithSource(stubSource{}))
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/unknown", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiagnoseEmptyFailures(t *testing.T) {
	d := &stubDiagnoser{}
	s := newTestServer(d)

	req := httptest.NewRequest(http.MethodPost, "/v1/diagnose", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, d.failures)
	assert.Contains(t, w.Body.String(), `"CONTINUE"`)
}

func TestStatus(t *testing.T) {
	s := newTestServer(&stubDiagnoser{}, WithSource(stubSource{}))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Collectors)
	assert.Equal(t, map[string]int{"actor": 2}, resp.Checkpoints)
}

func TestHealthEndpoints(t *testing.T) {
	reg := metrics.NewRegistry(metrics.ComponentEngine)
	s := newTestServer(&stubDiagnoser{}, WithHealth(reg))

	get := func(path string) int {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/health"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"), "engine not started")
	assert.Equal(t, http.StatusOK, get("/live"))
	assert.Equal(t, http.StatusOK, get("/metrics"))

	reg.Set(metrics.ComponentEngine, true, "running")
	reg.Set(metrics.ComponentReporter, false, "master unreachable")
	assert.Equal(t, http.StatusOK, get("/health"))
	assert.Equal(t, http.StatusOK, get("/ready"))

	reg.Set(metrics.ComponentEngine, false, "stopped")
	assert.Equal(t, http.StatusServiceUnavailable, get("/health"))
}

func TestRequestsCounted(t *testing.T) {
	s := newTestServer(&stubDiagnoser{})
	before := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("/live", "200"))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("/live", "200")))
}

func TestServeAndShutdown(t *testing.T) {
	reg := metrics.NewRegistry(metrics.ComponentAPI)
	s := newTestServer(&stubDiagnoser{}, WithHealth(reg))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	url := "http://" + lis.Addr().String() + "/live"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, reg.Health().Components[metrics.ComponentAPI].Up)

	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errCh)
	assert.False(t, reg.Health().Components[metrics.ComponentAPI].Up)
}
