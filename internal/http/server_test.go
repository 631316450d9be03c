package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tcsd/internal/checker"
	"github.com/fyrsmithlabs/tcsd/internal/constants"
	"github.com/fyrsmithlabs/tcsd/internal/gateway"
	"github.com/fyrsmithlabs/tcsd/internal/logging"
	"github.com/fyrsmithlabs/tcsd/internal/statechart"
	"github.com/fyrsmithlabs/tcsd/internal/telemetry"
)

func newMachine(t *testing.T) *statechart.Machine {
	t.Helper()
	b := statechart.NewBuilder("TCS", statechart.Initial("Neutral"))
	b.State("Neutral", "TCS")
	b.Parallel("Charging", "TCS")
	b.State("Charging.AD", "Charging")
	b.State("Charging.EC", "Charging")
	b.Transition("Neutral", "charge", "Charging")
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func newRegistry(t *testing.T) *checker.Registry {
	t.Helper()
	reg := checker.NewRegistry(nil)
	src := gateway.NewStatic(gateway.Frame{Values: map[string][]float64{"TICA-101": {40, 41}}})
	s := checker.DefaultSettings()
	s.Acc = 1
	s.HighLimit = 50
	c, err := checker.New("charge", checker.Column("TICA-101"), s, src, checker.WithRetry(1, time.Millisecond))
	require.NoError(t, err)
	reg.Register("charge", c)
	c.Tick(context.Background())
	return reg
}

func newConstants(t *testing.T) *constants.Supervisor {
	t.Helper()
	path := filepath.Join(t.TempDir(), "constants.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Neutral":{"Charge":{"lowlimit":50}}}`), 0o600))
	sup, err := constants.New(path, constants.WithInterval(0))
	require.NoError(t, err)
	return sup
}

func setupTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	s, err := NewServer(deps, logging.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s := setupTestServer(t, Deps{})
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, 9090, s.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(Deps{}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t, Deps{RunID: "run-1", Version: "1.0.0"})

	var resp HealthResponse
	require.Equal(t, http.StatusOK, get(t, s, "/health", &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Nil(t, resp.Telemetry)
}

func TestHandleHealth_Telemetry(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	s := setupTestServer(t, Deps{Telemetry: tel.Telemetry})

	var resp HealthResponse
	require.Equal(t, http.StatusOK, get(t, s, "/health", &resp))
	require.NotNil(t, resp.Telemetry)
	assert.True(t, resp.Telemetry.Healthy)
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleState(t *testing.T) {
	m := newMachine(t)
	sup := newConstants(t)
	s := setupTestServer(t, Deps{Machine: m, Constants: sup})

	var resp StateResponse
	require.Equal(t, http.StatusOK, get(t, s, "/state", &resp))
	assert.False(t, resp.Started)
	assert.Empty(t, resp.Configuration)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Send(ctx, "charge", nil))

	require.Equal(t, http.StatusOK, get(t, s, "/state", &resp))
	assert.True(t, resp.Started)
	assert.False(t, resp.Stopped)
	assert.Equal(t, []string{"TCS", "Charging", "Charging.AD", "Charging.EC"}, resp.Active)
	assert.Equal(t, []string{"Charging.AD", "Charging.EC"}, resp.Configuration)
	require.NotNil(t, resp.Constants)
	assert.Equal(t, uint64(1), resp.Constants.Version)
	assert.Equal(t, sup.Snapshot().Source(), resp.Constants.Source)
}

func TestHandleCheckers(t *testing.T) {
	s := setupTestServer(t, Deps{Checkers: newRegistry(t)})

	var resp CheckersResponse
	require.Equal(t, http.StatusOK, get(t, s, "/checkers", &resp))
	require.Len(t, resp.Checkers, 1)
	assert.Equal(t, "charge", resp.Checkers[0].Name)
	assert.Equal(t, uint64(1), resp.Checkers[0].Ticks)
	assert.True(t, resp.Checkers[0].Last.Defined)
	assert.True(t, resp.Checkers[0].Last.InLimit)
	assert.False(t, resp.AllInLimit, "nothing marked yet")
}

func TestUnavailableComponents(t *testing.T) {
	s := setupTestServer(t, Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/checkers", nil))
}

func TestHandleMetrics(t *testing.T) {
	s := setupTestServer(t, Deps{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_StartShutdown(t *testing.T) {
	s, err := NewServer(Deps{}, logging.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
