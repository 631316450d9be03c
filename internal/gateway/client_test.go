package gateway

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/data", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"timestamps": ["2024-03-01T12:00:00Z", "2024-03-01T12:00:01Z"],
			"values": {"TICA-101": [55.5, null], "FICA-111": [300, 310]},
			"units": {"TICA-101": "degC"}
		}`))
	})
	mux.HandleFunc("/api/v1/system", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tags": {"Valves": {"MV-101": {"MV-101.SP": {"Settable": true}, "MV-101.PV": {"Settable": false}}}}}`))
	})
	mux.HandleFunc("/api/v1/setpoint", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req setpointRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "MV-101.SP", req.Tag)
		assert.Equal(t, 42.0, req.Value)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Current(t *testing.T) {
	var hits atomic.Int32
	srv := newGatewayServer(t, &hits)
	c := NewClient(ClientConfig{BaseURL: srv.URL})

	frame, err := c.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, frame.Len())
	assert.Equal(t, 55.5, frame.Row(0).Value("TICA-101"))
	assert.True(t, math.IsNaN(frame.Row(1).Value("TICA-101")))
	assert.Equal(t, "degC", frame.Units["TICA-101"])
	assert.EqualValues(t, 1, hits.Load())
}

func TestClient_LastUsesFreshCache(t *testing.T) {
	var hits atomic.Int32
	srv := newGatewayServer(t, &hits)
	c := NewClient(ClientConfig{BaseURL: srv.URL})

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Last(context.Background(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())

	now = now.Add(4 * time.Second)
	_, err = c.Last(context.Background(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load(), "cached frame within default max age")

	now = now.Add(2 * time.Second)
	_, err = c.Last(context.Background(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load(), "stale cache refreshes")

	_, err = c.Last(context.Background(), time.Nanosecond)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load(), "clock has not advanced since refresh")
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.Current(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code 503")
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	var hits atomic.Int32
	srv := newGatewayServer(t, &hits)
	c := NewClient(ClientConfig{BaseURL: srv.URL, RequestsPerSecond: 0.01, Burst: 1})

	_, err := c.Current(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Current(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.EqualValues(t, 1, hits.Load())
}

func TestClient_SystemAndSetpoint(t *testing.T) {
	var hits atomic.Int32
	srv := newGatewayServer(t, &hits)
	c := NewClient(ClientConfig{BaseURL: srv.URL})

	info, err := c.System(context.Background())
	require.NoError(t, err)
	require.Contains(t, info.Tags, "Valves")

	table := NewTagTable(info, c, c)
	sp, err := table.Settable("MV-101.SP")
	require.NoError(t, err)
	require.NoError(t, sp.Set(context.Background(), 42))

	_, err = table.Settable("MV-101.PV")
	assert.ErrorIs(t, err, ErrNotSettable)
}

func TestReadFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"values": {"TICA-101": [60, null], "P-101": [150]}}`), 0o600))

	frame, err := ReadFrame(path)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Len())
	v, ok := frame.Latest("P-101")
	assert.True(t, ok)
	assert.Equal(t, 150.0, v)
	assert.True(t, math.IsNaN(frame.Values["TICA-101"][1]))

	_, err = ReadFrame(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = ReadFrame(path)
	assert.ErrorContains(t, err, "decoding frame")
}
