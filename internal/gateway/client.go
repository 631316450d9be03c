package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig configures the gateway HTTP client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond bounds refreshes against the gateway. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Client queries the control gateway web API.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	cached   Frame
	cachedAt time.Time

	now func() time.Time
}

// dataResponse is the body of GET /api/v1/data.
type dataResponse struct {
	Timestamps []time.Time           `json:"timestamps"`
	Values     map[string][]*float64 `json:"values"`
	Units      map[string]string     `json:"units"`
}

func (d dataResponse) frame() Frame {
	frame := Frame{
		Timestamps: d.Timestamps,
		Values:     make(map[string][]float64, len(d.Values)),
		Units:      d.Units,
	}
	for tag, raw := range d.Values {
		col := make([]float64, len(raw))
		for i, v := range raw {
			if v == nil {
				col[i] = math.NaN()
				continue
			}
			col[i] = *v
		}
		frame.Values[tag] = col
	}
	return frame
}

// ReadFrame loads a frame saved from GET /api/v1/data.
func ReadFrame(path string) (Frame, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("reading frame: %w", err)
	}
	var body dataResponse
	if err := json.Unmarshal(content, &body); err != nil {
		return Frame{}, fmt.Errorf("decoding frame %s: %w", path, err)
	}
	return body.frame(), nil
}

type setpointRequest struct {
	Tag   string  `json:"tag"`
	Value float64 `json:"value"`
}

// NewClient creates a gateway client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		now:     time.Now,
	}
}

// Current requests the latest data from the gateway and caches it.
func (c *Client) Current(ctx context.Context) (Frame, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Frame{}, fmt.Errorf("rate limit: %w", err)
	}

	var body dataResponse
	if err := c.get(ctx, "/api/v1/data", &body); err != nil {
		return Frame{}, err
	}

	frame := body.frame()

	c.mu.Lock()
	c.cached = frame
	c.cachedAt = c.now()
	c.mu.Unlock()

	return frame, nil
}

// Last returns the cached frame while it is younger than maxAge.
func (c *Client) Last(ctx context.Context, maxAge time.Duration) (Frame, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	c.mu.Lock()
	if !c.cachedAt.IsZero() && c.now().Sub(c.cachedAt) <= maxAge {
		frame := c.cached
		c.mu.Unlock()
		return frame, nil
	}
	c.mu.Unlock()
	return c.Current(ctx)
}

// System fetches the gateway tag schema.
func (c *Client) System(ctx context.Context) (SystemInfo, error) {
	var info SystemInfo
	if err := c.get(ctx, "/api/v1/system", &info); err != nil {
		return SystemInfo{}, err
	}
	return info, nil
}

// SetSetpoint writes value to tag. The gateway does not acknowledge beyond
// the HTTP status.
func (c *Client) SetSetpoint(ctx context.Context, tag string, value float64) error {
	payload, err := json.Marshal(setpointRequest{Tag: tag, Value: value})
	if err != nil {
		return fmt.Errorf("marshal setpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/setpoint", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
