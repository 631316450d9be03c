package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tcshttp "github.com/fyrsmithlabs/tcsd/internal/http"
)

// Snapshot is one poll of the status surface.
type Snapshot struct {
	State    tcshttp.StateResponse
	Checkers tcshttp.CheckersResponse
	At       time.Time
}

// Client queries a running tcsd.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the tcsd at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Fetch reads /state and /checkers.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := c.get(ctx, "/state", &snap.State); err != nil {
		return Snapshot{}, err
	}
	if err := c.get(ctx, "/checkers", &snap.Checkers); err != nil {
		return Snapshot{}, err
	}
	snap.At = time.Now()
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
