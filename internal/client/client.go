// Package client provides a Go client for the battle server's HTTP and
// websocket surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmud/AI-image-gen-battle/internal/events"
	"github.com/vmud/AI-image-gen-battle/internal/models"
	"github.com/vmud/AI-image-gen-battle/internal/server"
)

// DefaultEndpoint is used when neither an endpoint nor BATTLE_SERVER_URL is set.
const DefaultEndpoint = "http://localhost:5000"

// ErrRejected is returned when the server declines a command.
var ErrRejected = errors.New("command rejected")

// Client talks to one battle server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client.
// If endpoint is empty, uses BATTLE_SERVER_URL env var or defaults to localhost:5000.
// Timeout can be configured via BATTLE_CLIENT_TIMEOUT env var (default 10s).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("BATTLE_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	timeout := 10 * time.Second
	if t := os.Getenv("BATTLE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// StartOptions are the parameters of a start_generation command.
type StartOptions struct {
	Prompt string
	Steps  int
	SyncAt time.Time
	Mode   models.JobMode
}

// Start asks the server to begin a generation. A rejection returns the
// server's response together with an error wrapping ErrRejected.
func (c *Client) Start(ctx context.Context, opts StartOptions) (*server.CommandResponse, error) {
	data := server.StartData{
		Prompt: opts.Prompt,
		Steps:  opts.Steps,
		Mode:   string(opts.Mode),
	}
	if !opts.SyncAt.IsZero() {
		data.SyncTime = float64(opts.SyncAt.UnixNano()) / 1e9
	}

	var resp server.CommandResponse
	status, err := c.command(ctx, server.CommandStart, data, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !resp.Success {
		return &resp, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return &resp, nil
}

// ResetBackend asks the server to return a degraded real backend to rotation.
func (c *Client) ResetBackend(ctx context.Context) (*server.CommandResponse, error) {
	var resp server.CommandResponse
	if _, err := c.command(ctx, server.CommandResetBackend, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the server to stop the active generation.
func (c *Client) Stop(ctx context.Context) (*server.CommandResponse, error) {
	var resp server.CommandResponse
	if _, err := c.command(ctx, server.CommandStop, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the status of jobID, or of the current job when empty.
func (c *Client) Status(ctx context.Context, jobID string) (*models.StatusView, error) {
	path := "/status"
	if jobID != "" {
		path += "?job_id=" + url.QueryEscape(jobID)
	}
	var view models.StatusView
	if err := c.get(ctx, path, &view, http.StatusOK); err != nil {
		return nil, err
	}
	return &view, nil
}

// Info returns the appliance description.
func (c *Client) Info(ctx context.Context) (*server.InfoResponse, error) {
	var info server.InfoResponse
	if err := c.get(ctx, "/info", &info, http.StatusOK); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health returns the health summary. An unhealthy server is not an error.
func (c *Client) Health(ctx context.Context) (*models.HealthSummary, error) {
	var sum models.HealthSummary
	if err := c.get(ctx, "/health", &sum, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Stats returns runtime statistics (reset on server restart).
func (c *Client) Stats(ctx context.Context) (*server.StatsResponse, error) {
	var stats server.StatsResponse
	if err := c.get(ctx, "/stats", &stats, http.StatusOK); err != nil {
		return nil, err
	}
	return &stats, nil
}

// command posts a command and decodes the response body into result. It
// returns the HTTP status; 400 is not an error since rejections carry a body.
func (c *Client) command(ctx context.Context, name string, data any, result any) (int, error) {
	req := map[string]any{"command": name}
	if data != nil {
		req["data"] = data
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/command", bytes.NewReader(body), result, http.StatusOK, http.StatusBadRequest)
}

func (c *Client) get(ctx context.Context, path string, result any, accept ...int) error {
	_, err := c.do(ctx, http.MethodGet, path, nil, result, accept...)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, result any, accept ...int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return resp.StatusCode, fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// =============================================================================
// EVENT STREAM
// =============================================================================

// Event is one message from the event stream. Data is decoded by the
// caller according to Type.
type Event struct {
	Type events.Type     `json:"type"`
	Data json.RawMessage `json:"data"`
	Seq  uint64          `json:"seq"`
	Time time.Time       `json:"time"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// ErrStopWatching may be returned by a Watch callback to end the stream
// without an error.
var ErrStopWatching = errors.New("stop watching")

// Watch streams events to onEvent until ctx is done, the server closes the
// stream, or onEvent returns an error.
func (c *Client) Watch(ctx context.Context, onEvent func(Event) error) error {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/events")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := onEvent(ev); err != nil {
			if errors.Is(err, ErrStopWatching) {
				return nil
			}
			return err
		}
	}
}
