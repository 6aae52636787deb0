package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmud/AI-image-gen-battle/internal/models"
)

// Inference worker protocol message types.
const (
	msgGenerate = "generate"
	msgProgress = "progress"
	msgResult   = "result"
	msgError    = "error"
	msgPing     = "ping"
)

// workerMessage is one frame of the inference worker protocol.
type workerMessage struct {
	Type     string         `json:"type"`
	JobID    string         `json:"job_id,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Steps    int            `json:"steps,omitempty"`
	Width    int            `json:"width,omitempty"`
	Height   int            `json:"height,omitempty"`
	Step     int            `json:"step,omitempty"`
	Total    int            `json:"total,omitempty"`
	Artifact string         `json:"artifact,omitempty"`
	Device   string         `json:"device,omitempty"`
	Metrics  map[string]any `json:"metrics,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Remote drives an inference worker over a websocket. The worker receives
// one generate message per connection and answers with progress frames
// followed by a single result or error frame.
type Remote struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.RWMutex
	lastDevice string
	degraded   string
}

// Compile-time interface checks.
var (
	_ Generator      = (*Remote)(nil)
	_ DeviceReporter = (*Remote)(nil)
)

// NewRemote creates a remote backend for a worker at endpoint
// (http, https, ws, or wss URL).
func NewRemote(endpoint string, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 3 * time.Second},
		logger:     logger,
	}
}

// Kind reports that this is the real backend.
func (r *Remote) Kind() models.BackendKind { return models.BackendReal }

// LastDevice returns the device the worker reported for the last run.
func (r *Remote) LastDevice() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastDevice
}

// MarkDegraded takes the backend out of rotation after an inference stack
// failure. Reset brings it back.
func (r *Remote) MarkDegraded(reason string) {
	r.mu.Lock()
	r.degraded = reason
	r.mu.Unlock()
	r.logger.Warn("real backend degraded", "reason", reason)
}

// Reset clears a previous MarkDegraded.
func (r *Remote) Reset() {
	r.mu.Lock()
	r.degraded = ""
	r.mu.Unlock()
}

// Degraded returns the reason the backend was taken out of rotation.
func (r *Remote) Degraded() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

// Available checks the worker's /health endpoint.
func (r *Remote) Available(ctx context.Context) bool {
	if r.Degraded() != "" {
		return false
	}

	healthURL, err := r.url("http", "/health")
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Debug("worker health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Generate runs one generation on the worker.
func (r *Remote) Generate(ctx context.Context, req Request, steps chan<- Step) (Result, error) {
	wsURL, err := r.url("ws", "/generate")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: websocket connect: %w", ErrUnavailable, err)
	}

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

	start := workerMessage{
		Type:   msgGenerate,
		JobID:  req.JobID,
		Prompt: req.Prompt,
		Steps:  req.Steps,
		Width:  req.Width,
		Height: req.Height,
	}
	if err := conn.WriteJSON(start); err != nil {
		return Result{}, fmt.Errorf("send generate: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	started := time.Now()
	for {
		var msg workerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, fmt.Errorf("read worker message: %w", err)
		}

		switch msg.Type {
		case msgProgress:
			total := msg.Total
			if total == 0 {
				total = req.Steps
			}
			if err := SendStep(ctx, steps, Step{Current: msg.Step, Total: total}); err != nil {
				return Result{}, err
			}

		case msgResult:
			r.mu.Lock()
			r.lastDevice = strings.ToLower(msg.Device)
			r.mu.Unlock()

			metrics := msg.Metrics
			if metrics == nil {
				metrics = map[string]any{}
			}
			metrics["generation_time"] = time.Since(started).Seconds()
			if msg.Device != "" {
				metrics["device"] = msg.Device
			}
			return Result{ArtifactRef: msg.Artifact, ArtifactPath: localPath(msg.Artifact), Metrics: metrics}, nil

		case msgError:
			return Result{}, WrapFallbackWorthy(fmt.Errorf("worker error: %s", msg.Error))

		case msgPing:
			continue

		default:
			r.logger.Debug("ignoring worker message", "type", msg.Type)
		}
	}
}

// url rebuilds the endpoint with the given scheme family and path.
func (r *Remote) url(family, path string) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	secure := u.Scheme == "https" || u.Scheme == "wss"
	switch {
	case family == "ws" && secure:
		u.Scheme = "wss"
	case family == "ws":
		u.Scheme = "ws"
	case secure:
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// localPath returns the filesystem path for file artifacts.
func localPath(ref string) string {
	if strings.HasPrefix(ref, "file://") {
		return strings.TrimPrefix(ref, "file://")
	}
	if strings.HasPrefix(ref, "/") {
		return ref
	}
	return ""
}

