package rotationhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lucerna-id/credential-engine/interfaces"
	"github.com/lucerna-id/credential-engine/serviceresolver"
)

// DefaultDispatchTimeout bounds a dispatch round trip. Dispatching only
// enqueues work, so it gets a much tighter budget than store operations.
const DefaultDispatchTimeout = 3 * time.Second

// DispatchClientConfig configures a DispatchClient.
type DispatchClientConfig struct {
	// Endpoint is a static worker base URL, e.g. "http://worker-1:8081".
	Endpoint string

	// ServiceName is a DNS SRV service name resolved per dispatch.
	// Used when Endpoint is empty; requires Resolver.
	ServiceName string

	// Resolver turns ServiceName into host:port endpoints.
	Resolver *serviceresolver.Resolver

	// AuthToken is the shared bearer token for the internal dispatch plane.
	AuthToken string

	// Timeout bounds each HTTP round trip. Defaults to DefaultDispatchTimeout.
	Timeout time.Duration

	// Log is the structured logger.
	Log *slog.Logger
}

// DispatchClient hands rotations to a worker over the internal job API. It
// implements interfaces.RotationDispatcher for the engine's offload path.
//
// The client never logs passphrases; dispatch logs carry subject, job ID,
// endpoint, and duration only.
type DispatchClient struct {
	endpoint    string
	serviceName string
	resolver    *serviceresolver.Resolver
	authToken   string
	client      *http.Client
	log         *slog.Logger
}

var _ interfaces.RotationDispatcher = (*DispatchClient)(nil)

// NewDispatchClient creates a dispatch client for the worker rotation API.
// Exactly one of a static endpoint or a service name with resolver must be
// configured.
func NewDispatchClient(cfg *DispatchClientConfig) (*DispatchClient, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("dispatch auth token is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Endpoint == "" && cfg.ServiceName == "" {
		return nil, errors.New("either a worker endpoint or a service name is required")
	}
	if cfg.Endpoint == "" && cfg.Resolver == nil {
		return nil, errors.New("service name resolution requires a resolver")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultDispatchTimeout
	}

	return &DispatchClient{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		serviceName: cfg.ServiceName,
		resolver:    cfg.Resolver,
		authToken:   cfg.AuthToken,
		client:      &http.Client{Timeout: timeout},
		log:         cfg.Log,
	}, nil
}

// Dispatch submits a rotation job to a worker. The returned ok means the
// job was accepted, never that the rotation completed; callers confirm via
// JobStatus. Endpoints are tried in resolution order until one accepts.
func (c *DispatchClient) Dispatch(ctx context.Context, subject interfaces.SubjectID, oldPassphrase, newPassphrase string) (string, bool) {
	start := time.Now()

	endpoints, err := c.endpoints(ctx)
	if err != nil {
		c.log.Warn("Worker endpoint resolution failed", "err", err)
		return "", false
	}

	body, err := json.Marshal(SubmitJobRequest{
		SubjectID:     subject.String(),
		OldPassphrase: oldPassphrase,
		NewPassphrase: newPassphrase,
	})
	if err != nil {
		c.log.Error("Failed to encode dispatch request", "err", err)
		return "", false
	}

	for _, endpoint := range endpoints {
		jobID, err := c.submitJob(ctx, endpoint, body)
		if err != nil {
			c.log.Warn("Rotation dispatch attempt failed",
				slog.String("endpoint", endpoint),
				"err", err,
			)
			continue
		}
		c.log.Info("Rotation job dispatched",
			slog.String("subject", subject.String()),
			slog.String("jobID", jobID),
			slog.String("endpoint", endpoint),
			slog.Duration("duration", time.Since(start)),
		)
		return jobID, true
	}

	return "", false
}

// JobStatus polls a worker for the state of a dispatched job. Workers keep
// independent job registries, so endpoints are tried in order until one
// recognizes the job.
func (c *DispatchClient) JobStatus(ctx context.Context, jobID string) (JobState, error) {
	if jobID == "" {
		return "", errors.New("empty job ID")
	}

	endpoints, err := c.endpoints(ctx)
	if err != nil {
		return "", fmt.Errorf("worker endpoint resolution failed: %w", err)
	}

	var lastErr error
	for _, endpoint := range endpoints {
		state, err := c.fetchStatus(ctx, endpoint, jobID)
		if err != nil {
			lastErr = err
			continue
		}
		return state, nil
	}
	return "", lastErr
}

// endpoints returns worker base URLs in dispatch order.
func (c *DispatchClient) endpoints(ctx context.Context) ([]string, error) {
	if c.endpoint != "" {
		return []string{c.endpoint}, nil
	}

	resolved, err := c.resolver.ResolveEndpoints(ctx, c.serviceName)
	if err != nil {
		return nil, err
	}

	// The dispatch plane is plain HTTP inside the service network.
	endpoints := make([]string, 0, len(resolved))
	for _, hostport := range resolved {
		endpoints = append(endpoints, "http://"+hostport)
	}
	return endpoints, nil
}

func (c *DispatchClient) submitJob(ctx context.Context, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/internal/rotation-jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not reach worker: %w", err)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read worker response: %w", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker returned %d: %s", resp.StatusCode, string(respBody))
	}

	var jobResp JobResponse
	if err := json.Unmarshal(respBody, &jobResp); err != nil {
		return "", fmt.Errorf("could not parse worker response: %w", err)
	}
	if jobResp.JobID == "" {
		return "", errors.New("worker response missing job ID")
	}

	return jobResp.JobID, nil
}

func (c *DispatchClient) fetchStatus(ctx context.Context, endpoint, jobID string) (JobState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/internal/rotation-jobs/"+jobID, nil)
	if err != nil {
		return "", fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not reach worker: %w", err)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read worker response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("worker returned %d: %s", resp.StatusCode, string(respBody))
	}

	var jobResp JobResponse
	if err := json.Unmarshal(respBody, &jobResp); err != nil {
		return "", fmt.Errorf("could not parse worker response: %w", err)
	}

	return jobResp.Status, nil
}
