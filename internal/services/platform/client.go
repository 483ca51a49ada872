// Package platform is a narrow façade over the remote workflow-automation
// platform's REST API. Every transport failure is normalized into the
// errs.PlatformError taxonomy so callers can pick retry policy without
// inspecting raw HTTP errors.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/flowdeploy-go/pkg/config"
	"github.com/flowdeploy-go/pkg/errs"
	"github.com/flowdeploy-go/pkg/logger"
	"github.com/flowdeploy-go/pkg/resilience"
)

// API is the platform surface the orchestrator depends on.
type API interface {
	CreateWorkflow(ctx context.Context, wf *RemoteWorkflow) (*RemoteWorkflow, error)
	GetWorkflow(ctx context.Context, id string) (*RemoteWorkflow, error)
	UpdateWorkflow(ctx context.Context, wf *RemoteWorkflow) (*RemoteWorkflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context, cursor string) (*ListPage, error)
	ListAllWorkflows(ctx context.Context) ([]RemoteWorkflow, error)
	ActivateWorkflow(ctx context.Context, id string) error
	DeactivateWorkflow(ctx context.Context, id string) error
	CredentialExists(ctx context.Context, id string) (bool, error)
	BatchCreate(ctx context.Context, wfs []*RemoteWorkflow, stopOnError bool) *BatchResult
	BaseURL() string
}

// Client implements API over net/http with request pacing, retries and a
// circuit breaker.
type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	pageSize     int
	httpClient   *http.Client
	limiter      *rate.Limiter
	breaker      *resilience.CircuitBreaker
	retryCfg     resilience.RetryConfig
	logger       logger.Logger
}

func NewClient(cfg config.PlatformConfig, log logger.Logger) *Client {
	retryCfg := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	// Definitive 4xx responses (not-found, bad request, bad key) are answers,
	// not platform ill-health; only retryable failures count against the
	// breaker. A not-found answer during a credential scan must never open
	// the circuit for the rest of the scan.
	breakerCfg := resilience.DefaultCircuitBreakerConfig("platform")
	breakerCfg.IsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}
		if pe, ok := errs.AsPlatform(err); ok {
			return !pe.Retryable()
		}
		return false
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		pageSize:     pageSize,
		httpClient:   &http.Client{Timeout: cfg.Timeout()},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		breaker:      resilience.NewCircuitBreaker(breakerCfg),
		retryCfg:     retryCfg,
		logger:       log,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// CreateWorkflow pushes a new workflow definition and returns it with the
// platform-assigned identifier.
func (c *Client) CreateWorkflow(ctx context.Context, wf *RemoteWorkflow) (*RemoteWorkflow, error) {
	var created RemoteWorkflow
	err := c.doWithRetry(ctx, http.MethodPost, "/api/v1/workflows", wf, &created)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (*RemoteWorkflow, error) {
	var wf RemoteWorkflow
	err := c.doWithRetry(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id), nil, &wf)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (c *Client) UpdateWorkflow(ctx context.Context, wf *RemoteWorkflow) (*RemoteWorkflow, error) {
	if wf.ID == "" {
		return nil, fmt.Errorf("update requires a remote workflow id")
	}
	var updated RemoteWorkflow
	err := c.doWithRetry(ctx, http.MethodPut, "/api/v1/workflows/"+url.PathEscape(wf.ID), wf, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	return c.doWithRetry(ctx, http.MethodDelete, "/api/v1/workflows/"+url.PathEscape(id), nil, nil)
}

// ListWorkflows returns one page; an empty cursor starts from the beginning.
func (c *Client) ListWorkflows(ctx context.Context, cursor string) (*ListPage, error) {
	path := "/api/v1/workflows?limit=" + strconv.Itoa(c.pageSize)
	if cursor != "" {
		path += "&cursor=" + url.QueryEscape(cursor)
	}
	var page ListPage
	if err := c.doWithRetry(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAllWorkflows follows cursors until the listing is exhausted.
func (c *Client) ListAllWorkflows(ctx context.Context) ([]RemoteWorkflow, error) {
	var all []RemoteWorkflow
	cursor := ""
	for {
		page, err := c.ListWorkflows(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) ActivateWorkflow(ctx context.Context, id string) error {
	return c.doWithRetry(ctx, http.MethodPost, "/api/v1/workflows/"+url.PathEscape(id)+"/activate", nil, nil)
}

func (c *Client) DeactivateWorkflow(ctx context.Context, id string) error {
	return c.doWithRetry(ctx, http.MethodPost, "/api/v1/workflows/"+url.PathEscape(id)+"/deactivate", nil, nil)
}

// CredentialExists checks whether a named credential is present on the
// platform. A not-found answer is a regular false, not an error.
func (c *Client) CredentialExists(ctx context.Context, id string) (bool, error) {
	err := c.doWithRetry(ctx, http.MethodGet, "/api/v1/credentials/"+url.PathEscape(id), nil, nil)
	if err != nil {
		if pe, ok := errs.AsPlatform(err); ok && pe.Kind == errs.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// BatchCreate creates workflows one by one with per-item accounting. One
// item's failure does not abort the rest unless stopOnError is set.
func (c *Client) BatchCreate(ctx context.Context, wfs []*RemoteWorkflow, stopOnError bool) *BatchResult {
	result := &BatchResult{}
	for _, wf := range wfs {
		created, err := c.CreateWorkflow(ctx, wf)
		if err != nil {
			result.Failed = append(result.Failed, BatchItemResult{Name: wf.Name, Err: err})
			if stopOnError {
				return result
			}
			continue
		}
		result.Created = append(result.Created, BatchItemResult{Name: created.Name, RemoteID: created.ID})
	}
	return result
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out interface{}) error {
	return resilience.Retry(ctx, c.retryCfg, func() error {
		return c.do(ctx, method, path, body, out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &errs.PlatformError{Kind: errs.KindTransient, Message: "circuit breaker open", Err: err}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errs.PlatformError{Kind: errs.KindTransient, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		pe := classify(resp.StatusCode, string(data))
		c.logger.Warn("platform request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"kind", string(pe.Kind))
		return pe
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &errs.PlatformError{Kind: errs.KindServer, StatusCode: resp.StatusCode,
				Message: "failed to decode response body", Err: err}
		}
	}
	return nil
}

// classify maps an HTTP status to the platform error taxonomy.
func classify(status int, body string) *errs.PlatformError {
	msg := http.StatusText(status)
	if body != "" {
		msg = body
	}
	pe := &errs.PlatformError{StatusCode: status, Message: msg}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Kind = errs.KindAuth
	case status == http.StatusNotFound:
		pe.Kind = errs.KindNotFound
	case status == http.StatusTooManyRequests:
		pe.Kind = errs.KindRateLimited
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		pe.Kind = errs.KindTransient
	case status >= 500:
		pe.Kind = errs.KindServer
	default:
		// Remaining 4xx responses are caller mistakes; retrying cannot help.
		pe.Kind = errs.KindInvalid
	}
	return pe
}
