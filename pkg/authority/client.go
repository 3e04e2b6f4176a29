// Package authority provides the HTTP client for the remote entitlement
// authority. Every check resolves to one of three outcomes: granted,
// denied, or indeterminate. Indeterminate means the authority could not
// be consulted and is never collapsed into a denial.
package authority

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/plugbazaar/bazaar/pkg/observability"
)

// Decision is the outcome of an entitlement check
type Decision int

const (
	// DecisionIndeterminate means the authority could not answer
	DecisionIndeterminate Decision = iota
	// DecisionGranted means the authority affirmed the entitlement
	DecisionGranted
	// DecisionDenied means the authority rejected the entitlement
	DecisionDenied
)

func (d Decision) String() string {
	switch d {
	case DecisionGranted:
		return "granted"
	case DecisionDenied:
		return "denied"
	default:
		return "indeterminate"
	}
}

// Client queries the entitlement authority over HTTP. In-flight
// requests are capped by a weighted semaphore so an authority slowdown
// cannot exhaust the caller's connection pool.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sem        *semaphore.Weighted
	maxRetries uint64
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

// Options configures a Client
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MaxInFlight int64
	MaxRetries  uint64
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewClient creates an authority client
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("authority base URL is required")
	}
	if opts.MaxInFlight <= 0 {
		return nil, fmt.Errorf("max in-flight must be positive")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}

	return &Client{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		sem:        semaphore.NewWeighted(opts.MaxInFlight),
		maxRetries: opts.MaxRetries,
		logger:     logger,
		metrics:    opts.Metrics,
		tracer:     otel.Tracer("bazaar/authority"),
	}, nil
}

// CheckEntitlement asks the authority whether the principal is entitled
// to the resource. A non-nil error always accompanies an indeterminate
// decision and explains why the authority could not answer.
func (c *Client) CheckEntitlement(ctx context.Context, principalID, resourceID string) (Decision, error) {
	ctx, span := c.tracer.Start(ctx, "authority.CheckEntitlement",
		trace.WithAttributes(
			attribute.String("authority.principal_id", principalID),
			attribute.String("authority.resource_id", resourceID),
		))
	defer span.End()

	start := time.Now()
	decision, err := c.check(ctx, principalID, resourceID)

	span.SetAttributes(attribute.String("authority.decision", decision.String()))
	if c.metrics != nil {
		c.metrics.AuthorityRequestsTotal.WithLabelValues(decision.String()).Inc()
		c.metrics.AuthorityRequestDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"principal_id": principalID,
			"resource_id":  resourceID,
		}).Warn("entitlement check did not resolve")
	}
	return decision, err
}

func (c *Client) check(ctx context.Context, principalID, resourceID string) (Decision, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return DecisionIndeterminate, fmt.Errorf("authority request slot unavailable: %w", err)
	}
	defer c.sem.Release(1)

	if c.metrics != nil {
		c.metrics.AuthorityInFlight.Inc()
		defer c.metrics.AuthorityInFlight.Dec()
	}

	endpoint := fmt.Sprintf("%s/api/v1/entitlements/%s/%s",
		c.baseURL, url.PathEscape(principalID), url.PathEscape(resourceID))

	var decision Decision
	operation := func() error {
		d, err := c.doRequest(ctx, endpoint)
		if err != nil {
			return err
		}
		decision = d
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackOff(), c.maxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return DecisionIndeterminate, fmt.Errorf("authority unavailable: %w", err)
	}
	return decision, nil
}

// doRequest performs one HTTP round trip. 2xx grants, 4xx denies, and
// anything else is retryable.
func (c *Client) doRequest(ctx context.Context, endpoint string) (Decision, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return DecisionIndeterminate, backoff.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DecisionIndeterminate, err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return DecisionGranted, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return DecisionDenied, nil
	default:
		return DecisionIndeterminate, fmt.Errorf("authority returned status %d", resp.StatusCode)
	}
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// Ping checks authority reachability for health reporting
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authority unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("authority unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
