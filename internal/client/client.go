package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/drive-side-service/internal/circuitbreaker"
	"github.com/kjstillabower/drive-side-service/internal/models"
	"github.com/kjstillabower/drive-side-service/internal/observability"
)

// DefaultURL is the public REST Countries endpoint limited to the fields we map.
const DefaultURL = "https://restcountries.com/v3.1/all?fields=name,car"

// maxBodyBytes caps the response size read from the remote.
const maxBodyBytes = 10 << 20

// CountryClient fetches the full country list from a remote source.
type CountryClient interface {
	FetchAll(ctx context.Context) ([]models.Country, error)
}

var (
	ErrInvalidURL      = errors.New("invalid remote URL")
	ErrNotFound        = errors.New("remote resource not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrInvalidPayload  = errors.New("invalid payload")
)

// RESTCountriesClient reads the REST Countries v3.1 schema (name.common, car.side).
type RESTCountriesClient struct {
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewRESTCountriesClient returns a client that makes a single attempt per FetchAll.
func NewRESTCountriesClient(apiURL string, timeout time.Duration) (*RESTCountriesClient, error) {
	return NewRESTCountriesClientWithRetry(apiURL, timeout, 1, 100*time.Millisecond, 2*time.Second)
}

// NewRESTCountriesClientWithRetry returns a client with transport-level retries.
// retryAttempts counts total attempts; values below 1 are treated as 1.
func NewRESTCountriesClientWithRetry(apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*RESTCountriesClient, error) {
	if strings.TrimSpace(apiURL) == "" {
		return nil, fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}

	return &RESTCountriesClient{
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every attempt in cb. Pass nil to disable.
func (c *RESTCountriesClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type restCountry struct {
	Name struct {
		Common string `json:"common"`
	} `json:"name"`
	Car struct {
		Side string `json:"side"`
	} `json:"car"`
}

// FetchAll implements CountryClient.
func (c *RESTCountriesClient) FetchAll(ctx context.Context) ([]models.Country, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.RemoteFetchRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.attempt(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return nil, err
		}
	}

	if c.retryAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *RESTCountriesClient) attempt(ctx context.Context) ([]models.Country, error) {
	if c.breaker == nil {
		return c.callAPI(ctx)
	}
	var result []models.Country
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		result, callErr = c.callAPI(ctx)
		return callErr
	})
	return result, err
}

func (c *RESTCountriesClient) callAPI(ctx context.Context) ([]models.Country, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		observability.RemoteFetchCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.RemoteFetchCallsTotal.WithLabelValues("error").Inc()
		observability.RemoteFetchDuration.WithLabelValues("error").Observe(duration)

		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
			(errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.RemoteFetchCallsTotal.WithLabelValues(status).Inc()
	observability.RemoteFetchDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var apiResp []restCountry
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrInvalidPayload, err)
	}

	return mapResponse(apiResp)
}

func (c *RESTCountriesClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, ErrInvalidPayload) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") {
		return true
	}
	return strings.Contains(errStr, "http request failed")
}

func (c *RESTCountriesClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

// mapResponse converts the remote schema. Entries without a name are skipped;
// an unrecognized drive side rejects the whole payload.
func mapResponse(apiResp []restCountry) ([]models.Country, error) {
	out := make([]models.Country, 0, len(apiResp))
	for _, rc := range apiResp {
		name := strings.TrimSpace(rc.Name.Common)
		if name == "" {
			continue
		}
		side := strings.ToLower(strings.TrimSpace(rc.Car.Side))
		if !models.IsValidDriveSide(side) {
			return nil, fmt.Errorf("%w: country %q has drive side %q", ErrInvalidPayload, name, rc.Car.Side)
		}
		out = append(out, models.Country{Name: name, DriveSide: side})
	}
	return out, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
