package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/retry"
)

var downstreamDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "payment_downstream_request_duration_seconds",
		Help:    "Duration of calls to downstream services",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"service", "operation", "outcome"},
)

// StatusError is a non-2xx answer from a downstream service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Service, e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Permanent marks the answers a retry cannot change.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
		return true
	}
	return false
}

type Options struct {
	HTTPClient         *http.Client
	Policy             retry.Policy
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	Logger             *slog.Logger
}

// Client is the JSON-over-HTTP transport shared by every gateway. Each call
// goes through the retry policy, and each attempt through the service breaker.
type Client struct {
	service string
	baseURL string
	http    *http.Client
	policy  retry.Policy
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(service, baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || retry.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		policy:  opts.Policy,
		breaker: breaker,
		logger:  logger,
	}
}

type call struct {
	method  string
	path    string
	query   url.Values
	headers map[string]string
	body    interface{}
}

// do performs c and decodes a JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, op string, req call, out interface{}) error {
	return c.policy.Do(ctx, c.service+"."+op, func(ctx context.Context) error {
		start := time.Now()
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.send(ctx, req, out)
		})
		downstreamDuration.WithLabelValues(c.service, op, outcome(err)).Observe(time.Since(start).Seconds())
		if err != nil {
			c.logger.Warn("Downstream call failed", "service", c.service, "operation", op, "error", err)
		}
		return err
	})
}

func (c *Client) send(ctx context.Context, req call, out interface{}) error {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return &StatusError{Service: c.service, StatusCode: http.StatusBadRequest, Body: []byte(err.Error())}
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Service: c.service, StatusCode: resp.StatusCode, Body: raw}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}

// callerHeaders forwards the caller's headers downstream.
func callerHeaders(h domain.Headers) map[string]string {
	return map[string]string{
		"Authorization":   h.Authorization,
		"idempotency-key": h.IdempotencyKey,
		"language":        h.Language,
	}
}

func outcome(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "success"
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case stderrors.As(err, &statusErr):
		return fmt.Sprintf("%dxx", statusErr.StatusCode/100)
	default:
		return "error"
	}
}
