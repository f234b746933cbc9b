package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/leadwatch/core/pkg/logger"
)

// APIError represents a non-2xx answer from a collaborator service
type APIError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// Temporary reports whether a retry on a later run may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrCircuitOpen is returned while a collaborator is considered down
var ErrCircuitOpen = errors.New("circuit breaker open")

// ClientConfig holds the settings shared by the collaborator clients
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec int
	// ConsecutiveFailures opens the breaker
	ConsecutiveFailures uint32
	// OpenFor is how long the breaker stays open before probing again
	OpenFor time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = 5
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	if c.OpenFor <= 0 {
		c.OpenFor = time.Minute
	}
	return c
}

// jsonClient posts JSON to one collaborator behind a limiter and a breaker
type jsonClient struct {
	service string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

func newJSONClient(service string, cfg ClientConfig) *jsonClient {
	cfg = cfg.withDefaults()
	log := logger.New(service + "-client")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    service,
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// 4xx answers are the caller's problem, not an outage
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("action", "circuit_state_change").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &jsonClient{
		service: service,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec),
		breaker: breaker,
		logger:  log,
	}
}

// post sends in as JSON to path and decodes the answer into out
func (c *jsonClient) post(ctx context.Context, path string, in, out any) error {
	if c.baseURL == "" {
		return errors.Newf("%s client has no base URL configured", c.service)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "%s rate limiter", c.service)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, c.baseURL+path, payload, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Mark(errors.Wrapf(err, "%s unavailable", c.service), ErrCircuitOpen)
	}
	return err
}

func (c *jsonClient) do(ctx context.Context, url string, payload []byte, out any) error {
	start := time.Now()
	statusCode := 0
	var callErr error
	defer func() {
		c.logger.LogAPICall(http.MethodPost, url, statusCode, time.Since(start), callErr)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		callErr = errors.Wrap(err, "failed to build request")
		return callErr
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		callErr = errors.Wrap(err, "failed to make request")
		return callErr
	}
	defer func() { _ = resp.Body.Close() }()
	statusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		callErr = &APIError{
			Service:    c.service,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
		return callErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		callErr = errors.Wrap(err, "failed to decode response")
		return callErr
	}
	return nil
}
