// Package starling implements the round-up gateways against the Starling Bank
// public API.
package starling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"roundup/pkg/logging"
	"roundup/pkg/metrics"
	"roundup/pkg/resilience"
	"roundup/pkg/roundup"
)

// DefaultMaxBodyBytes bounds how much of a response body is read.
const DefaultMaxBodyBytes = 16 << 20

// maxDetailBytes bounds the response snippet carried in downstream errors.
const maxDetailBytes = 256

var (
	// ErrMissingToken is returned by NewClient when no access token is configured.
	ErrMissingToken = errors.New("starling: missing access token")

	// ErrResponseTooLarge is returned when a response body exceeds the
	// configured limit. It is not a malformed response: the data exists but
	// was not read.
	ErrResponseTooLarge = errors.New("starling: response body too large")
)

// Config configures the Starling API client.
type Config struct {
	// BaseURL is the API root, e.g. https://api-sandbox.starlingbank.com
	BaseURL string

	// Token is the personal access token sent as a bearer token.
	Token string

	// Resilience configures the per-call timeout and circuit breaker.
	Resilience resilience.ResilientConfig

	// Transport is the base transport under the resilience layer.
	// Default: a pooled http.Transport.
	Transport http.RoundTripper

	// MaxBodyBytes bounds a response body. Default: 16 MiB
	MaxBodyBytes int64
}

// DefaultConfig returns a client configuration for the sandbox API.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api-sandbox.starlingbank.com",
		Resilience:   resilience.DefaultResilientConfig().WithName("starling"),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Client is a thin JSON client for the Starling API. It implements
// roundup.AccountGateway, roundup.GoalGateway and roundup.TransactionGateway.
// A Client is safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	token     string
	maxBody   int64
	http      *http.Client
	transport *resilience.Transport
	logger    *logging.Logger
}

var (
	_ roundup.AccountGateway     = (*Client)(nil)
	_ roundup.GoalGateway        = (*Client)(nil)
	_ roundup.TransactionGateway = (*Client)(nil)
)

// NewClient creates a Starling client.
func NewClient(config Config, metricsCollector metrics.MetricsCollector) (*Client, error) {
	if config.Token == "" {
		return nil, ErrMissingToken
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("starling: invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("starling: invalid base url %q", config.BaseURL)
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NoOpCollector{}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}

	next := config.Transport
	if next == nil {
		next = newPooledTransport()
	}
	transport := resilience.NewTransportWithMetrics(next, config.Resilience, metricsCollector)

	return &Client{
		baseURL:   base,
		token:     config.Token,
		maxBody:   config.MaxBodyBytes,
		http:      &http.Client{Transport: transport},
		transport: transport,
		logger:    logging.Global().Named("starling"),
	}, nil
}

// CircuitState returns the state of the client's circuit breaker.
func (c *Client) CircuitState() metrics.CircuitState {
	return c.transport.State()
}

func newPooledTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// do sends one request and decodes the JSON response into out.
// Non-2xx statuses are classified with roundup.ClassifyStatus. A null or
// undecodable body wraps roundup.ErrMalformedResponse.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("starling: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("starling: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("starling: read %s %s: %w", method, path, err)
	}
	tooLarge := int64(len(data)) > c.maxBody
	if tooLarge {
		data = data[:c.maxBody]
	}

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if err := roundup.ClassifyStatus(resp.StatusCode, detail(data)); err != nil {
		return err
	}
	if tooLarge {
		c.logger.Error("response body exceeds limit",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int64("limit_bytes", c.maxBody),
		)
		return fmt.Errorf("%w: %s %s exceeds %d bytes", ErrResponseTooLarge, method, path, c.maxBody)
	}
	if out == nil {
		return nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%s %s: empty body: %w", method, path, roundup.ErrMalformedResponse)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, roundup.ErrMalformedResponse)
	}
	return nil
}

// detail extracts a short description from an error body.
func detail(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			if e.Message != "" {
				msgs = append(msgs, e.Message)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
		if parsed.ErrorDescription != "" {
			return parsed.ErrorDescription
		}
	}

	s := strings.TrimSpace(string(body))
	if len(s) > maxDetailBytes {
		s = s[:maxDetailBytes]
	}
	return s
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), roundup.ErrMalformedResponse)
}
