// Package transport carries request envelopes to the service and returns
// raw response documents. It owns all timeout and retry policy; the layers
// above only propagate context cancellation.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrecord/hvlink/internal/logging"
	"github.com/openrecord/hvlink/wire"
)

const requestContentType = "text/xml; charset=utf-8"

var ErrInvalidServiceURL = errors.New("transport: invalid service url")

// Transport performs one request/response exchange.
type Transport interface {
	RoundTrip(ctx context.Context, body []byte) ([]byte, error)
}

// HTTP posts envelopes to a single service endpoint, retrying transient
// failures (network errors and 5xx statuses) with exponential backoff.
// Client errors (4xx) are never retried.
type HTTP struct {
	url         string
	client      *http.Client
	maxAttempts int
	backoff     BackoffConfig
	log         zerolog.Logger
}

// Option configures the HTTP transport.
type Option func(*HTTP)

// WithClient substitutes the underlying http.Client.
func WithClient(client *http.Client) Option {
	return func(t *HTTP) {
		if client != nil {
			t.client = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTP) {
		t.client.Timeout = d
	}
}

// WithRetry sets the attempt budget and backoff schedule.
func WithRetry(maxAttempts int, backoff BackoffConfig) Option {
	return func(t *HTTP) {
		if maxAttempts >= 1 {
			t.maxAttempts = maxAttempts
		}
		t.backoff = backoff
	}
}

func NewHTTP(serviceURL string, opts ...Option) (*HTTP, error) {
	parsed, err := url.Parse(serviceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServiceURL, serviceURL)
	}
	t := &HTTP{
		url:         serviceURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		log: logging.Component("transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *HTTP) RoundTrip(ctx context.Context, body []byte) ([]byte, error) {
	var rng *rand.Rand
	if t.backoff.Jitter {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := NextDelay(t.backoff, attempt, rng)
			t.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying request")
			select {
			case <-ctx.Done():
				return nil, &wire.TransportError{Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		respBody, retryable, err := t.post(ctx, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// post runs one attempt. The second return reports whether the failure is
// worth retrying.
func (t *HTTP) post(ctx context.Context, body []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, &wire.TransportError{Err: err}
	}
	req.Header.Set("Content-Type", requestContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, true, &wire.TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, &wire.TransportError{Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, false, nil
	case resp.StatusCode >= 500:
		return nil, true, &wire.TransportError{Status: resp.StatusCode, Err: errors.New("server error")}
	default:
		return nil, false, &wire.TransportError{Status: resp.StatusCode, Err: errors.New("request rejected")}
	}
}
