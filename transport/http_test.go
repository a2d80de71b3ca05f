package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openrecord/hvlink/internal/testutil/testlog"
	"github.com/openrecord/hvlink/wire"
)

func fastRetry(attempts int) Option {
	return WithRetry(attempts, BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1.0})
}

func TestRoundTripPostsEnvelope(t *testing.T) {
	testlog.Start(t)
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte("<response/>"))
	}))
	defer srv.Close()

	tr, err := NewHTTP(srv.URL, fastRetry(1))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	resp, err := tr.RoundTrip(context.Background(), []byte("<request/>"))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if string(resp) != "<response/>" {
		t.Fatalf("unexpected response: %s", resp)
	}
	if string(gotBody) != "<request/>" {
		t.Fatalf("unexpected request body: %s", gotBody)
	}
	if gotContentType != "text/xml; charset=utf-8" {
		t.Fatalf("unexpected content type: %s", gotContentType)
	}
}

func TestRoundTripRetriesServerErrors(t *testing.T) {
	testlog.Start(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<response/>"))
	}))
	defer srv.Close()

	tr, err := NewHTTP(srv.URL, fastRetry(3))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	resp, err := tr.RoundTrip(context.Background(), []byte("<request/>"))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if string(resp) != "<response/>" {
		t.Fatalf("unexpected response: %s", resp)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestRoundTripExhaustsRetryBudget(t *testing.T) {
	testlog.Start(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, err := NewHTTP(srv.URL, fastRetry(2))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	_, err = tr.RoundTrip(context.Background(), []byte("<request/>"))
	var trErr *wire.TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if trErr.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", trErr.Status)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestRoundTripDoesNotRetryClientErrors(t *testing.T) {
	testlog.Start(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr, err := NewHTTP(srv.URL, fastRetry(5))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	_, err = tr.RoundTrip(context.Background(), []byte("<request/>"))
	var trErr *wire.TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if trErr.Status != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", trErr.Status)
	}
	if hits.Load() != 1 {
		t.Fatalf("client errors must not retry, got %d attempts", hits.Load())
	}
}

func TestRoundTripHonorsCancellation(t *testing.T) {
	testlog.Start(t)
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	tr, err := NewHTTP(srv.URL, fastRetry(1))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = tr.RoundTrip(ctx, []byte("<request/>"))
	if err == nil {
		t.Fatalf("expected cancellation failure")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cancellation cause not preserved: %v", err)
	}
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	testlog.Start(t)
	tests := []string{"", "not-a-url", "/relative/only"}
	for _, raw := range tests {
		if _, err := NewHTTP(raw); !errors.Is(err, ErrInvalidServiceURL) {
			t.Fatalf("expected ErrInvalidServiceURL for %q, got %v", raw, err)
		}
	}
}

func TestNextDelaySchedule(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 300 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 3, want: 300 * time.Millisecond}, // capped
		{attempt: 6, want: 300 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := NextDelay(cfg, tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
