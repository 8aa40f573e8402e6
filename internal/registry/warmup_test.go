package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/outboundly/campaigns/internal/clock"
)

func TestHTTPWarmer_SucceedsOnFirstProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewHTTPWarmer(srv.Client(), 3, time.Millisecond, clock.NewFake(time.Unix(0, 0)))
	if err := w.Warmup(context.Background(), srv.URL); err != nil {
		t.Fatalf("Warmup() error = %v", err)
	}
}

func TestHTTPWarmer_RetriesThenSucceeds(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fc := clock.NewFake(time.Unix(0, 0))
	done := make(chan error, 1)
	w := NewHTTPWarmer(srv.Client(), 5, time.Second, fc)
	go func() { done <- w.Warmup(context.Background(), srv.URL) }()

	for attempts < 3 {
		time.Sleep(time.Millisecond)
		fc.Advance(time.Second)
	}

	if err := <-done; err != nil {
		t.Fatalf("Warmup() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestHTTPWarmer_ExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fc := clock.NewFake(time.Unix(0, 0))
	done := make(chan error, 1)
	w := NewHTTPWarmer(srv.Client(), 2, time.Second, fc)
	go func() { done <- w.Warmup(context.Background(), srv.URL) }()

	time.Sleep(5 * time.Millisecond)
	fc.Advance(time.Second)

	err := <-done
	if !errors.Is(err, ErrBotNotReady) {
		t.Fatalf("Warmup() error = %v, want ErrBotNotReady", err)
	}
}

func TestHTTPWarmer_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fc := clock.NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	w := NewHTTPWarmer(srv.Client(), 5, time.Hour, fc)

	done := make(chan error, 1)
	go func() { done <- w.Warmup(ctx, srv.URL) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Warmup() error = %v, want context.Canceled", err)
	}
}
