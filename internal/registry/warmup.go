package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/outboundly/campaigns/internal/clock"
)

// ErrBotNotReady is returned when a bot endpoint fails every warmup probe.
var ErrBotNotReady = fmt.Errorf("registry: bot not ready")

// HTTPWarmer probes a bot endpoint's health with bounded retries before
// the runner dials.
type HTTPWarmer struct {
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	clock       clock.Clock
}

// NewHTTPWarmer builds a Warmer that GETs botEndpoint with a trailing
// "/healthz" path, retrying up to maxAttempts times with backoff between
// attempts.
func NewHTTPWarmer(client *http.Client, maxAttempts int, backoff time.Duration, c clock.Clock) *HTTPWarmer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if c == nil {
		c = clock.Real()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &HTTPWarmer{client: client, maxAttempts: maxAttempts, backoff: backoff, clock: c}
}

// Warmup probes botEndpoint up to maxAttempts times, sleeping backoff
// between attempts, and returns ErrBotNotReady on exhaustion.
func (w *HTTPWarmer) Warmup(ctx context.Context, botEndpoint string) error {
	var lastErr error
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.clock.After(w.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, botEndpoint+"/healthz", nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("bot endpoint returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrBotNotReady, lastErr)
}
