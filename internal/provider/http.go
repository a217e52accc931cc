package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/joss/sagi/internal/logging"
	"github.com/joss/sagi/internal/metrics"
	"github.com/joss/sagi/internal/retry"
)

// HTTPClient interface for HTTP requests (enables testing)
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Verify http.Client implements HTTPClient
var _ HTTPClient = (*http.Client)(nil)

// transport is the shared request path of every provider: pacing, retry
// of the initial request and status mapping. Retries stop once a 2xx body
// is handed to the stream driver.
type transport struct {
	provider string
	client   HTTPClient
	limiter  *rate.Limiter
	retry    retry.Options
	log      *logging.Logger
}

func newTransport(provider string, cfg Config) *transport {
	t := &transport{
		provider: provider,
		client:   cfg.HTTPClient,
		retry:    cfg.Retry,
		log:      logging.New("provider." + provider),
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	onRetry := t.retry.OnRetry
	t.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.Global().RecordRetry()
		t.log.Warn("retry", map[string]any{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}, err)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	return t
}

// open POSTs body to url and returns the response body of the first 2xx
// answer. headers is applied to every attempt.
func (t *transport) open(ctx context.Context, url string, headers map[string]string, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", t.provider, err)
	}

	return retry.DoValue(ctx, func(ctx context.Context) (io.ReadCloser, error) {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := retry.NewAPIError(t.provider, resp)
			resp.Body.Close()
			return nil, apiErr
		}
		return resp.Body, nil
	}, t.retry)
}
