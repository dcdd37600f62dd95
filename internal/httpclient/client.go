package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Shared HTTP client with timeout and connection reuse.
var Default = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client paces outbound requests and retries transient failures.
type Client struct {
	HTTP       *http.Client
	Limiter    *rate.Limiter
	MaxElapsed time.Duration
}

// New returns a client allowing perSec requests per second on the shared transport.
func New(perSec float64) *Client {
	return &Client{
		HTTP:       Default,
		Limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
		MaxElapsed: 20 * time.Second,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Get issues a GET with the given headers. 429 and 5xx are retried with
// exponential backoff; other non-2xx statuses fail immediately. The caller
// closes the returned body.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		if err := c.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		r, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			r.Body.Close()
			statusErr := &StatusError{StatusCode: r.StatusCode}
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.MaxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}
