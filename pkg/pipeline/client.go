// Package pipeline provides a client for the question-answering pipeline endpoints.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/rag-evaluator/internal/model"
)

// Client sends queries to the configured pipelines.
type Client interface {
	// Ask posts the query to the endpoint selected by p and returns its answer.
	// Every call reaches the backend; nothing is cached or retried.
	Ask(ctx context.Context, p model.Pipeline, query string, resultCount int) (*model.Answer, error)
}

// Request is the JSON body posted to a pipeline endpoint.
type Request struct {
	Query   string `json:"query"`
	NResult int    `json:"n_result"`
}

// Response is the JSON body a pipeline endpoint returns.
type Response struct {
	Summary   *string    `json:"summary"`
	Documents [][]string `json:"documents"`
}

// UnavailableError reports a transport failure, non-2xx status or malformed
// body from a pipeline endpoint.
type UnavailableError struct {
	Pipeline   model.Pipeline
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pipeline %s unavailable (status %d): %v", e.Pipeline, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("pipeline %s unavailable: %v", e.Pipeline, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err (or any error in its chain) is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout bounds each request. Zero leaves the transport default in place.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit caps requests per second to each pipeline. Calls wait for a
// token instead of failing. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *httpClient) {
		c.rate = rate.Limit(perSecond)
		c.burst = burst
	}
}

type httpClient struct {
	endpoints map[model.Pipeline]string
	http      *http.Client
	rate      rate.Limit
	burst     int
	limiters  map[model.Pipeline]*rate.Limiter
}

// NewClient creates a pipeline client over the given endpoint URLs.
func NewClient(endpoints map[model.Pipeline]string, opts ...Option) (Client, error) {
	c := &httpClient{
		endpoints: make(map[model.Pipeline]string, len(endpoints)),
		http:      &http.Client{},
	}
	for p, u := range endpoints {
		if !p.Valid() {
			return nil, eris.Errorf("pipeline: unknown pipeline %q in endpoints", p)
		}
		if strings.TrimSpace(u) == "" {
			return nil, eris.Errorf("pipeline: empty endpoint for %s", p)
		}
		c.endpoints[p] = u
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rate > 0 {
		c.limiters = make(map[model.Pipeline]*rate.Limiter, len(c.endpoints))
		for p := range c.endpoints {
			c.limiters[p] = rate.NewLimiter(c.rate, max(c.burst, 1))
		}
	}
	return c, nil
}

func (c *httpClient) Ask(ctx context.Context, p model.Pipeline, query string, resultCount int) (*model.Answer, error) {
	endpoint, ok := c.endpoints[p]
	if !ok {
		return nil, eris.Errorf("pipeline: no endpoint configured for %q", p)
	}

	if lim := c.limiters[p]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, &UnavailableError{Pipeline: p, Err: eris.Wrap(err, "pipeline: rate limit wait")}
		}
	}

	payload, err := json.Marshal(Request{Query: query, NResult: resultCount})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Pipeline: p, Err: eris.Wrap(err, "pipeline: request failed")}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Pipeline: p, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "pipeline: read response body")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UnavailableError{
			Pipeline:   p,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("pipeline: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 512)),
		}
	}

	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &UnavailableError{Pipeline: p, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "pipeline: unmarshal response")}
	}

	ans := &model.Answer{
		Summary:   model.NoSummary,
		Documents: result.Documents,
	}
	if result.Summary != nil {
		ans.Summary = *result.Summary
	}
	if ans.Documents == nil {
		ans.Documents = [][]string{}
	}
	return ans, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
