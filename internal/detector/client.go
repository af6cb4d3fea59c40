// Package detector talks to the upstream object-detection service.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"v2v-service/internal/domain/hazard"
	"v2v-service/internal/metrics"
)

var ErrUpstream = errors.New("detection service error")

// UpstreamError is returned when the detection service cannot be reached or
// answers with a non-200 status. It is never retried.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("AI detection service error: %d", e.StatusCode)
	}
	return fmt.Sprintf("AI detection service error: %v", e.Err)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

func (e *UpstreamError) Unwrap() error { return e.Err }

// Detector returns the raw predictions for a base64 encoded image.
type Detector interface {
	Detect(ctx context.Context, image string) ([]hazard.Prediction, error)
}

type Options struct {
	Endpoint   string
	APIKey     string
	Confidence float64
	Overlap    float64
	Timeout    time.Duration
}

type Client struct {
	httpClient *http.Client
	opts       Options
	metrics    *metrics.PipelineMetrics
	log        zerolog.Logger
}

func NewClient(opts Options, m *metrics.PipelineMetrics, log zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		metrics:    m,
		log:        log.With().Str("component", "detector").Logger(),
	}
}

// HTTPClient exposes the underlying client so tests can intercept it.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) Detect(ctx context.Context, image string) ([]hazard.Prediction, error) {
	endpoint, err := c.requestURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build detection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Error().Err(err).Msg("detection request failed")
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("detection service returned an error")
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var payload hazard.PredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("decode response: %w", err)}
	}

	c.log.Debug().
		Int("predictions", len(payload.Predictions)).
		Dur("latency", time.Since(start)).
		Msg("detection service responded")
	return payload.Predictions, nil
}

func (c *Client) requestURL() (string, error) {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse detector endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.opts.APIKey)
	q.Set("confidence", strconv.FormatFloat(c.opts.Confidence, 'f', -1, 64))
	q.Set("overlap", strconv.FormatFloat(c.opts.Overlap, 'f', -1, 64))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
