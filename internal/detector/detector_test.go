package detector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2v-service/internal/domain/hazard"
	"v2v-service/internal/metrics"
)

const testEndpoint = "https://detect.example.com/pothole-and-speed-breaker-detect/1"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	client := NewClient(Options{
		Endpoint:   testEndpoint,
		APIKey:     "test-key",
		Confidence: 0.4,
		Overlap:    0.3,
		Timeout:    time.Second,
	}, metrics.NewUnregistered().Pipeline, zerolog.Nop())

	transport := httpmock.NewMockTransport()
	client.HTTPClient().Transport = transport
	return client, transport
}

func TestClient_Detect_Success(t *testing.T) {
	client, transport := newMockedClient(t)

	transport.RegisterResponderWithQuery(http.MethodPost, testEndpoint,
		map[string]string{"api_key": "test-key", "confidence": "0.4", "overlap": "0.3"},
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, "aGVsbG8=", string(body))

			return httpmock.NewJsonResponse(http.StatusOK, hazard.PredictionResponse{
				Predictions: Fixture("pothole"),
			})
		})

	predictions, err := client.Detect(context.Background(), "aGVsbG8=")
	require.NoError(t, err)
	require.Len(t, predictions, 2)
	assert.Equal(t, "potholes", predictions[0].Class)
	assert.InDelta(t, 0.806, predictions[0].Confidence, 1e-9)
	assert.InDelta(t, 202, predictions[0].Width, 1e-9)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestClient_Detect_EmptyPredictions(t *testing.T) {
	client, transport := newMockedClient(t)
	transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusOK, `{"predictions":[]}`))

	predictions, err := client.Detect(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, predictions)
}

func TestClient_Detect_UpstreamStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"unauthorized", http.StatusUnauthorized},
		{"forbidden", http.StatusForbidden},
		{"internal_server_error", http.StatusInternalServerError},
		{"service_unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, transport := newMockedClient(t)
			transport.RegisterNoResponder(httpmock.NewStringResponder(tt.status, `{"message":"nope"}`))

			predictions, err := client.Detect(context.Background(), "x")
			require.Error(t, err)
			assert.Nil(t, predictions)
			assert.True(t, errors.Is(err, ErrUpstream))

			var upstream *UpstreamError
			require.ErrorAs(t, err, &upstream)
			assert.Equal(t, tt.status, upstream.StatusCode)
			assert.Contains(t, err.Error(), "AI detection service error")
		})
	}
}

func TestClient_Detect_TransportFailure(t *testing.T) {
	client, transport := newMockedClient(t)
	transport.RegisterNoResponder(httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := client.Detect(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestClient_Detect_BadJSON(t *testing.T) {
	client, transport := newMockedClient(t)
	transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusOK, `not json`))

	_, err := client.Detect(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstream)
}

type countingDetector struct {
	calls int
	err   error
}

func (d *countingDetector) Detect(context.Context, string) ([]hazard.Prediction, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return Fixture("other"), nil
}

func TestCached_ReusesResults(t *testing.T) {
	m := metrics.NewUnregistered().Pipeline
	next := &countingDetector{}
	cached := NewCached(next, time.Minute, m)

	first, err := cached.Detect(context.Background(), "frame-1")
	require.NoError(t, err)
	first[0].Class = "mutated"

	second, err := cached.Detect(context.Background(), "frame-1")
	require.NoError(t, err)
	assert.Equal(t, "broken road", second[0].Class)
	assert.Equal(t, 1, next.calls)

	_, err = cached.Detect(context.Background(), "frame-2")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)

	cached.Flush()
	_, err = cached.Detect(context.Background(), "frame-1")
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	next := &countingDetector{err: &UpstreamError{StatusCode: http.StatusBadGateway}}
	cached := NewCached(next, time.Minute, metrics.NewUnregistered().Pipeline)

	_, err := cached.Detect(context.Background(), "frame")
	require.ErrorIs(t, err, ErrUpstream)
	_, err = cached.Detect(context.Background(), "frame")
	require.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 2, next.calls)
}

func TestFixture(t *testing.T) {
	assert.Len(t, Fixture("pothole"), 2)
	assert.Len(t, Fixture("  POTHOLE "), 2)
	other := Fixture("anything")
	require.Len(t, other, 1)
	assert.Equal(t, "broken road", other[0].Class)
}
