package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"

	"v2v-service/internal/domain/hazard"
	"v2v-service/internal/metrics"
)

// Cached remembers predictions for identical images for a while, so a
// vehicle resubmitting the same frame does not hit the upstream service again.
type Cached struct {
	next    Detector
	cache   *cache.Cache
	metrics *metrics.PipelineMetrics
}

func NewCached(next Detector, ttl time.Duration, m *metrics.PipelineMetrics) *Cached {
	return &Cached{
		next:    next,
		cache:   cache.New(ttl, 2*ttl),
		metrics: m,
	}
}

func (c *Cached) Detect(ctx context.Context, image string) ([]hazard.Prediction, error) {
	key := imageKey(image)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.CacheHits.Inc()
		return clonePredictions(v.([]hazard.Prediction)), nil
	}

	predictions, err := c.next.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, clonePredictions(predictions))
	return predictions, nil
}

// Flush drops every cached result.
func (c *Cached) Flush() {
	c.cache.Flush()
}

func imageKey(image string) string {
	sum := sha256.Sum256([]byte(image))
	return hex.EncodeToString(sum[:])
}

func clonePredictions(in []hazard.Prediction) []hazard.Prediction {
	if in == nil {
		return nil
	}
	out := make([]hazard.Prediction, len(in))
	copy(out, in)
	return out
}
