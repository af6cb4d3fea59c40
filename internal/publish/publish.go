// Package publish forwards hazard alerts to systems outside the V2V network.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"v2v-service/internal/domain/hazard"
	"v2v-service/internal/metrics"
)

// Alert is the payload external sinks receive for every hazard report.
type Alert struct {
	ReportID       string           `json:"report_id"`
	VehicleID      string           `json:"vehicle_id,omitempty"`
	AlertType      hazard.AlertType `json:"alert_type"`
	Message        string           `json:"message"`
	Icon           string           `json:"icon"`
	Confidence     *float64         `json:"confidence,omitempty"`
	Distance       *float64         `json:"distance,omitempty"`
	DetectionCount int              `json:"detection_count"`
	Timestamp      string           `json:"timestamp"`
}

type Publisher interface {
	Name() string
	Publish(ctx context.Context, alert Alert) error
	Close() error
}

// Multi hands each alert to every configured publisher. A failing publisher
// does not stop the others.
type Multi struct {
	publishers []Publisher
	metrics    *metrics.PublisherMetrics
	log        zerolog.Logger
}

func NewMulti(m *metrics.PublisherMetrics, log zerolog.Logger, publishers ...Publisher) *Multi {
	return &Multi{
		publishers: publishers,
		metrics:    m,
		log:        log.With().Str("component", "publish").Logger(),
	}
}

func (m *Multi) Len() int {
	return len(m.publishers)
}

func (m *Multi) Publish(ctx context.Context, alert Alert) error {
	if len(m.publishers) == 0 {
		return nil
	}

	errs := make([]error, len(m.publishers))
	var wg sync.WaitGroup
	for i, p := range m.publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Publish(ctx, alert)
			m.metrics.Observe(p.Name(), err)
			if err != nil {
				m.log.Error().Err(err).
					Str("publisher", p.Name()).
					Str("report_id", alert.ReportID).
					Msg("failed to publish alert")
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
				return
			}
			m.log.Debug().
				Str("publisher", p.Name()).
				Str("report_id", alert.ReportID).
				Str("alert_type", string(alert.AlertType)).
				Msg("alert published")
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
