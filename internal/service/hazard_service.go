package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"v2v-service/internal/detector"
	"v2v-service/internal/domain/hazard"
	"v2v-service/internal/domain/v2v"
	alerts "v2v-service/internal/hazard"
	"v2v-service/internal/metrics"
	"v2v-service/internal/publish"
	"v2v-service/internal/relay"
	"v2v-service/internal/repository"
	"v2v-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
)

type ReportStore interface {
	CreateReport(ctx context.Context, report *hazard.Report) error
	FindReports(ctx context.Context, filter repository.ReportFilter) ([]repository.HazardReport, error)
	DeleteOldReports(ctx context.Context, days int) (int64, error)
}

type AlertPublisher interface {
	Publish(ctx context.Context, alert publish.Alert) error
}

type AlertRelay interface {
	Publish(ctx context.Context, senderID string, msg v2v.Relayable) (relay.BroadcastResult, error)
}

// Dependencies wires the optional collaborators. Nil reports, publisher or
// relay disable persistence, external publishing and V2V relaying.
type Dependencies struct {
	Detector  detector.Detector
	Reports   ReportStore
	Publisher AlertPublisher
	Relay     AlertRelay
	Metrics   *metrics.PipelineMetrics
}

type HazardService struct {
	detector  detector.Detector
	reports   ReportStore
	publisher AlertPublisher
	relay     AlertRelay
	metrics   *metrics.PipelineMetrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewHazardService(deps Dependencies, log zerolog.Logger) *HazardService {
	return &HazardService{
		detector:  deps.Detector,
		reports:   deps.Reports,
		publisher: deps.Publisher,
		relay:     deps.Relay,
		metrics:   deps.Metrics,
		log:       log,
		now:       time.Now,
	}
}

type ProcessImageInput struct {
	Image     string `json:"image"`
	VehicleID string `json:"vehicle_id"`
}

// ProcessImage runs one camera frame through detection, distance estimation
// and ranking. Hazardous results are stored, published and relayed to the
// other vehicles when the submitting vehicle is connected.
func (s *HazardService) ProcessImage(ctx context.Context, in ProcessImageInput) (*hazard.DetectionResult, error) {
	image := utils.StripDataURL(in.Image)
	if image == "" {
		s.metrics.ObserveOutcome("invalid")
		return nil, fmt.Errorf("%w: No image data provided", ErrInvalidInput)
	}
	vehicleID := strings.TrimSpace(in.VehicleID)

	s.log.Info().
		Int("image_chars", len(image)).
		Str("vehicle_id", vehicleID).
		Msg("processing image")

	predictions, err := s.detector.Detect(ctx, image)
	if err != nil {
		s.metrics.ObserveOutcome("upstream_error")
		return nil, fmt.Errorf("detect hazards: %w", err)
	}

	result := s.evaluate(alerts.ProcessPredictions(predictions))
	s.logResult(result)

	if result.HasHazards {
		report := &hazard.Report{
			ID:         uuid.NewString(),
			VehicleID:  vehicleID,
			Decision:   result.AlertDecision,
			Detections: result.Detections,
			CreatedAt:  s.now().UTC(),
		}
		if s.saveReport(ctx, report) {
			result.ReportID = report.ID
		}
		s.publishAlert(ctx, report)
		if vehicleID != "" {
			result.Relayed = s.relayAlert(ctx, vehicleID, result)
		}
	}

	s.metrics.ObserveOutcome("ok")
	return result, nil
}

// TestDetection ranks canned detections so clients can exercise alerts
// without a camera. Nothing is stored or relayed.
func (s *HazardService) TestDetection(kind string) *hazard.DetectionResult {
	if strings.TrimSpace(kind) == "" {
		kind = "pothole"
	}
	s.log.Info().Str("type", kind).Msg("running test detection")
	return s.evaluate(alerts.ProcessPredictions(detector.Fixture(kind)))
}

func (s *HazardService) evaluate(detections []hazard.Detection) *hazard.DetectionResult {
	decision := alerts.Rank(detections)
	s.metrics.ObserveAlert(string(decision.AlertType))

	ordered := alerts.Sorted(detections)
	all := make([]hazard.Detection, len(ordered))
	copy(all, ordered)

	return &hazard.DetectionResult{
		Success:        true,
		Timestamp:      v2v.FormatTimestamp(s.now()),
		DetectionCount: len(ordered),
		Detections:     ordered,
		AlertDecision:  decision,
		AllDetections:  all,
	}
}

func (s *HazardService) logResult(result *hazard.DetectionResult) {
	if !result.HasHazards {
		s.log.Info().Msg("no hazards detected")
		return
	}
	nearest := result.Detections[0]
	event := s.log.Info().
		Str("type", nearest.Type).
		Int("detections", result.DetectionCount)
	if nearest.Distance != nil {
		event.Str("distance", nearest.DistanceString).Msg("nearest hazard")
		return
	}
	event.Msg("hazard detected, distance unknown")
}

func (s *HazardService) saveReport(ctx context.Context, report *hazard.Report) bool {
	if s.reports == nil {
		return false
	}
	if err := s.reports.CreateReport(ctx, report); err != nil {
		s.log.Error().
			Err(err).
			Str("report_id", report.ID).
			Str("vehicle_id", report.VehicleID).
			Msg("failed to save hazard report")
		return false
	}
	s.log.Debug().Str("report_id", report.ID).Msg("saved hazard report")
	return true
}

func (s *HazardService) publishAlert(ctx context.Context, report *hazard.Report) {
	if s.publisher == nil {
		return
	}
	alert := publish.Alert{
		ReportID:       report.ID,
		VehicleID:      report.VehicleID,
		AlertType:      report.Decision.AlertType,
		Message:        report.Decision.AlertMessage,
		Icon:           report.Decision.AlertIcon,
		Confidence:     report.Decision.Confidence,
		Distance:       report.Decision.NearestDistance,
		DetectionCount: len(report.Detections),
		Timestamp:      v2v.FormatTimestamp(report.CreatedAt),
	}
	// Publishers log their own failures.
	_ = s.publisher.Publish(ctx, alert)
}

func (s *HazardService) relayAlert(ctx context.Context, vehicleID string, result *hazard.DetectionResult) bool {
	if s.relay == nil {
		return false
	}

	extra := map[string]any{
		"alertType": result.AlertType,
		"alertIcon": result.AlertIcon,
	}
	if result.NearestDistance != nil {
		extra["distance"] = *result.NearestDistance
	}
	if result.Confidence != nil {
		extra["confidence"] = *result.Confidence
	}
	if result.ReportID != "" {
		extra["reportId"] = result.ReportID
	}

	msg, err := v2v.NewAlert(vehicleID, result.AlertMessage, extra)
	if err != nil {
		s.log.Error().Err(err).Str("vehicle_id", vehicleID).Msg("failed to build safety alert")
		return false
	}

	broadcast, err := s.relay.Publish(ctx, vehicleID, msg)
	if err != nil {
		if errors.Is(err, relay.ErrNotRegistered) {
			s.log.Debug().Str("vehicle_id", vehicleID).Msg("vehicle not connected, alert not relayed")
		} else {
			s.log.Error().Err(err).Str("vehicle_id", vehicleID).Msg("failed to relay safety alert")
		}
		return false
	}

	s.log.Info().
		Str("vehicle_id", vehicleID).
		Int("recipients", broadcast.Recipients).
		Int("delivered", len(broadcast.Delivered)).
		Msg("safety alert relayed")
	return true
}

func (s *HazardService) FindReports(ctx context.Context, alertType, vehicleID string, limit, offset int) ([]ReportInfo, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("%w: report storage is disabled", ErrUnavailable)
	}

	alertType = strings.ToLower(strings.TrimSpace(alertType))
	switch hazard.AlertType(alertType) {
	case "", hazard.AlertPothole, hazard.AlertSpeedBreaker, hazard.AlertHazard:
	default:
		return nil, fmt.Errorf("%w: unknown alert_type %q", ErrInvalidInput, alertType)
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	reports, err := s.reports.FindReports(ctx, repository.ReportFilter{
		AlertType: alertType,
		VehicleID: strings.TrimSpace(vehicleID),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find reports: %w", err)
	}

	result := make([]ReportInfo, 0, len(reports))
	for _, r := range reports {
		detections, err := r.DecodeDetections()
		if err != nil {
			s.log.Warn().Err(err).Str("report_id", r.ID).Msg("stored detections are unreadable")
		}
		result = append(result, ReportInfo{
			ID:              r.ID,
			VehicleID:       r.VehicleID,
			AlertType:       r.AlertType,
			AlertMessage:    r.AlertMessage,
			AlertIcon:       r.AlertIcon,
			Confidence:      r.Confidence,
			NearestDistance: r.NearestDistance,
			DetectionCount:  r.DetectionCount,
			Detections:      detections,
			CreatedAt:       r.CreatedAt,
		})
	}
	return result, nil
}

// CleanupOldReports deletes reports older than the given number of days.
func (s *HazardService) CleanupOldReports(ctx context.Context, days int) (int64, error) {
	if s.reports == nil || days <= 0 {
		return 0, nil
	}
	deleted, err := s.reports.DeleteOldReports(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old reports")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old reports")
	}
	return deleted, nil
}

// RunCleanup calls CleanupOldReports every interval until ctx is done.
func (s *HazardService) RunCleanup(ctx context.Context, interval time.Duration, days int) {
	if s.reports == nil || interval <= 0 || days <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.CleanupOldReports(ctx, days)
		}
	}
}

type ReportInfo struct {
	ID              string             `json:"id"`
	VehicleID       *string            `json:"vehicle_id,omitempty"`
	AlertType       string             `json:"alert_type"`
	AlertMessage    string             `json:"alert_message"`
	AlertIcon       string             `json:"alert_icon"`
	Confidence      *float64           `json:"confidence,omitempty"`
	NearestDistance *float64           `json:"nearest_distance,omitempty"`
	DetectionCount  int                `json:"detection_count"`
	Detections      []hazard.Detection `json:"detections"`
	CreatedAt       time.Time          `json:"created_at"`
}
