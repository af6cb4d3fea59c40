package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"v2v-service/internal/domain/hazard"
)

type HazardRepository struct {
	db *gorm.DB
}

func NewHazardRepository(db *gorm.DB) *HazardRepository {
	return &HazardRepository{db: db}
}

type HazardReport struct {
	ID              string `gorm:"primaryKey"`
	VehicleID       *string
	AlertType       string `gorm:"not null"`
	AlertMessage    string `gorm:"not null"`
	AlertIcon       string `gorm:"not null"`
	Confidence      *float64
	NearestDistance *float64
	DetectionCount  int
	Detections      datatypes.JSON
	CreatedAt       time.Time `gorm:"not null"`
}

func (HazardReport) TableName() string {
	return "hazard_reports"
}

// ReportFilter narrows FindReports. Zero values mean no restriction.
type ReportFilter struct {
	AlertType string
	VehicleID string
	Limit     int
	Offset    int
}

func (r *HazardRepository) CreateReport(ctx context.Context, report *hazard.Report) error {
	detections, err := json.Marshal(report.Detections)
	if err != nil {
		return fmt.Errorf("encode detections: %w", err)
	}

	dbReport := HazardReport{
		ID:              report.ID,
		AlertType:       string(report.Decision.AlertType),
		AlertMessage:    report.Decision.AlertMessage,
		AlertIcon:       report.Decision.AlertIcon,
		Confidence:      report.Decision.Confidence,
		NearestDistance: report.Decision.NearestDistance,
		DetectionCount:  len(report.Detections),
		Detections:      datatypes.JSON(detections),
		CreatedAt:       report.CreatedAt,
	}
	if report.VehicleID != "" {
		dbReport.VehicleID = &report.VehicleID
	}
	if dbReport.CreatedAt.IsZero() {
		dbReport.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(&dbReport).Error; err != nil {
		return err
	}
	report.CreatedAt = dbReport.CreatedAt
	return nil
}

func (r *HazardRepository) FindReports(ctx context.Context, filter ReportFilter) ([]HazardReport, error) {
	query := r.db.WithContext(ctx).Model(&HazardReport{})

	if filter.AlertType != "" {
		query = query.Where("alert_type = ?", filter.AlertType)
	}
	if filter.VehicleID != "" {
		query = query.Where("vehicle_id = ?", filter.VehicleID)
	}

	query = query.Order("created_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
		if filter.Limit > 100 {
			query = query.Limit(100)
		}
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var reports []HazardReport
	err := query.Find(&reports).Error
	return reports, err
}

func (r *HazardRepository) DeleteOldReports(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&HazardReport{})
	return result.RowsAffected, result.Error
}

// DecodeDetections unpacks the stored detection list.
func (h HazardReport) DecodeDetections() ([]hazard.Detection, error) {
	if len(h.Detections) == 0 {
		return nil, nil
	}
	var out []hazard.Detection
	if err := json.Unmarshal(h.Detections, &out); err != nil {
		return nil, err
	}
	return out, nil
}
