package hazard

import (
	"time"
)

type AlertType string

const (
	AlertClear        AlertType = "clear"
	AlertPothole      AlertType = "pothole"
	AlertSpeedBreaker AlertType = "speedbreaker"
	AlertHazard       AlertType = "hazard"
)

// Prediction is a single object reported by the upstream detection service.
// X and Y are the box centre, as the service reports them.
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

type PredictionResponse struct {
	Predictions []Prediction `json:"predictions"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Detection struct {
	Type           string      `json:"type"`
	Confidence     float64     `json:"confidence"`
	BoundingBox    BoundingBox `json:"boundingBox"`
	Distance       *float64    `json:"distance"`
	DistanceString string      `json:"distanceString"`
}

type AlertDecision struct {
	HasHazards      bool      `json:"hasHazards"`
	AlertType       AlertType `json:"alertType"`
	AlertMessage    string    `json:"alertMessage"`
	AlertIcon       string    `json:"alertIcon"`
	Confidence      *float64  `json:"confidence,omitempty"`
	NearestDistance *float64  `json:"nearestDistance,omitempty"`
}

type DetectionResult struct {
	Success        bool        `json:"success"`
	ReportID       string      `json:"reportId,omitempty"`
	Timestamp      string      `json:"timestamp"`
	DetectionCount int         `json:"detectionCount"`
	Detections     []Detection `json:"detections"`
	AlertDecision
	AllDetections []Detection `json:"allDetections"`
	Relayed       bool        `json:"relayed,omitempty"`
}

type Report struct {
	ID         string
	VehicleID  string
	Decision   AlertDecision
	Detections []Detection
	CreatedAt  time.Time
}
