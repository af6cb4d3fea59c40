// Package hazard turns raw object detections into distance-ranked road alerts.
package hazard

import (
	"fmt"
	"math"
	"strings"

	"v2v-service/internal/domain/hazard"
)

// FocalLength is the camera calibration constant in pixels.
const FocalLength = 800.0

type referenceSize struct {
	width  float64
	height float64
}

// Real-world dimensions in meters per hazard family.
var referenceSizes = map[hazard.AlertType]referenceSize{
	hazard.AlertPothole:      {width: 0.30, height: 0.10},
	hazard.AlertSpeedBreaker: {width: 3.00, height: 0.15},
}

var classFamilies = map[string]hazard.AlertType{
	"pothole":       hazard.AlertPothole,
	"potholes":      hazard.AlertPothole,
	"speed_breaker": hazard.AlertSpeedBreaker,
	"speedbreaker":  hazard.AlertSpeedBreaker,
	"broken road":   hazard.AlertSpeedBreaker,
}

// Classify maps a detector class label onto a hazard family. Unrecognised
// labels fall into the generic hazard family.
func Classify(class string) hazard.AlertType {
	if family, ok := classFamilies[strings.ToLower(strings.TrimSpace(class))]; ok {
		return family
	}
	return hazard.AlertHazard
}

// Estimate approximates the distance in meters to an object of the given class
// from its apparent pixel size, averaging the width and height estimates.
// ok is false for unknown classes and for unusable pixel sizes.
func Estimate(class string, pixelWidth, pixelHeight float64) (distance float64, ok bool) {
	size, known := referenceSizes[Classify(class)]
	if !known {
		return 0, false
	}
	if !usable(pixelWidth) || !usable(pixelHeight) {
		return 0, false
	}

	fromWidth := (size.width * FocalLength) / pixelWidth
	fromHeight := (size.height * FocalLength) / pixelHeight
	distance = (fromWidth + fromHeight) / 2

	if !usable(distance) {
		return 0, false
	}
	return distance, true
}

func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// FormatDistance renders a distance for display: whole centimeters below one
// meter, one decimal meter otherwise.
func FormatDistance(distance float64, ok bool) string {
	if !ok {
		return "Unknown distance"
	}
	if distance < 1.0 {
		return fmt.Sprintf("%d cm", int(math.Floor(distance*100)))
	}
	return fmt.Sprintf("%.1f m", distance)
}

// ProcessPredictions converts upstream predictions into detections with
// estimated distances.
func ProcessPredictions(predictions []hazard.Prediction) []hazard.Detection {
	detections := make([]hazard.Detection, 0, len(predictions))
	for _, p := range predictions {
		d := hazard.Detection{
			Type:       p.Class,
			Confidence: p.Confidence,
			BoundingBox: hazard.BoundingBox{
				X:      p.X,
				Y:      p.Y,
				Width:  p.Width,
				Height: p.Height,
			},
		}
		distance, ok := Estimate(p.Class, p.Width, p.Height)
		if ok {
			d.Distance = &distance
		}
		d.DistanceString = FormatDistance(distance, ok)
		detections = append(detections, d)
	}
	return detections
}
