package detector

import (
	"strings"

	"v2v-service/internal/domain/hazard"
)

// Fixture returns canned predictions for exercising the pipeline without an
// upstream call: two potholes for "pothole", a broken road otherwise.
func Fixture(kind string) []hazard.Prediction {
	if strings.EqualFold(strings.TrimSpace(kind), "pothole") {
		return []hazard.Prediction{
			{Class: "potholes", Confidence: 0.806, X: 185, Y: 212.5, Width: 202, Height: 81},
			{Class: "potholes", Confidence: 0.702, X: 656.5, Y: 216.5, Width: 191, Height: 75},
		}
	}
	return []hazard.Prediction{
		{Class: "broken road", Confidence: 0.566, X: 246, Y: 271, Width: 492, Height: 246},
	}
}
