package hazard

import (
	"fmt"
	"math"
	"sort"

	"v2v-service/internal/domain/hazard"
)

const (
	iconClear        = "✅"
	iconPothole      = "🕳️"
	iconSpeedBreaker = "🚧"
	iconHazard       = "⚠️"
)

type alertTemplate struct {
	icon   string
	noun   string
	advice string
}

var alertTemplates = map[hazard.AlertType]alertTemplate{
	hazard.AlertPothole:      {icon: iconPothole, noun: "Pothole", advice: "Reduce speed"},
	hazard.AlertSpeedBreaker: {icon: iconSpeedBreaker, noun: "Speed breaker", advice: "Slow down"},
	hazard.AlertHazard:       {icon: iconHazard, noun: "Road hazard", advice: "Proceed with caution"},
}

// Clear is the decision for a frame with nothing on the road.
func Clear() hazard.AlertDecision {
	return hazard.AlertDecision{
		HasHazards:   false,
		AlertType:    hazard.AlertClear,
		AlertMessage: "No hazards detected - Road clear",
		AlertIcon:    iconClear,
	}
}

// Rank picks the nearest detection (most confident on ties, unknown distance
// last) and builds the alert for it. The input slice is not modified.
func Rank(detections []hazard.Detection) hazard.AlertDecision {
	if len(detections) == 0 {
		return Clear()
	}

	primary := Primary(detections)
	family := Classify(primary.Type)
	tmpl := alertTemplates[family]

	clause := ""
	if primary.Distance != nil {
		clause = primary.DistanceString + " "
	}

	confidence := primary.Confidence
	decision := hazard.AlertDecision{
		HasHazards:   true,
		AlertType:    family,
		AlertIcon:    tmpl.icon,
		AlertMessage: fmt.Sprintf("%s %s detected %sahead - %s", tmpl.icon, tmpl.noun, clause, tmpl.advice),
		Confidence:   &confidence,
	}
	if primary.Distance != nil {
		nearest := *primary.Distance
		decision.NearestDistance = &nearest
	}
	return decision
}

// Primary returns the detection an alert should be about. It panics on an
// empty slice.
func Primary(detections []hazard.Detection) hazard.Detection {
	return Sorted(detections)[0]
}

// Sorted returns a copy of detections ordered nearest first, with unknown
// distances last and higher confidence winning ties.
func Sorted(detections []hazard.Detection) []hazard.Detection {
	sorted := make([]hazard.Detection, len(detections))
	copy(sorted, detections)

	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sortDistance(sorted[i]), sortDistance(sorted[j])
		if di != dj {
			return di < dj
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})
	return sorted
}

func sortDistance(d hazard.Detection) float64 {
	if d.Distance == nil {
		return math.Inf(1)
	}
	return *d.Distance
}
