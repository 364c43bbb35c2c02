package vitals

import "math"

// Rating labels assigned to each metric value.
const (
	RatingGood             = "Good"
	RatingNeedsImprovement = "Needs Improvement"
	RatingPoor             = "Poor"
)

// Metric is one measured value with its rating band and unit.
type Metric struct {
	Value  float64 `json:"value"`
	Rating string  `json:"rating"`
	Unit   string  `json:"unit"`
}

// band holds the upper bounds for Good and Needs Improvement; anything at or
// above the second bound is Poor.
type band struct {
	good float64
	ni   float64
}

var ratingBands = map[string]band{
	"TTFB": {good: 800, ni: 1800},
	"FCP":  {good: 1800, ni: 3000},
	"LCP":  {good: 2500, ni: 4000},
	"CLS":  {good: 0.1, ni: 0.25},
	"FID":  {good: 100, ni: 300},
}

// Rate classifies value against the named metric's thresholds.
func Rate(name string, value float64) string {
	b, ok := ratingBands[name]
	if !ok {
		return RatingPoor
	}
	switch {
	case value < b.good:
		return RatingGood
	case value < b.ni:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

func newMetric(name string, value float64) Metric {
	unit := "ms"
	rounded := round(value, 2)
	if name == "CLS" {
		unit = "score"
		rounded = round(value, 3)
	}
	return Metric{
		Value:  rounded,
		Rating: Rate(name, rounded),
		Unit:   unit,
	}
}

func round(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}
