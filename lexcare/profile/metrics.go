package profile

import (
	"gonum.org/v1/gonum/stat"
)

// Trend classifies the direction of a timeline.
type Trend string

const (
	TrendInsufficient Trend = "insufficient_data"
	TrendImproving    Trend = "improving"
	TrendStable       Trend = "stable"
	TrendWorsening    Trend = "worsening"
)

// minTrendPoints is the fewest samples a regression is fitted on.
const minTrendPoints = 3

// trendSlope is the per-turn slope treated as movement.
const trendSlope = 0.15

// Metrics are derived from a profile's history.
type Metrics struct {
	DistressTrend   Trend   `json:"distress_trend"`
	AllianceTrend   Trend   `json:"alliance_trend"`
	AverageDistress float64 `json:"average_distress"`
	AverageAlliance float64 `json:"average_alliance"`
	ProgressPercent float64 `json:"progress_percent"`
}

func computeMetrics(emotional []EmotionPoint, alliance []AlliancePoint, milestones *MilestoneSet) Metrics {
	distress := make([]float64, len(emotional))
	for i, pt := range emotional {
		distress[i] = pt.Distress
	}
	composite := make([]float64, len(alliance))
	for i, pt := range alliance {
		composite[i] = pt.Mean()
	}

	m := Metrics{
		DistressTrend:   classify(distress, true),
		AllianceTrend:   classify(composite, false),
		ProgressPercent: milestones.Percent(),
	}
	if len(distress) > 0 {
		m.AverageDistress = stat.Mean(distress, nil)
	}
	if len(composite) > 0 {
		m.AverageAlliance = stat.Mean(composite, nil)
	}
	return m
}

// classify fits a least-squares line over the series. For distress a falling
// line is an improvement; for alliance a rising one is.
func classify(ys []float64, lowerIsBetter bool) Trend {
	if len(ys) < minTrendPoints {
		return TrendInsufficient
	}
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if lowerIsBetter {
		slope = -slope
	}
	switch {
	case slope > trendSlope:
		return TrendImproving
	case slope < -trendSlope:
		return TrendWorsening
	default:
		return TrendStable
	}
}
