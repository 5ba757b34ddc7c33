package diag

import (
	"math"
	"time"

	"github.com/banshee-data/goaltrack/internal/vision"
)

// estimateView is the JSON form of a Sample. Infinite and NaN values are
// encoded as null.
type estimateView struct {
	Index              int          `json:"index"`
	Area               *float64     `json:"area"`
	OpeningWidthInches *float64     `json:"opening_width_inches"`
	DiagonalFeet       *float64     `json:"diagonal_feet"`
	HorizontalFeet     *float64     `json:"horizontal_feet"`
	TurnAngleDegrees   *float64     `json:"turn_angle_degrees"`
	AspectRatio        *float64     `json:"aspect_ratio"`
	Found              bool         `json:"found"`
	Coherent           bool         `json:"coherent"`
	Unstable           bool         `json:"unstable"`
	Attempts           int          `json:"attempts"`
	AcquiredAt         time.Time    `json:"acquired_at"`
	Gates              vision.Gates `json:"gates"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// finiteAll maps each value through finite.
func finiteAll(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		out[i] = finite(v)
	}
	return out
}

func viewOf(s Sample) estimateView {
	e := s.Estimate
	return estimateView{
		Index:              e.Index,
		Area:               finite(e.Area),
		OpeningWidthInches: finite(e.OpeningWidthInches),
		DiagonalFeet:       finite(e.DiagonalFeet),
		HorizontalFeet:     finite(e.HorizontalFeet),
		TurnAngleDegrees:   finite(e.TurnAngleDegrees),
		AspectRatio:        finite(e.AspectRatio),
		Found:              e.Found,
		Coherent:           e.Coherent,
		Unstable:           e.Unstable,
		Attempts:           e.Attempts,
		AcquiredAt:         e.AcquiredAt,
		Gates:              s.Gates,
	}
}

func viewsOf(samples []Sample) []estimateView {
	out := make([]estimateView, len(samples))
	for i, s := range samples {
		out[i] = viewOf(s)
	}
	return out
}
