package vision

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/goaltrack/internal/calibration"
)

// Goal target dimensions.
const (
	TargetWidthInches   = 20.0
	TargetHeightInches  = 12.0
	TargetElevationFeet = 6.5
	inchesPerFoot       = 12.0

	// BearingOffsetDegrees corrects for the camera being mounted off the
	// robot's centre line.
	BearingOffsetDegrees = 1.3

	// openingFraction is the share of the reflective rectangle's width that
	// is open goal.
	openingFraction = 0.8
)

// ErrUnstableDistance is returned when the diagonal distance is shorter
// than the height difference between camera and goal, which happens when
// the robot is too close for the width-based range estimate.
var ErrUnstableDistance = errors.New("unstable distance estimate at this range")

// SelectLargest returns the index of the rectangle with the largest area,
// or -1 when there are none. Later rectangles win ties.
func SelectLargest(area []float64) int {
	if len(area) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(area); i++ {
		if area[i] >= area[best] {
			best = i
		}
	}
	return best
}

// OpeningWidthInches is the perceived width of the goal opening.
func OpeningWidthInches(width, height float64) float64 {
	return width * openingFraction * (TargetHeightInches / height)
}

// DiagonalDistanceFeet is the straight-line camera to goal distance derived
// from the rectangle's width in pixels.
func DiagonalDistanceFeet(p calibration.Profile, width float64) float64 {
	halfFOV := p.HFOVDegrees / 2 * math.Pi / 180
	return (TargetWidthInches / inchesPerFoot) * (p.HorizontalResPixels / width) / 2 / math.Tan(halfFOV)
}

// HorizontalDistanceFeet projects a diagonal distance onto the floor. It
// returns NaN and ErrUnstableDistance when the projection does not exist.
func HorizontalDistanceFeet(p calibration.Profile, diagonal float64) (float64, error) {
	dz := TargetElevationFeet - p.CameraElevationFeet
	radicand := diagonal*diagonal - dz*dz
	if radicand < 0 {
		return math.NaN(), fmt.Errorf("%w: diagonal %.3f ft, height difference %.3f ft", ErrUnstableDistance, diagonal, dz)
	}
	return math.Sqrt(radicand), nil
}

// TurnAngleDegrees is the bearing from the robot's forward axis to a
// rectangle centred at centerX. Positive angles are to the right.
func TurnAngleDegrees(p calibration.Profile, centerX float64) float64 {
	offset := (centerX - p.HorizontalResPixels/2) / p.HorizontalResPixels
	return offset*p.HFOVDegrees + BearingOffsetDegrees
}
