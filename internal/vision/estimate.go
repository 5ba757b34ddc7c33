package vision

import (
	"math"
	"time"

	"github.com/banshee-data/goaltrack/internal/calibration"
)

// turnAngleSlack absorbs sensor jitter at the edges of the turn bands.
const turnAngleSlack = 0.05

// Estimate is the result of one acquisition. It is recomputed from scratch
// on every Acquire call.
type Estimate struct {
	// Index of the selected rectangle, -1 when no target was found.
	Index              int
	Area               float64
	OpeningWidthInches float64
	DiagonalFeet       float64
	// HorizontalFeet is NaN when the range estimate was unstable.
	HorizontalFeet   float64
	TurnAngleDegrees float64
	// AspectRatio is |width / height| of the selected rectangle.
	AspectRatio float64

	Found    bool
	Coherent bool
	Unstable bool
	// Attempts is how many reads were taken before the data was coherent
	// or the retry limit was hit.
	Attempts   int
	AcquiredAt time.Time
}

// NoTarget returns the estimate used when nothing usable was read.
func NoTarget() Estimate {
	return Estimate{
		Index:          -1,
		DiagonalFeet:   math.Inf(1),
		HorizontalFeet: math.Inf(1),
	}
}

// TargetFound reports whether a rectangle was selected.
func (e Estimate) TargetFound() bool {
	return e.Found
}

// InFarDistance reports whether the robot is inside the long range band.
func (e Estimate) InFarDistance(p calibration.Profile) bool {
	return p.FarDistanceFeet.Contains(e.HorizontalFeet)
}

// InCloseDistance reports whether the robot is inside the short range band.
func (e Estimate) InCloseDistance(p calibration.Profile) bool {
	return p.CloseDistanceFeet.Contains(e.HorizontalFeet)
}

// InDistance reports whether either range band holds.
func (e Estimate) InDistance(p calibration.Profile) bool {
	return e.InFarDistance(p) || e.InCloseDistance(p)
}

// InTurnAngle reports whether the robot is aimed at the goal.
func (e Estimate) InTurnAngle(p calibration.Profile) bool {
	return e.Found && p.TurnAngleDegrees.Widen(turnAngleSlack).Contains(e.TurnAngleDegrees)
}

// InCoarseTurnAngle is InTurnAngle against the wider band used for the
// first rotation pass.
func (e Estimate) InCoarseTurnAngle(p calibration.Profile) bool {
	return e.Found && p.CoarseTurnAngle.Widen(turnAngleSlack).Contains(e.TurnAngleDegrees)
}

// InLineWithGoal reports whether the goal is seen face on rather than off
// to one side.
func (e Estimate) InLineWithGoal(p calibration.Profile) bool {
	return e.Found && e.AspectRatio > p.InLineMinAspect
}

// Gates is the set of predicate results for one estimate.
type Gates struct {
	TargetFound       bool `json:"target_found"`
	InFarDistance     bool `json:"in_far_distance"`
	InCloseDistance   bool `json:"in_close_distance"`
	InDistance        bool `json:"in_distance"`
	InTurnAngle       bool `json:"in_turn_angle"`
	InCoarseTurnAngle bool `json:"in_coarse_turn_angle"`
	InLineWithGoal    bool `json:"in_line_with_goal"`
}

// Gates evaluates every predicate against p.
func (e Estimate) Gates(p calibration.Profile) Gates {
	return Gates{
		TargetFound:       e.TargetFound(),
		InFarDistance:     e.InFarDistance(p),
		InCloseDistance:   e.InCloseDistance(p),
		InDistance:        e.InDistance(p),
		InTurnAngle:       e.InTurnAngle(p),
		InCoarseTurnAngle: e.InCoarseTurnAngle(p),
		InLineWithGoal:    e.InLineWithGoal(p),
	}
}

// WheelRevolutions converts the turn angle into the left and right motor
// revolutions that rotate the robot onto the goal. Both are zero without a
// target.
func (e Estimate) WheelRevolutions(p calibration.Profile) (left, right float64) {
	if !e.Found {
		return 0, 0
	}
	return p.WheelRevolutionsForTurn(e.TurnAngleDegrees)
}

// estimate derives an Estimate from a set already known to be coherent.
func estimate(p calibration.Profile, rects RectangleSet) (Estimate, error) {
	i := SelectLargest(rects.Area.Values)
	if i < 0 {
		e := NoTarget()
		e.Coherent = true
		return e, nil
	}

	w, h := rects.Width.Values[i], rects.Height.Values[i]
	e := Estimate{
		Index:              i,
		Area:               rects.Area.Values[i],
		OpeningWidthInches: OpeningWidthInches(w, h),
		DiagonalFeet:       DiagonalDistanceFeet(p, w),
		TurnAngleDegrees:   TurnAngleDegrees(p, rects.CenterX.Values[i]),
		AspectRatio:        math.Abs(w / h),
		Found:              true,
		Coherent:           true,
	}
	var err error
	e.HorizontalFeet, err = HorizontalDistanceFeet(p, e.DiagonalFeet)
	if err != nil {
		e.Unstable = true
	}
	return e, err
}
