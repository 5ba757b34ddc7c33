// Package calibration holds the per-robot camera and drivetrain constants.
//
// Exactly one profile is active for the life of a process. A Provider hands
// out that profile by value and refuses to switch to a different one once a
// choice has been made, because the constants are baked into every distance
// and bearing estimate downstream.
package calibration

import (
	"fmt"
	"math"
	"strings"
)

// Name identifies a calibration profile.
type Name int

const (
	// Proto is the prototype chassis with the Axis M1011 camera.
	Proto Name = iota
	// Competition is the competition chassis with the Axis M1013 camera.
	Competition
)

// DefaultProfile is used when no profile was selected explicitly.
const DefaultProfile = Competition

func (n Name) String() string {
	switch n {
	case Competition:
		return "Competition"
	case Proto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// ParseName maps "proto" or "competition" (any case) to a Name.
func ParseName(s string) (Name, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "proto", "prototype":
		return Proto, nil
	case "competition", "comp":
		return Competition, nil
	default:
		return 0, fmt.Errorf("unknown calibration profile %q: expected proto or competition", s)
	}
}

// Band is an open interval (Min, Max).
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether Min < v < Max. NaN is never contained.
func (b Band) Contains(v float64) bool {
	return v > b.Min && v < b.Max
}

// Widen returns the band grown by slack on both sides.
func (b Band) Widen(slack float64) Band {
	return Band{Min: b.Min - slack, Max: b.Max + slack}
}

// Profile is an immutable bundle of calibration constants for one robot
// build. Distances are in feet unless the field name says otherwise.
type Profile struct {
	Name Name `json:"name"`

	// Camera
	HFOVDegrees          float64 `json:"hfov_degrees"`
	CameraElevationFeet  float64 `json:"camera_elevation_feet"`
	HorizontalResPixels  float64 `json:"horizontal_res_pixels"`
	TurnAngleDegrees     Band    `json:"turn_angle_degrees"`
	CoarseTurnAngle      Band    `json:"coarse_turn_angle_degrees"`
	InLineMinAspect      float64 `json:"in_line_min_aspect"`
	FarDistanceFeet      Band    `json:"far_distance_feet"`
	CloseDistanceFeet    Band    `json:"close_distance_feet"`
	TiltThresholdDegrees float64 `json:"tilt_threshold_degrees"`

	// Drivetrain
	AxleTrackInches float64 `json:"axle_track_inches"`
	LeftEncSign     float64 `json:"left_enc_sign"`
	RightEncSign    float64 `json:"right_enc_sign"`
	LeftDriveSign   float64 `json:"left_drive_sign"`
	RightDriveSign  float64 `json:"right_drive_sign"`
	WheelSizeInches float64 `json:"wheel_size_inches"`
	// GearRatio is speed in / speed out.
	GearRatio float64 `json:"gear_ratio"`
}

// Lookup returns the built-in profile for name.
func Lookup(name Name) (Profile, error) {
	switch name {
	case Proto:
		return protoProfile(), nil
	case Competition:
		return competitionProfile(), nil
	default:
		return Profile{}, fmt.Errorf("unknown calibration profile %d", int(name))
	}
}

func protoProfile() Profile {
	return Profile{
		Name: Proto,
		// Axis M1011
		HFOVDegrees:         41,
		CameraElevationFeet: 9.5 / 12,
		// Not the native sensor width; must match the size the vision
		// pipeline publishes in.
		HorizontalResPixels:  320,
		TurnAngleDegrees:     Band{Min: -1.0, Max: 1.0},
		CoarseTurnAngle:      Band{Min: -2.0, Max: 2.0},
		InLineMinAspect:      1.2,
		FarDistanceFeet:      Band{Min: 7.0, Max: 11.0},
		CloseDistanceFeet:    Band{Min: 4.0, Max: 5.5},
		TiltThresholdDegrees: 15.0,

		AxleTrackInches: 15.126 * 2,
		LeftEncSign:     1.0,
		RightEncSign:    -1.0,
		LeftDriveSign:   -1.0,
		RightDriveSign:  1.0,
		WheelSizeInches: 4.0,
		GearRatio:       1.0,
	}
}

func competitionProfile() Profile {
	return Profile{
		Name: Competition,
		// Axis M1013
		HFOVDegrees:          58.0,
		CameraElevationFeet:  32.0 / 12.0,
		HorizontalResPixels:  320,
		TurnAngleDegrees:     Band{Min: -0.7, Max: 0.7},
		CoarseTurnAngle:      Band{Min: -2.0, Max: 2.0},
		InLineMinAspect:      1.2,
		FarDistanceFeet:      Band{Min: 7.0, Max: 14.0},
		CloseDistanceFeet:    Band{Min: 4.0, Max: 5.5},
		TiltThresholdDegrees: 15.0,

		AxleTrackInches: 30.329,
		LeftEncSign:     1.0,
		RightEncSign:    -1.0,
		LeftDriveSign:   -1.0,
		RightDriveSign:  1.0,
		WheelSizeInches: 9.9,
		GearRatio:       4.0 / 3.0,
	}
}

// TurnArcInches is the distance each side of the drivetrain travels to
// rotate in place by degrees. The sign follows the angle.
func (p Profile) TurnArcInches(degrees float64) float64 {
	return degrees * math.Pi / 180 * p.AxleTrackInches / 2
}

// WheelRevolutionsForTurn converts an in-place turn into encoder-signed
// left and right motor revolutions. A positive angle turns clockwise, so the
// left side drives forward and the right side backward.
func (p Profile) WheelRevolutionsForTurn(degrees float64) (left, right float64) {
	if p.WheelSizeInches <= 0 {
		return 0, 0
	}
	wheelRevs := p.TurnArcInches(degrees) / (math.Pi * p.WheelSizeInches)
	motorRevs := wheelRevs * p.GearRatio
	return motorRevs * p.LeftEncSign, -motorRevs * p.RightEncSign
}
