// Package vision turns rectangle detections published into a shared table
// into a goal estimate: which rectangle is the goal, how far away it is and
// how far the robot must turn to face it.
//
// The five rectangle fields are published independently, so a reader can
// see area from one frame and width from the next. The Tracker only uses a
// reading whose fields agree in length, retrying a bounded number of times.
package vision

import (
	"slices"

	"github.com/banshee-data/goaltrack/internal/nettable"
)

// Field is one rectangle sequence. Valid is false when the sequence has
// never been received.
type Field struct {
	Values []float64
	Valid  bool
}

// Present wraps values as a received field. A nil slice is an empty
// sequence, not an absent one.
func Present(values []float64) Field {
	if values == nil {
		values = []float64{}
	}
	return Field{Values: values, Valid: true}
}

// Len is the sequence length, zero when absent.
func (f Field) Len() int {
	return len(f.Values)
}

func (f Field) clone() Field {
	if !f.Valid {
		return Field{}
	}
	return Field{Values: slices.Clone(f.Values), Valid: true}
}

// RectangleSet holds five parallel sequences; index i of each describes
// one detected rectangle.
type RectangleSet struct {
	Area    Field
	Width   Field
	Height  Field
	CenterX Field
	CenterY Field
}

func (s *RectangleSet) fields() [5]*Field {
	return [5]*Field{&s.Area, &s.Width, &s.Height, &s.CenterX, &s.CenterY}
}

// field returns the field stored under a table key, or nil for keys that
// are not rectangle fields.
func (s *RectangleSet) field(key string) *Field {
	switch key {
	case nettable.KeyArea:
		return &s.Area
	case nettable.KeyWidth:
		return &s.Width
	case nettable.KeyHeight:
		return &s.Height
	case nettable.KeyCenterX:
		return &s.CenterX
	case nettable.KeyCenterY:
		return &s.CenterY
	}
	return nil
}

// Coherent reports whether the set can be used for selection: either every
// field is absent, or every field is present with the same length.
func (s RectangleSet) Coherent() bool {
	fields := s.fields()
	valid := 0
	for _, f := range fields {
		if f.Valid {
			valid++
		}
	}
	switch valid {
	case 0:
		return true
	case len(fields):
	default:
		return false
	}
	n := s.Area.Len()
	for _, f := range fields[1:] {
		if f.Len() != n {
			return false
		}
	}
	return true
}

// Len is the number of rectangles in a coherent set, and zero otherwise.
func (s RectangleSet) Len() int {
	if !s.Coherent() {
		return 0
	}
	return s.Area.Len()
}

// Clone returns a deep copy.
func (s RectangleSet) Clone() RectangleSet {
	return RectangleSet{
		Area:    s.Area.clone(),
		Width:   s.Width.clone(),
		Height:  s.Height.clone(),
		CenterX: s.CenterX.clone(),
		CenterY: s.CenterY.clone(),
	}
}

// Reset marks every field absent.
func (s *RectangleSet) Reset() {
	*s = RectangleSet{}
}

// Frame returns the present fields keyed by table key.
func (s RectangleSet) Frame() map[string][]float64 {
	frame := make(map[string][]float64, len(nettable.RectangleKeys))
	for _, key := range nettable.RectangleKeys {
		if f := s.field(key); f.Valid {
			frame[key] = slices.Clone(f.Values)
		}
	}
	return frame
}
