// Package diag keeps a short history of goal estimates and serves it on
// the debug HTTP mux for tuning the camera on the practice field.
package diag

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/goaltrack/internal/vision"
)

// DefaultHistorySize is the number of estimates kept when no size is given.
const DefaultHistorySize = 500

// Sample is one recorded estimate with its gate results.
type Sample struct {
	Estimate vision.Estimate
	Gates    vision.Gates
}

// History is a fixed size ring of recent samples, safe for concurrent use.
type History struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	full    bool
}

// NewHistory returns a history holding up to size samples.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{samples: make([]Sample, size)}
}

// Record appends a sample, overwriting the oldest once full.
func (h *History) Record(est vision.Estimate, gates vision.Gates) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = Sample{Estimate: est, Gates: gates}
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of samples held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lenLocked()
}

func (h *History) lenLocked() int {
	if h.full {
		return len(h.samples)
	}
	return h.next
}

// Recent returns up to n samples, oldest first. n <= 0 returns all.
func (h *History) Recent(n int) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.lenLocked()
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Sample, n)
	start := h.next - n
	if start < 0 {
		start += len(h.samples)
	}
	for i := range out {
		out[i] = h.samples[(start+i)%len(h.samples)]
	}
	return out
}

// Latest returns the most recent sample.
func (h *History) Latest() (Sample, bool) {
	recent := h.Recent(1)
	if len(recent) == 0 {
		return Sample{}, false
	}
	return recent[0], true
}

// Stats summarises estimate jitter over a set of samples.
type Stats struct {
	Count    int `json:"count"`
	Found    int `json:"found"`
	Unstable int `json:"unstable"`
	// FoundRatio is Found / Count.
	FoundRatio float64 `json:"found_ratio"`

	TurnAngleMean   float64 `json:"turn_angle_mean"`
	TurnAngleStdDev float64 `json:"turn_angle_stddev"`
	// Angle and distance stats cover found samples with finite values.
	HorizontalMean   float64 `json:"horizontal_mean"`
	HorizontalStdDev float64 `json:"horizontal_stddev"`
}

// Stats computes Stats over every sample held.
func (h *History) Stats() Stats {
	return Summarise(h.Recent(0))
}

// Summarise computes Stats over samples.
func Summarise(samples []Sample) Stats {
	s := Stats{Count: len(samples)}
	var turns, dists []float64
	for _, sm := range samples {
		e := sm.Estimate
		if e.Unstable {
			s.Unstable++
		}
		if !e.Found {
			continue
		}
		s.Found++
		if a := finite(e.TurnAngleDegrees); a != nil {
			turns = append(turns, *a)
		}
		if h := finite(e.HorizontalFeet); h != nil {
			dists = append(dists, *h)
		}
	}
	if s.Count > 0 {
		s.FoundRatio = float64(s.Found) / float64(s.Count)
	}
	s.TurnAngleMean, s.TurnAngleStdDev = meanStdDev(turns)
	s.HorizontalMean, s.HorizontalStdDev = meanStdDev(dists)
	return s
}

// meanStdDev returns zeros rather than NaN for short inputs.
func meanStdDev(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
