package diag

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoSamples is returned by WritePlots when there is nothing to draw.
var ErrNoSamples = errors.New("no samples to plot")

// WritePlots saves two PNG plots of samples into dir: turn_angle.png and
// horizontal_distance.png. Samples without a target are skipped. It returns
// the paths written.
func WritePlots(dir string, samples []Sample) ([]string, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %w", err)
	}

	first := samples[0].Estimate.AcquiredAt
	turns := make(plotter.XYs, 0, len(samples))
	dists := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		e := s.Estimate
		if !e.Found {
			continue
		}
		x := e.AcquiredAt.Sub(first).Seconds()
		if a := finite(e.TurnAngleDegrees); a != nil {
			turns = append(turns, plotter.XY{X: x, Y: *a})
		}
		if h := finite(e.HorizontalFeet); h != nil {
			dists = append(dists, plotter.XY{X: x, Y: *h})
		}
	}

	var paths []string
	charts := []struct {
		file  string
		title string
		label string
		pts   plotter.XYs
		color color.Color
	}{
		{"turn_angle.png", "Turn Angle", "Degrees", turns, color.RGBA{R: 220, G: 80, B: 40, A: 255}},
		{"horizontal_distance.png", "Horizontal Distance", "Feet", dists, color.RGBA{R: 40, G: 120, B: 220, A: 255}},
	}
	for _, c := range charts {
		p := plot.New()
		p.Title.Text = c.title
		p.X.Label.Text = "Seconds"
		p.Y.Label.Text = c.label
		p.Add(plotter.NewGrid())

		if len(c.pts) > 0 {
			line, err := plotter.NewLine(c.pts)
			if err != nil {
				return paths, err
			}
			line.Color = c.color
			line.Width = vg.Points(1)
			p.Add(line)
		}

		path := filepath.Join(dir, c.file)
		if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
			return paths, fmt.Errorf("failed to save %s: %w", c.file, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
