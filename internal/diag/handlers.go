package diag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/goaltrack/internal/calibration"
	"github.com/banshee-data/goaltrack/internal/monitoring"
	"github.com/banshee-data/goaltrack/internal/nettable"
	"github.com/banshee-data/goaltrack/internal/vision"
)

// ListenerStatus is the part of a vision.Listener shown on the debug page.
type ListenerStatus interface {
	Listening() bool
	Timestamps() vision.FieldTimes
}

// FeedStatser reports feed counters.
type FeedStatser interface {
	Stats() nettable.FeedSnapshot
}

// Sources are the values served on the debug routes. Listener and Feed
// may be nil.
type Sources struct {
	History  *History
	Profile  calibration.Profile
	Strategy vision.Strategy
	Listener ListenerStatus
	Feed     FeedStatser
	Table    *nettable.Table
}

type debugRouter interface {
	HandleFunc(slug, desc string, handler http.HandlerFunc)
}

// AttachAdminRoutes mounts the goaltrack debug pages under /debug/.
func AttachAdminRoutes(mux *http.ServeMux, src Sources) {
	attachRoutes(tsweb.Debugger(mux), src)
}

func attachRoutes(debug debugRouter, src Sources) {
	debug.HandleFunc("estimate", "Latest goal estimate", func(w http.ResponseWriter, r *http.Request) {
		s, ok := src.History.Latest()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no estimates recorded yet")
			return
		}
		writeJSON(w, viewOf(s))
	})

	debug.HandleFunc("estimate-history", "Recent goal estimates (?n=limit)", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, viewsOf(src.History.Recent(limitParam(r))))
	})

	debug.HandleFunc("estimate-stats", "Turn angle and distance jitter", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Summarise(src.History.Recent(limitParam(r))))
	})

	debug.HandleFunc("estimate-chart", "Chart of recent turn angle and distance", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := renderChart(&buf, src.History.Recent(limitParam(r))); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	debug.HandleFunc("calibration", "Active calibration profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, struct {
			Profile  string              `json:"profile"`
			Strategy string              `json:"strategy"`
			Values   calibration.Profile `json:"values"`
		}{src.Profile.Name.String(), src.Strategy.String(), src.Profile})
	})

	if src.Listener != nil {
		debug.HandleFunc("table-listener", "Listener field timestamps", func(w http.ResponseWriter, r *http.Request) {
			ts := src.Listener.Timestamps()
			writeJSON(w, struct {
				Listening  bool              `json:"listening"`
				Timestamps vision.FieldTimes `json:"timestamps"`
				Oldest     time.Time         `json:"oldest"`
			}{src.Listener.Listening(), ts, ts.Oldest()})
		})
	}

	if src.Feed != nil {
		debug.HandleFunc("table-feed", "Table feed counters", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, src.Feed.Stats())
		})
	}

	if src.Table != nil {
		debug.HandleFunc("table", "Current table contents", func(w http.ResponseWriter, r *http.Request) {
			contents := make(map[string][]*float64)
			for _, key := range src.Table.Keys() {
				contents[key] = finiteAll(src.Table.GetNumberArray(key, []float64{}))
			}
			writeJSON(w, struct {
				Name   string                `json:"name"`
				Values map[string][]*float64 `json:"values"`
			}{src.Table.Name(), contents})
		})
	}
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("n"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// writeJSON encodes v before writing anything, so an encoding failure is
// reported as a 500 rather than an empty 200.
func writeJSON(w http.ResponseWriter, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		monitoring.Logf("[diag] failed to encode response: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// renderChart writes an HTML line chart of turn angle and horizontal
// distance. Samples without a target or distance leave gaps.
func renderChart(buf *bytes.Buffer, samples []Sample) error {
	labels := make([]string, len(samples))
	turns := make([]opts.LineData, len(samples))
	dists := make([]opts.LineData, len(samples))
	var first time.Time
	if len(samples) > 0 {
		first = samples[0].Estimate.AcquiredAt
	}
	for i, s := range samples {
		e := s.Estimate
		labels[i] = fmt.Sprintf("%.2f", e.AcquiredAt.Sub(first).Seconds())
		turns[i] = opts.LineData{Value: "-"}
		dists[i] = opts.LineData{Value: "-"}
		if !e.Found {
			continue
		}
		if a := finite(e.TurnAngleDegrees); a != nil {
			turns[i] = opts.LineData{Value: *a}
		}
		if h := finite(e.HorizontalFeet); h != nil {
			dists[i] = opts.LineData{Value: *h}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Goal estimate", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Goal estimate", Subtitle: fmt.Sprintf("samples=%d", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "seconds", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(labels).
		AddSeries("turn angle (deg)", turns).
		AddSeries("horizontal distance (ft)", dists)
	return line.Render(buf)
}
