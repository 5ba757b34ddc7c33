// Command goaltrack-replay runs recorded vision traffic through the goal
// tracker and reports how stable the estimate was.
//
// Usage:
//
//	goaltrack-replay -pcap match3.pcap -plot out/
//	goaltrack-replay -lines practice.jsonl -period 50ms
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/goaltrack/internal/calibration"
	"github.com/banshee-data/goaltrack/internal/diag"
	"github.com/banshee-data/goaltrack/internal/monitoring"
	"github.com/banshee-data/goaltrack/internal/nettable"
	"github.com/banshee-data/goaltrack/internal/security"
	"github.com/banshee-data/goaltrack/internal/timeutil"
	"github.com/banshee-data/goaltrack/internal/vision"
)

var (
	pcapPath    = flag.String("pcap", "", "pcap capture of UDP table datagrams")
	udpPort     = flag.Int("udp-port", 5800, "UDP destination port to keep from the capture (0 keeps all)")
	linesPath   = flag.String("lines", "", "JSON lines file of table updates")
	period      = flag.Duration("period", 50*time.Millisecond, "Time between JSON lines")
	profileName = flag.String("profile", "competition", "Calibration profile: proto or competition")
	strategy    = flag.String("strategy", "poll", "Acquisition strategy: poll or listener")
	plotDir     = flag.String("plot", "", "Directory for PNG plots of the replay")
	jsonOut     = flag.Bool("json", false, "Print the summary as JSON")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
)

// replay feeds frames into a table and acquires after each one. Time is
// driven from the capture, so the tracker never sleeps for real.
type replay struct {
	table   *nettable.Table
	clock   *timeutil.MockClock
	tracker *vision.Tracker
	history *diag.History
}

func newReplay(profile calibration.Profile, s vision.Strategy, size int) (*replay, error) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	table := nettable.New("GRIP/myContoursReport")
	listener := vision.NewListener(table, clock)
	listener.Start()

	tracker, err := vision.NewTracker(table, listener, profile, vision.Options{Strategy: s, Clock: clock})
	if err != nil {
		return nil, err
	}
	return &replay{table: table, clock: clock, tracker: tracker, history: diag.NewHistory(size)}, nil
}

func (r *replay) apply(updates []nettable.Update, at time.Time) {
	r.clock.Set(at)
	r.table.Apply(updates)
	est, err := r.tracker.Acquire(false)
	if err != nil {
		monitoring.Debugf("[replay] %s: %v", at.Format(time.RFC3339Nano), err)
	}
	r.history.Record(est, est.Gates(r.tracker.Profile()))
}

func (r *replay) runPCAP(ctx context.Context, in io.Reader, port int) (nettable.ReplayStats, error) {
	return nettable.ReplayPCAP(ctx, in, nettable.ReplayConfig{UDPPort: port}, func(payload []byte, at time.Time) error {
		updates, err := nettable.DecodeDatagram(payload)
		if err != nil {
			return err
		}
		r.apply(updates, at)
		return nil
	})
}

func (r *replay) runLines(in io.Reader, step time.Duration) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	at := time.Unix(0, 0)
	frames := 0
	for n := 1; scanner.Scan(); n++ {
		updates, err := nettable.DecodeLine(scanner.Bytes())
		if err != nil {
			if !errors.Is(err, nettable.ErrEmptyMessage) {
				log.Printf("line %d: %v", n, err)
			}
			continue
		}
		r.apply(updates, at)
		at = at.Add(step)
		frames++
	}
	return frames, scanner.Err()
}

func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	if (*pcapPath == "") == (*linesPath == "") {
		log.Fatal("exactly one of -pcap or -lines is required")
	}
	if *plotDir != "" {
		if err := security.OutputPath(*plotDir); err != nil {
			log.Fatalf("invalid -plot: %v", err)
		}
	}

	name, err := calibration.ParseName(*profileName)
	if err != nil {
		log.Fatal(err)
	}
	profile, err := calibration.NewProvider().Init(name)
	if err != nil {
		log.Fatal(err)
	}
	s, err := vision.ParseStrategy(*strategy)
	if err != nil {
		log.Fatal(err)
	}

	path := *pcapPath
	if path == "" {
		path = *linesPath
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	// Keep every sample so stats and plots cover the whole capture.
	r, err := newReplay(profile, s, 1<<20)
	if err != nil {
		log.Fatal(err)
	}

	if *pcapPath != "" {
		stats, err := r.runPCAP(context.Background(), f, *udpPort)
		if err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		log.Printf("replayed %d packets, %d datagrams (%d bad) over %s", stats.Packets, stats.Datagrams, stats.Errors, stats.Duration)
	} else {
		frames, err := r.runLines(f, *period)
		if err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		log.Printf("replayed %d lines", frames)
	}

	summary := r.history.Stats()
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Fatal(err)
		}
	} else {
		fmt.Printf("samples %d, found %d (%.0f%%), unstable %d\n", summary.Count, summary.Found, summary.FoundRatio*100, summary.Unstable)
		fmt.Printf("turn angle %.3f ± %.3f deg\n", summary.TurnAngleMean, summary.TurnAngleStdDev)
		fmt.Printf("horizontal %.3f ± %.3f ft\n", summary.HorizontalMean, summary.HorizontalStdDev)
	}

	if *plotDir != "" {
		paths, err := diag.WritePlots(*plotDir, r.history.Recent(0))
		if err != nil {
			log.Fatalf("failed to write plots: %v", err)
		}
		for _, p := range paths {
			log.Printf("wrote %s", p)
		}
	}
}
