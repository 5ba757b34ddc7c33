package nettable

import (
	"context"

	"github.com/banshee-data/goaltrack/internal/monitoring"
	"github.com/banshee-data/goaltrack/internal/serialmux"
	"github.com/banshee-data/goaltrack/internal/timeutil"
)

// LineFeed applies JSON lines from a serial mux subscription to a table.
type LineFeed struct {
	mux   serialmux.SerialMuxInterface
	table *Table
	clock timeutil.Clock
	stats FeedStats
}

// NewLineFeed returns a feed from mux into table.
func NewLineFeed(mux serialmux.SerialMuxInterface, table *Table) *LineFeed {
	return &LineFeed{mux: mux, table: table, clock: timeutil.RealClock{}}
}

// Stats returns the feed counters.
func (f *LineFeed) Stats() FeedSnapshot {
	return f.stats.Snapshot()
}

// Run consumes lines until ctx is done or the subscription is closed.
func (f *LineFeed) Run(ctx context.Context) error {
	id, lines := f.mux.Subscribe()
	defer f.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			f.HandleLine(line)
		}
	}
}

// HandleLine decodes a single line and applies it. Status lines are logged,
// malformed lines are counted and dropped.
func (f *LineFeed) HandleLine(line string) {
	switch serialmux.ClassifyLine(line) {
	case serialmux.LineTypeBlank:
		return
	case serialmux.LineTypeStatus:
		monitoring.Debugf("[feed] coprocessor: %s", line)
		return
	case serialmux.LineTypeTable:
		updates, err := DecodeLine([]byte(line))
		if err != nil {
			f.stats.addDropped()
			monitoring.Logf("[feed] dropping line: %v", err)
			return
		}
		f.stats.addMessage(len(line), len(updates), f.clock.Now())
		f.table.Apply(updates)
	default:
		f.stats.addDropped()
		monitoring.Debugf("[feed] ignoring unrecognised line %q", line)
	}
}
