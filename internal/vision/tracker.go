package vision

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/goaltrack/internal/calibration"
	"github.com/banshee-data/goaltrack/internal/monitoring"
	"github.com/banshee-data/goaltrack/internal/nettable"
	"github.com/banshee-data/goaltrack/internal/timeutil"
)

const (
	// MaxRetry bounds the reads taken per acquisition.
	MaxRetry = 5
	// DefaultCatchUpDelay gives the vision pipeline time to publish a
	// fresh frame after the robot moves.
	DefaultCatchUpDelay = 500 * time.Millisecond
	// DefaultListenerPollInterval is how often the listener is checked for
	// fresh data while waiting.
	DefaultListenerPollInterval = 50 * time.Millisecond
)

// Strategy selects where the Tracker reads rectangles from.
type Strategy int

const (
	// StrategyPoll reads the five keys directly from the table.
	StrategyPoll Strategy = iota
	// StrategyListener copies the Listener's buffered fields.
	StrategyListener
)

func (s Strategy) String() string {
	switch s {
	case StrategyPoll:
		return "poll"
	case StrategyListener:
		return "listener"
	default:
		return "unknown"
	}
}

// ParseStrategy maps "poll" or "listener" to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "poll":
		return StrategyPoll, nil
	case "listener":
		return StrategyListener, nil
	default:
		return 0, fmt.Errorf("unknown acquisition strategy %q: expected poll or listener", s)
	}
}

// TableReader is the part of a table a polling Tracker reads.
type TableReader interface {
	GetNumberArray(key string, def []float64) []float64
}

// Source is the part of a Listener a listening Tracker reads.
type Source interface {
	OldestTimestamp() time.Time
	Snapshot(out *RectangleSet)
}

// Options configures a Tracker. Zero values take the defaults.
type Options struct {
	Strategy             Strategy
	CatchUpDelay         time.Duration
	ListenerPollInterval time.Duration
	MaxRetry             int
	Clock                timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.CatchUpDelay <= 0 {
		o.CatchUpDelay = DefaultCatchUpDelay
	}
	if o.ListenerPollInterval <= 0 {
		o.ListenerPollInterval = DefaultListenerPollInterval
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = MaxRetry
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Tracker acquires rectangles, selects the goal and derives its range and
// bearing. It is meant to be driven from a single control loop goroutine
// and holds no locks of its own.
type Tracker struct {
	table    TableReader
	listener Source
	profile  calibration.Profile
	opts     Options

	rects RectangleSet
	est   Estimate
}

// NewTracker returns a tracker using opts.Strategy. The poll strategy needs
// table and the listener strategy needs listener; the other may be nil.
func NewTracker(table TableReader, listener Source, profile calibration.Profile, opts Options) (*Tracker, error) {
	opts = opts.withDefaults()
	switch opts.Strategy {
	case StrategyPoll:
		if table == nil {
			return nil, errors.New("poll strategy requires a table")
		}
	case StrategyListener:
		if listener == nil {
			return nil, errors.New("listener strategy requires a listener")
		}
	default:
		return nil, fmt.Errorf("unknown acquisition strategy %d", int(opts.Strategy))
	}
	return &Tracker{
		table:    table,
		listener: listener,
		profile:  profile,
		opts:     opts,
		est:      NoTarget(),
	}, nil
}

// Acquire reads the latest rectangles and recomputes the estimate. With
// waitForNew the call first gives the vision pipeline up to the catch-up
// delay to publish. Incoherent data degrades to NoTarget without an error;
// the only error is ErrUnstableDistance, in which case the returned
// estimate still carries the selection and turn angle.
func (t *Tracker) Acquire(waitForNew bool) (Estimate, error) {
	var attempts int
	switch t.opts.Strategy {
	case StrategyListener:
		attempts = t.acquireFromListener(waitForNew)
	default:
		attempts = t.acquireFromTable(waitForNew)
	}
	now := t.opts.Clock.Now()

	if !t.rects.Coherent() {
		monitoring.Debugf("[tracker] rectangles incoherent after %d reads", attempts)
		t.est = NoTarget()
		t.est.Attempts = attempts
		t.est.AcquiredAt = now
		return t.est, nil
	}

	est, err := estimate(t.profile, t.rects)
	est.Attempts = attempts
	est.AcquiredAt = now
	t.est = est
	return est, err
}

func (t *Tracker) acquireFromTable(waitForNew bool) int {
	def := []float64{}
	t.rects.Reset()
	if waitForNew {
		t.opts.Clock.Sleep(t.opts.CatchUpDelay)
	}

	attempts := 0
	for {
		t.rects = RectangleSet{
			Area:    Present(t.table.GetNumberArray(nettable.KeyArea, def)),
			Width:   Present(t.table.GetNumberArray(nettable.KeyWidth, def)),
			Height:  Present(t.table.GetNumberArray(nettable.KeyHeight, def)),
			CenterX: Present(t.table.GetNumberArray(nettable.KeyCenterX, def)),
			CenterY: Present(t.table.GetNumberArray(nettable.KeyCenterY, def)),
		}
		attempts++
		if t.rects.Coherent() || attempts >= t.opts.MaxRetry {
			return attempts
		}
	}
}

func (t *Tracker) acquireFromListener(waitForNew bool) int {
	start := t.opts.Clock.Now()
	t.rects.Reset()

	// Wait for every field to be refreshed since the call began, or take
	// what the listener has once the catch-up budget is spent.
	var waited time.Duration
	for waitForNew && waited < t.opts.CatchUpDelay && t.listener.OldestTimestamp().Before(start) {
		waited += t.opts.ListenerPollInterval
		t.opts.Clock.Sleep(t.opts.ListenerPollInterval)
	}

	attempts := 0
	for {
		t.listener.Snapshot(&t.rects)
		attempts++
		if t.rects.Coherent() || attempts >= t.opts.MaxRetry {
			return attempts
		}
	}
}

// Estimate returns the result of the last Acquire.
func (t *Tracker) Estimate() Estimate {
	return t.est
}

// Rectangles returns a copy of the rectangles read by the last Acquire.
func (t *Tracker) Rectangles() RectangleSet {
	return t.rects.Clone()
}

// Profile returns the calibration profile in use.
func (t *Tracker) Profile() calibration.Profile {
	return t.profile
}

// Strategy returns the acquisition strategy in use.
func (t *Tracker) Strategy() Strategy {
	return t.opts.Strategy
}

// TargetFound reports whether the last Acquire selected a rectangle.
func (t *Tracker) TargetFound() bool { return t.est.TargetFound() }

// InFarDistance reports whether the last estimate is in the far band.
func (t *Tracker) InFarDistance() bool { return t.est.InFarDistance(t.profile) }

// InCloseDistance reports whether the last estimate is in the close band.
func (t *Tracker) InCloseDistance() bool { return t.est.InCloseDistance(t.profile) }

// InDistance reports whether the last estimate is in either band.
func (t *Tracker) InDistance() bool { return t.est.InDistance(t.profile) }

// InTurnAngle reports whether the robot is aimed at the goal.
func (t *Tracker) InTurnAngle() bool { return t.est.InTurnAngle(t.profile) }

// InCoarseTurnAngle reports whether the robot is roughly aimed at the goal.
func (t *Tracker) InCoarseTurnAngle() bool { return t.est.InCoarseTurnAngle(t.profile) }

// InLineWithGoal reports whether the goal is seen face on.
func (t *Tracker) InLineWithGoal() bool { return t.est.InLineWithGoal(t.profile) }

// TurnAngle returns the last bearing, zero without a target.
func (t *Tracker) TurnAngle() float64 { return t.est.TurnAngleDegrees }

// HorizontalDistance returns the last floor distance in feet.
func (t *Tracker) HorizontalDistance() float64 { return t.est.HorizontalFeet }
