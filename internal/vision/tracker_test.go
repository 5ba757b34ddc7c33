package vision

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/goaltrack/internal/calibration"
	"github.com/banshee-data/goaltrack/internal/nettable"
	"github.com/banshee-data/goaltrack/internal/timeutil"
)

// scriptedReader serves one frame per read of the area key, repeating the
// last frame once the script runs out.
type scriptedReader struct {
	frames []map[string][]float64
	reads  int
}

func (r *scriptedReader) GetNumberArray(key string, def []float64) []float64 {
	if key == nettable.KeyArea {
		r.reads++
	}
	i := r.reads - 1
	if i >= len(r.frames) {
		i = len(r.frames) - 1
	}
	if v, ok := r.frames[i][key]; ok {
		return v
	}
	return def
}

func frame(area, width, height, centerX, centerY []float64) map[string][]float64 {
	return map[string][]float64{
		nettable.KeyArea:    area,
		nettable.KeyWidth:   width,
		nettable.KeyHeight:  height,
		nettable.KeyCenterX: centerX,
		nettable.KeyCenterY: centerY,
	}
}

func publish(table *nettable.Table, f map[string][]float64) {
	for _, key := range nettable.RectangleKeys {
		if v, ok := f[key]; ok {
			table.PutNumberArray(key, v)
		}
	}
}

var torn = map[string][]float64{
	nettable.KeyArea:    {800, 300},
	nettable.KeyWidth:   {40},
	nettable.KeyHeight:  {20},
	nettable.KeyCenterX: {160},
	nettable.KeyCenterY: {120},
}

var single = frame([]float64{800}, []float64{40}, []float64{20}, []float64{160}, []float64{120})

func newPollTracker(t *testing.T, reader TableReader, clock timeutil.Clock) *Tracker {
	t.Helper()
	tr, err := NewTracker(reader, nil, competition(t), Options{Strategy: StrategyPoll, Clock: clock})
	require.NoError(t, err)
	return tr
}

func TestTracker_SelectsLatestOfTiedAreas(t *testing.T) {
	table := nettable.New("t")
	publish(table, frame(
		[]float64{1, 5, 5},
		[]float64{10, 30, 40},
		[]float64{10, 20, 20},
		[]float64{10, 100, 200},
		[]float64{10, 10, 10},
	))
	tr := newPollTracker(t, table, timeutil.NewMockClock(epoch))

	est, err := tr.Acquire(false)
	require.NoError(t, err)
	assert.Equal(t, 2, est.Index)
	assert.Equal(t, 5.0, est.Area)
	assert.True(t, tr.TargetFound())
}

func TestTracker_ImageCentreTurnAngle(t *testing.T) {
	table := nettable.New("t")
	publish(table, single)
	tr := newPollTracker(t, table, timeutil.NewMockClock(epoch))

	est, err := tr.Acquire(false)
	require.NoError(t, err)
	assert.Equal(t, 1.3, est.TurnAngleDegrees)
	assert.Equal(t, 1.3, tr.TurnAngle())
}

func TestTracker_NoTarget(t *testing.T) {
	tests := map[string]TableReader{
		"empty table": nettable.New("t"),
		"torn frame":  &scriptedReader{frames: []map[string][]float64{torn}},
	}
	for name, reader := range tests {
		t.Run(name, func(t *testing.T) {
			tr := newPollTracker(t, reader, timeutil.NewMockClock(epoch))
			est, err := tr.Acquire(false)
			require.NoError(t, err)

			assert.Equal(t, -1, est.Index)
			assert.Equal(t, 0.0, est.Area)
			assert.Equal(t, 0.0, est.OpeningWidthInches)
			assert.True(t, math.IsInf(est.DiagonalFeet, 1))
			assert.True(t, math.IsInf(est.HorizontalFeet, 1))
			assert.Equal(t, 0.0, est.TurnAngleDegrees)

			assert.False(t, tr.TargetFound())
			assert.False(t, tr.InDistance())
			assert.False(t, tr.InTurnAngle())
			assert.False(t, tr.InLineWithGoal())
			assert.False(t, tr.InCoarseTurnAngle())

			left, right := est.WheelRevolutions(tr.Profile())
			assert.Zero(t, left)
			assert.Zero(t, right)
		})
	}
}

func TestTracker_PollRetryBound(t *testing.T) {
	reader := &scriptedReader{frames: []map[string][]float64{torn}}
	clock := timeutil.NewMockClock(epoch)
	tr := newPollTracker(t, reader, clock)

	est, err := tr.Acquire(false)
	require.NoError(t, err)
	assert.Equal(t, MaxRetry, reader.reads)
	assert.Equal(t, MaxRetry, est.Attempts)
	assert.False(t, est.Coherent)
	assert.Empty(t, clock.Sleeps(), "no delay between retries")
}

func TestTracker_PollStopsWhenCoherent(t *testing.T) {
	reader := &scriptedReader{frames: []map[string][]float64{torn, torn, single, torn}}
	clock := timeutil.NewMockClock(epoch)
	tr := newPollTracker(t, reader, clock)

	est, err := tr.Acquire(false)
	require.NoError(t, err)
	assert.Equal(t, 3, reader.reads)
	assert.Equal(t, 3, est.Attempts)
	assert.True(t, est.Found)
	assert.Empty(t, clock.Sleeps())
}

func TestTracker_PollCatchUpDelay(t *testing.T) {
	reader := &scriptedReader{frames: []map[string][]float64{single}}
	clock := timeutil.NewMockClock(epoch)
	tr := newPollTracker(t, reader, clock)

	est, err := tr.Acquire(true)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{DefaultCatchUpDelay}, clock.Sleeps())
	assert.Equal(t, 1, est.Attempts)
	assert.Equal(t, epoch.Add(DefaultCatchUpDelay), est.AcquiredAt)
}

func TestTracker_Geometry(t *testing.T) {
	p := competition(t)
	table := nettable.New("t")
	publish(table, frame([]float64{800}, []float64{40}, []float64{20}, []float64{200}, []float64{120}))
	tr := newPollTracker(t, table, timeutil.NewMockClock(epoch))

	est, err := tr.Acquire(false)
	require.NoError(t, err)

	diag := DiagonalDistanceFeet(p, 40)
	horiz, _ := HorizontalDistanceFeet(p, diag)
	want := Estimate{
		Index:              0,
		Area:               800,
		OpeningWidthInches: 19.2,
		DiagonalFeet:       diag,
		HorizontalFeet:     horiz,
		TurnAngleDegrees:   8.55,
		AspectRatio:        2,
		Found:              true,
		Coherent:           true,
		Attempts:           1,
		AcquiredAt:         epoch,
	}
	if diff := cmp.Diff(want, est, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("estimate mismatch (-want +got):\n%s", diff)
	}

	// About 11.4 ft: long range, not short range.
	assert.True(t, tr.InFarDistance())
	assert.False(t, tr.InCloseDistance())
	assert.True(t, tr.InDistance())
	assert.True(t, tr.InLineWithGoal())
	assert.False(t, tr.InTurnAngle())
	assert.False(t, tr.InCoarseTurnAngle())

	left, right := est.WheelRevolutions(p)
	wantLeft, wantRight := p.WheelRevolutionsForTurn(est.TurnAngleDegrees)
	assert.Equal(t, wantLeft, left)
	assert.Equal(t, wantRight, right)
}

func TestTracker_TurnAngleGates(t *testing.T) {
	tests := []struct {
		centerX    float64
		fine       bool
		coarse     bool
		wantDegree float64
	}{
		{centerX: 150, fine: true, coarse: true, wantDegree: -0.5125},
		{centerX: 156.8, fine: true, coarse: true, wantDegree: 0.72},
		{centerX: 162, fine: false, coarse: true, wantDegree: 1.6625},
		{centerX: 165, fine: false, coarse: false, wantDegree: 2.20625},
	}
	for _, tt := range tests {
		table := nettable.New("t")
		publish(table, frame([]float64{800}, []float64{40}, []float64{20}, []float64{tt.centerX}, []float64{120}))
		tr := newPollTracker(t, table, timeutil.NewMockClock(epoch))
		_, err := tr.Acquire(false)
		require.NoError(t, err)

		assert.InDelta(t, tt.wantDegree, tr.TurnAngle(), 1e-9, "centerX %v", tt.centerX)
		assert.Equal(t, tt.fine, tr.InTurnAngle(), "fine gate at centerX %v", tt.centerX)
		assert.Equal(t, tt.coarse, tr.InCoarseTurnAngle(), "coarse gate at centerX %v", tt.centerX)
	}
}

func TestTracker_CloseRange(t *testing.T) {
	p := competition(t)
	// diag of 6 ft puts the robot about 4.6 ft away on the floor.
	width := (20.0 / 12.0) * 320 / 2 / math.Tan(29*math.Pi/180) / 6
	table := nettable.New("t")
	publish(table, frame([]float64{800}, []float64{width}, []float64{width}, []float64{152}, []float64{120}))
	tr := newPollTracker(t, table, timeutil.NewMockClock(epoch))

	est, err := tr.Acquire(false)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, est.DiagonalFeet, 1e-9)
	assert.True(t, p.CloseDistanceFeet.Contains(est.HorizontalFeet))
	assert.True(t, tr.InCloseDistance())
	assert.False(t, tr.InFarDistance())
	assert.True(t, tr.InDistance())
	assert.True(t, tr.InTurnAngle())
	assert.False(t, tr.InLineWithGoal(), "square rectangle is seen off axis")
}

func TestTracker_UnstableDistance(t *testing.T) {
	table := nettable.New("t")
	publish(table, frame([]float64{9000}, []float64{200}, []float64{90}, []float64{152}, []float64{120}))
	tr := newPollTracker(t, table, timeutil.NewMockClock(epoch))

	est, err := tr.Acquire(false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnstableDistance))
	assert.True(t, est.Found)
	assert.True(t, est.Unstable)
	assert.Equal(t, 0, est.Index)
	assert.True(t, math.IsNaN(est.HorizontalFeet))
	assert.InDelta(t, -0.15, est.TurnAngleDegrees, 1e-9)

	assert.True(t, tr.TargetFound())
	assert.False(t, tr.InDistance())
	assert.True(t, tr.InTurnAngle())
	assert.True(t, math.IsNaN(tr.HorizontalDistance()))
}

func TestTracker_FreshAcquisitionEachCall(t *testing.T) {
	table := nettable.New("t")
	publish(table, single)
	tr := newPollTracker(t, table, timeutil.NewMockClock(epoch))

	_, err := tr.Acquire(false)
	require.NoError(t, err)
	require.True(t, tr.TargetFound())

	publish(table, frame(nil, nil, nil, nil, nil))
	_, err = tr.Acquire(false)
	require.NoError(t, err)
	assert.False(t, tr.TargetFound())
	assert.Equal(t, NoTarget().Index, tr.Estimate().Index)

	got := tr.Rectangles()
	assert.True(t, got.Coherent())
	assert.Equal(t, 0, got.Len())
}

func TestTracker_ListenerWaitsForFreshData(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	table := nettable.New("t")
	l := NewListener(table, clock)
	l.Start()
	defer l.Stop()

	tr, err := NewTracker(nil, l, competition(t), Options{Strategy: StrategyListener, Clock: clock})
	require.NoError(t, err)

	clock.Advance(time.Second)
	sleeps := 0
	clock.OnSleep(func(time.Time) {
		sleeps++
		if sleeps == 3 {
			publish(table, single)
		}
	})

	est, err := tr.Acquire(true)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}, clock.Sleeps())
	assert.True(t, est.Found)
	assert.Equal(t, 1, est.Attempts)
	assert.Equal(t, 1.3, est.TurnAngleDegrees)
}

func TestTracker_ListenerWaitIsBounded(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	l := NewListener(nettable.New("t"), clock)
	tr, err := NewTracker(nil, l, competition(t), Options{Strategy: StrategyListener, Clock: clock})
	require.NoError(t, err)

	clock.Advance(time.Second)
	est, err := tr.Acquire(true)
	require.NoError(t, err)
	assert.Len(t, clock.Sleeps(), 10)
	assert.Equal(t, DefaultCatchUpDelay, clock.TotalSlept())
	assert.False(t, est.Found)
	assert.True(t, est.Coherent, "nothing received is coherent empty")
}

func TestTracker_ListenerNoWait(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	table := nettable.New("t")
	l := NewListener(table, clock)
	l.Start()
	defer l.Stop()
	publish(table, single)
	clock.Advance(time.Second)

	tr, err := NewTracker(nil, l, competition(t), Options{Strategy: StrategyListener, Clock: clock})
	require.NoError(t, err)
	est, err := tr.Acquire(false)
	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps())
	assert.True(t, est.Found)
}

func TestTracker_ListenerTornFields(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	table := nettable.New("t")
	l := NewListener(table, clock)
	l.Start()
	defer l.Stop()
	// Only area has arrived; the other four are still absent.
	table.PutNumberArray(nettable.KeyArea, []float64{800})

	tr, err := NewTracker(nil, l, competition(t), Options{Strategy: StrategyListener, Clock: clock})
	require.NoError(t, err)
	est, err := tr.Acquire(false)
	require.NoError(t, err)
	assert.Equal(t, MaxRetry, est.Attempts)
	assert.False(t, est.Coherent)
	assert.False(t, est.Found)
	assert.Equal(t, -1, est.Index)
}

func TestNewTracker_Validation(t *testing.T) {
	p := competition(t)

	_, err := NewTracker(nil, nil, p, Options{Strategy: StrategyPoll})
	assert.Error(t, err)
	_, err = NewTracker(nettable.New("t"), nil, p, Options{Strategy: StrategyListener})
	assert.Error(t, err)
	_, err = NewTracker(nettable.New("t"), nil, p, Options{Strategy: Strategy(7)})
	assert.Error(t, err)

	tr, err := NewTracker(nettable.New("t"), nil, p, Options{})
	require.NoError(t, err)
	assert.Equal(t, StrategyPoll, tr.Strategy())
	assert.Equal(t, calibration.Competition, tr.Profile().Name)
	assert.Equal(t, -1, tr.Estimate().Index, "estimate before the first Acquire is no target")
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Listener ")
	require.NoError(t, err)
	assert.Equal(t, StrategyListener, s)
	assert.Equal(t, "listener", s.String())

	s, err = ParseStrategy("poll")
	require.NoError(t, err)
	assert.Equal(t, "poll", s.String())

	_, err = ParseStrategy("push")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Strategy(9).String())
}

func TestEstimate_Gates(t *testing.T) {
	p := competition(t)
	assert.Equal(t, Gates{}, NoTarget().Gates(p))

	e := Estimate{Index: 0, Found: true, HorizontalFeet: 5, TurnAngleDegrees: 0.1, AspectRatio: 1.5}
	assert.Equal(t, Gates{
		TargetFound:       true,
		InCloseDistance:   true,
		InDistance:        true,
		InTurnAngle:       true,
		InCoarseTurnAngle: true,
		InLineWithGoal:    true,
	}, e.Gates(p))
}
