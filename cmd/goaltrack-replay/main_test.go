package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/goaltrack/internal/calibration"
	"github.com/banshee-data/goaltrack/internal/vision"
)

func newTestReplay(t *testing.T, s vision.Strategy) *replay {
	t.Helper()
	p, err := calibration.Lookup(calibration.Competition)
	require.NoError(t, err)
	r, err := newReplay(p, s, 100)
	require.NoError(t, err)
	return r
}

const lines = `{"area":[800],"width":[40],"height":[20],"centerX":[152],"centerY":[120]}

{"area":[oops
{"area":[810,20],"width":[40,8]}
{"height":[20,5],"centerX":[150,10],"centerY":[120,10]}
`

func TestRunLines(t *testing.T) {
	for _, s := range []vision.Strategy{vision.StrategyPoll, vision.StrategyListener} {
		t.Run(s.String(), func(t *testing.T) {
			r := newTestReplay(t, s)
			frames, err := r.runLines(strings.NewReader(lines), 50*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, 3, frames)

			samples := r.history.Recent(0)
			require.Len(t, samples, 3)
			assert.True(t, samples[0].Estimate.Found)
			// second frame arrives torn; the third completes it
			assert.False(t, samples[1].Estimate.Coherent)
			assert.True(t, samples[2].Estimate.Found)
			assert.Equal(t, 0, samples[2].Estimate.Index)
			assert.Equal(t, time.Unix(0, 0).Add(100*time.Millisecond), samples[2].Estimate.AcquiredAt)
		})
	}
}

func TestRunPCAP_BadInput(t *testing.T) {
	r := newTestReplay(t, vision.StrategyPoll)
	_, err := r.runPCAP(context.Background(), strings.NewReader("nope"), 5800)
	assert.Error(t, err)
}
