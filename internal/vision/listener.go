package vision

import (
	"sync"
	"time"

	"github.com/banshee-data/goaltrack/internal/nettable"
	"github.com/banshee-data/goaltrack/internal/timeutil"
)

// Subscriber is the part of a table a Listener registers with.
type Subscriber interface {
	AddTableListener(l nettable.Listener) string
	RemoveTableListener(id string)
}

// FieldTimes holds the last update instant of each rectangle field.
type FieldTimes struct {
	Area    time.Time `json:"area"`
	Width   time.Time `json:"width"`
	Height  time.Time `json:"height"`
	CenterX time.Time `json:"centerX"`
	CenterY time.Time `json:"centerY"`
}

// Oldest returns the least recent of the five instants.
func (ft FieldTimes) Oldest() time.Time {
	oldest := ft.Area
	for _, t := range []time.Time{ft.Width, ft.Height, ft.CenterX, ft.CenterY} {
		if t.Before(oldest) {
			oldest = t
		}
	}
	return oldest
}

func (ft *FieldTimes) field(key string) *time.Time {
	switch key {
	case nettable.KeyArea:
		return &ft.Area
	case nettable.KeyWidth:
		return &ft.Width
	case nettable.KeyHeight:
		return &ft.Height
	case nettable.KeyCenterX:
		return &ft.CenterX
	case nettable.KeyCenterY:
		return &ft.CenterY
	}
	return nil
}

// Listener buffers the latest value of each rectangle field as the table
// announces changes. Fields are replaced one at a time; two fields from the
// same frame may be observed apart.
type Listener struct {
	table Subscriber
	clock timeutil.Clock

	// subMu guards the subscription only.
	subMu     sync.Mutex
	id        string
	listening bool

	mu    sync.Mutex
	rects RectangleSet
	times FieldTimes
}

// NewListener returns a stopped listener on table. Every field timestamp
// starts at the construction instant. A nil clock uses the real clock.
func NewListener(table Subscriber, clock timeutil.Clock) *Listener {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()
	return &Listener{
		table: table,
		clock: clock,
		times: FieldTimes{Area: now, Width: now, Height: now, CenterX: now, CenterY: now},
	}
}

// Start registers with the table. It is a no-op when already listening.
func (l *Listener) Start() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if l.listening {
		return
	}
	l.id = l.table.AddTableListener(l)
	l.listening = true
}

// Stop unregisters from the table. It is a no-op when already stopped.
func (l *Listener) Stop() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if !l.listening {
		return
	}
	l.table.RemoveTableListener(l.id)
	l.id = ""
	l.listening = false
}

// Listening reports whether the listener is registered.
func (l *Listener) Listening() bool {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	return l.listening
}

// ValueChanged implements nettable.Listener. Keys other than the five
// rectangle fields are ignored.
func (l *Listener) ValueChanged(key string, value []float64, _ bool) {
	// Stamped before locking.
	ts := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	f := l.rects.field(key)
	if f == nil {
		return
	}
	*f = Present(value)
	*l.times.field(key) = ts
}

// OldestTimestamp returns the least recent field update instant.
func (l *Listener) OldestTimestamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.times.Oldest()
}

// Timestamps returns every field's update instant.
func (l *Listener) Timestamps() FieldTimes {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.times
}

// Snapshot copies the buffered fields into out.
func (l *Listener) Snapshot(out *RectangleSet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*out = l.rects.Clone()
}
