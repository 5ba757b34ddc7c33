// Package nettable is the shared key/value table the vision pipeline
// publishes rectangle arrays into.
//
// Values are numeric arrays keyed by name. Writers replace one key at a time
// and there is no multi-key transaction: a reader may observe "area" from
// one frame and "width" from the next. Listeners registered with
// AddTableListener are notified after each write, on the writer's goroutine.
package nettable

import (
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Keys published by the vision pipeline for each processed frame.
const (
	KeyArea    = "area"
	KeyWidth   = "width"
	KeyHeight  = "height"
	KeyCenterX = "centerX"
	KeyCenterY = "centerY"
)

// RectangleKeys lists the rectangle keys in the order frames are applied.
var RectangleKeys = []string{KeyArea, KeyWidth, KeyHeight, KeyCenterX, KeyCenterY}

// Listener receives change notifications. value is a private copy owned by
// the listener. isNew is true when the key did not previously exist.
type Listener interface {
	ValueChanged(key string, value []float64, isNew bool)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(key string, value []float64, isNew bool)

// ValueChanged calls f.
func (f ListenerFunc) ValueChanged(key string, value []float64, isNew bool) {
	f(key, value, isNew)
}

// Update is a single key write.
type Update struct {
	Key   string
	Value []float64
}

// Table is a concurrency-safe table of numeric arrays.
type Table struct {
	name string

	mu        sync.RWMutex
	values    map[string][]float64
	listeners map[string]Listener
	// order keeps notification order stable across writes.
	order []string
}

// New returns an empty table with the given name.
func New(name string) *Table {
	return &Table{
		name:      name,
		values:    make(map[string][]float64),
		listeners: make(map[string]Listener),
	}
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// GetNumberArray returns a copy of the array stored at key, or def if the
// key is absent. def is returned as is.
func (t *Table) GetNumberArray(key string, def []float64) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key]
	if !ok {
		return def
	}
	return slices.Clone(v)
}

// Contains reports whether key has a value.
func (t *Table) Contains(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.values[key]
	return ok
}

// Keys returns the stored keys in sorted order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.values))
	for k := range t.values {
		keys = append(keys, k)
	}
	t.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// PutNumberArray stores a copy of value at key and notifies listeners.
// A nil value is stored as an empty array.
func (t *Table) PutNumberArray(key string, value []float64) {
	stored := slices.Clone(value)
	if stored == nil {
		stored = []float64{}
	}

	t.mu.Lock()
	_, existed := t.values[key]
	t.values[key] = stored
	targets := make([]Listener, 0, len(t.order))
	for _, id := range t.order {
		targets = append(targets, t.listeners[id])
	}
	t.mu.Unlock()

	// Notify outside the lock so a slow listener cannot stall readers.
	for _, l := range targets {
		l.ValueChanged(key, slices.Clone(stored), !existed)
	}
}

// Apply writes each update in order. Every key is a separate write with its
// own notification.
func (t *Table) Apply(updates []Update) {
	for _, u := range updates {
		t.PutNumberArray(u.Key, u.Value)
	}
}

// Delete removes key. Listeners are not notified.
func (t *Table) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.values, key)
}

// AddTableListener registers l and returns an id for RemoveTableListener.
func (t *Table) AddTableListener(l Listener) string {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[id] = l
	t.order = append(t.order, id)
	return id
}

// RemoveTableListener unregisters the listener with the given id. Unknown
// ids are ignored.
func (t *Table) RemoveTableListener(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[id]; !ok {
		return
	}
	delete(t.listeners, id)
	t.order = slices.DeleteFunc(t.order, func(s string) bool { return s == id })
}

// ListenerCount returns the number of registered listeners.
func (t *Table) ListenerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}
