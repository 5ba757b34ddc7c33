package nettable

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrEmptyMessage is returned for blank lines and zero-length datagrams.
var ErrEmptyMessage = errors.New("empty table message")

// ErrNotFinite is returned for NaN or infinite array values.
var ErrNotFinite = errors.New("table value is not finite")

// lineUpdate is the single-key form of a JSON line:
//
//	{"key":"area","value":[1200,340]}
type lineUpdate struct {
	Key   *string   `json:"key"`
	Value []float64 `json:"value"`
}

// DecodeLine parses one JSON line from the vision coprocessor. Two forms are
// accepted: a single-key update with "key" and "value", or a frame object
// mapping each key to its array. Frame keys are returned in OrderKeys order.
func DecodeLine(line []byte) ([]Update, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrEmptyMessage
	}

	var single lineUpdate
	if err := json.Unmarshal(line, &single); err == nil && single.Key != nil {
		if *single.Key == "" {
			return nil, fmt.Errorf("table update has empty key")
		}
		return []Update{{Key: *single.Key, Value: nonNil(single.Value)}}, nil
	}

	var frame map[string][]float64
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse table line: %w", err)
	}
	return frameUpdates(frame), nil
}

// EncodeLine renders a frame as a JSON line (without the trailing newline).
func EncodeLine(frame map[string][]float64) ([]byte, error) {
	return json.Marshal(frame)
}

// DecodeDatagram parses a protobuf-encoded google.protobuf.Struct whose
// fields are lists of finite numbers.
func DecodeDatagram(b []byte) ([]Update, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal table datagram: %w", err)
	}

	frame := make(map[string][]float64, len(s.GetFields()))
	for key, v := range s.GetFields() {
		list := v.GetListValue()
		if list == nil {
			return nil, fmt.Errorf("table datagram key %q is not a list", key)
		}
		values := make([]float64, 0, len(list.GetValues()))
		for i, item := range list.GetValues() {
			n, ok := item.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("table datagram key %q index %d is not a number", key, i)
			}
			if !isFinite(n.NumberValue) {
				return nil, fmt.Errorf("table datagram key %q index %d: %w", key, i, ErrNotFinite)
			}
			values = append(values, n.NumberValue)
		}
		frame[key] = values
	}
	return frameUpdates(frame), nil
}

// EncodeDatagram renders a frame as a protobuf google.protobuf.Struct.
func EncodeDatagram(frame map[string][]float64) ([]byte, error) {
	fields := make(map[string]*structpb.Value, len(frame))
	for key, values := range frame {
		items := make([]*structpb.Value, len(values))
		for i, v := range values {
			if !isFinite(v) {
				return nil, fmt.Errorf("table key %q index %d: %w", key, i, ErrNotFinite)
			}
			items[i] = structpb.NewNumberValue(v)
		}
		fields[key] = structpb.NewListValue(&structpb.ListValue{Values: items})
	}
	return proto.Marshal(&structpb.Struct{Fields: fields})
}

// OrderKeys returns keys with the rectangle keys first, in publishing
// order, followed by any other keys sorted.
func OrderKeys(keys []string) []string {
	rank := make(map[string]int, len(RectangleKeys))
	for i, k := range RectangleKeys {
		rank[k] = i
	}
	out := append([]string(nil), keys...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}

func frameUpdates(frame map[string][]float64) []Update {
	keys := make([]string, 0, len(frame))
	for k := range frame {
		keys = append(keys, k)
	}
	updates := make([]Update, 0, len(keys))
	for _, k := range OrderKeys(keys) {
		updates = append(updates, Update{Key: k, Value: nonNil(frame[k])})
	}
	return updates
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
