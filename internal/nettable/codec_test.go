package nettable

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestDecodeLine_Single(t *testing.T) {
	got, err := DecodeLine([]byte(`{"key":"centerX","value":[160,12.5]}`))
	require.NoError(t, err)
	assert.Equal(t, []Update{{Key: "centerX", Value: []float64{160, 12.5}}}, got)

	got, err = DecodeLine([]byte(`{"key":"area","value":null}`))
	require.NoError(t, err)
	assert.Equal(t, []Update{{Key: "area", Value: []float64{}}}, got)
}

func TestDecodeLine_FrameOrder(t *testing.T) {
	line := `{"solidity":[0.9],"centerY":[5],"height":[3],"area":[1],"width":[2],"centerX":[4]}`
	got, err := DecodeLine([]byte(line))
	require.NoError(t, err)

	want := []Update{
		{Key: "area", Value: []float64{1}},
		{Key: "width", Value: []float64{2}},
		{Key: "height", Value: []float64{3}},
		{Key: "centerX", Value: []float64{4}},
		{Key: "centerY", Value: []float64{5}},
		{Key: "solidity", Value: []float64{0.9}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeLine_Errors(t *testing.T) {
	tests := map[string]string{
		"blank":        "   ",
		"not json":     "{area",
		"string array": `{"area":["big"]}`,
		"empty key":    `{"key":"","value":[1]}`,
		"scalar value": `{"area":3}`,
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeLine([]byte(line))
			assert.Error(t, err)
		})
	}
	_, err := DecodeLine(nil)
	assert.True(t, errors.Is(err, ErrEmptyMessage))
}

func TestEncodeLine_RoundTrip(t *testing.T) {
	b, err := EncodeLine(map[string][]float64{"area": {3}, "width": {1}})
	require.NoError(t, err)
	got, err := DecodeLine(b)
	require.NoError(t, err)
	assert.Equal(t, []Update{{Key: "area", Value: []float64{3}}, {Key: "width", Value: []float64{1}}}, got)
}

func TestDatagram_RoundTrip(t *testing.T) {
	frame := map[string][]float64{
		"centerX": {160, 40},
		"area":    {900, 120},
		"width":   {},
	}
	b, err := EncodeDatagram(frame)
	require.NoError(t, err)

	got, err := DecodeDatagram(b)
	require.NoError(t, err)
	want := []Update{
		{Key: "area", Value: []float64{900, 120}},
		{Key: "width", Value: []float64{}},
		{Key: "centerX", Value: []float64{160, 40}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDatagram_RejectsNonFinite(t *testing.T) {
	_, err := EncodeDatagram(map[string][]float64{"area": {math.Inf(1)}})
	assert.ErrorIs(t, err, ErrNotFinite)
}

// nonFiniteDatagram marshals a Struct directly, since EncodeDatagram
// refuses to produce one.
func nonFiniteDatagram(t *testing.T, key string, v float64) []byte {
	t.Helper()
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		"area": structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{structpb.NewNumberValue(800)}}),
		key:    structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{structpb.NewNumberValue(v)}}),
	}}
	b, err := proto.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestDecodeDatagram_RejectsNonFinite(t *testing.T) {
	tests := map[string]float64{
		"nan":  math.NaN(),
		"+inf": math.Inf(1),
		"-inf": math.Inf(-1),
	}
	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeDatagram(nonFiniteDatagram(t, "centerX", v))
			assert.ErrorIs(t, err, ErrNotFinite)
			assert.ErrorContains(t, err, `"centerX"`)
			assert.Nil(t, got)
		})
	}
}

func TestDecodeDatagram_Errors(t *testing.T) {
	_, err := DecodeDatagram(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = DecodeDatagram([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)

	s, err := structpb.NewStruct(map[string]interface{}{"area": 3.0})
	require.NoError(t, err)
	b, err := proto.Marshal(s)
	require.NoError(t, err)
	_, err = DecodeDatagram(b)
	assert.ErrorContains(t, err, "not a list")

	s, err = structpb.NewStruct(map[string]interface{}{"area": []interface{}{"x"}})
	require.NoError(t, err)
	b, err = proto.Marshal(s)
	require.NoError(t, err)
	_, err = DecodeDatagram(b)
	assert.ErrorContains(t, err, "not a number")
}

func TestOrderKeys(t *testing.T) {
	got := OrderKeys([]string{"zeta", "centerY", "alpha", "area"})
	assert.Equal(t, []string{"area", "centerY", "alpha", "zeta"}, got)
}
