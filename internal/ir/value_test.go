package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealBits_ExactRoundTrip(t *testing.T) {
	for _, f := range []float64{0, math.Copysign(0, -1), 0.1, 1.0 / 3.0, -2.5e-300, math.Inf(1), math.MaxFloat64} {
		got := RealBits(f).Real()
		assert.Equal(t, math.Float64bits(f), math.Float64bits(got), "value %v", f)
	}
	nan := math.Float64frombits(0x7ff8000000000001)
	assert.Equal(t, uint64(0x7ff8000000000001), math.Float64bits(RealBits(nan).Real()))
}

func TestReals_Canonical(t *testing.T) {
	got, err := MarshalCanonical(Reals([]float64{1, -1}))
	require.NoError(t, err)
	assert.Equal(t, `[4607182418800017408,-4616189618054758400]`, string(got))
}

func TestSortedKeys_UTF16(t *testing.T) {
	obj := IRObject{"b": IRInt(1), "a": IRInt(2), "\uE000": IRInt(3), "\U0001F600": IRInt(4)}
	assert.Equal(t, []string{"a", "b", "\U0001F600", "\uE000"}, obj.SortedKeys())
}

func TestUnmarshalIRValue_Strict(t *testing.T) {
	_, err := UnmarshalIRValue([]byte(`{"x":1.5}`))
	assert.Error(t, err, "floats are rejected")
	_, err = UnmarshalIRValue([]byte(`{"x":1e3}`))
	assert.Error(t, err, "exponent form is rejected")
	_, err = UnmarshalIRValue([]byte(`[null]`))
	assert.Error(t, err, "null is rejected")

	v, err := UnmarshalIRValue([]byte(`{"n":[1,"a",true]}`))
	require.NoError(t, err)
	assert.Equal(t, IRObject{"n": IRArray{IRInt(1), IRString("a"), IRBool(true)}}, v)
}

func TestIRObject_JSONRoundTripKeepsNull(t *testing.T) {
	in := IRObject{"z": IRNull{}, "a": IRArray{IRInt(1), IRString("x")}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,"x"],"z":null}`, string(data))

	var out IRObject
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestIRArray_UnmarshalRejectsObject(t *testing.T) {
	var arr IRArray
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &arr))
}
