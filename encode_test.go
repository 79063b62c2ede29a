// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emb1

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func mustTensor(t *testing.T, name string, shape []int, values []float32) Tensor {
	t.Helper()
	tensor, err := NewTensor(name, shape, values)
	require.NoError(t, err)
	return tensor
}

func appendUint32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendHalf(b []byte, values ...float32) []byte {
	for _, v := range values {
		b = binary.LittleEndian.AppendUint16(b, float16.Fromfloat32(v).Bits())
	}
	return b
}

func TestEncode_EmptyContainer(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Encode(&buf, nil)
	require.NoError(t, err)

	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, []byte{'1', 'B', 'M', 'E', 0, 0, 0, 0}, buf.Bytes())
	assert.Len(t, buf.Bytes(), 8)
}

func TestEncode_SingleTensorLayout(t *testing.T) {
	tensor := mustTensor(t, "weight", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	data, stats, err := EncodeBytes([]Tensor{tensor})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tensors)
	assert.Equal(t, int64(12), stats.DataBytes)
	assert.Empty(t, stats.Overflows)

	want := appendUint32(nil, Magic)
	want = appendUint32(want, 1)
	want = appendUint32(want, 6) // name_len
	want = append(want, "weight"...)
	want = appendUint32(want, 2) // rank
	want = appendUint32(want, 2)
	want = appendUint32(want, 3)
	want = appendUint32(want, 12) // data_len
	want = appendHalf(want, 1, 2, 3, 4, 5, 6)

	assert.Equal(t, want, data)
}

func TestEncode_DescriptorsPrecedeAllData(t *testing.T) {
	a := mustTensor(t, "a", []int{2}, []float32{1, 2})
	b := mustTensor(t, "b", []int{2}, []float32{3, 4})

	data, _, err := EncodeBytes([]Tensor{a, b})
	require.NoError(t, err)

	// Both descriptors first, then both data regions in the same order.
	want := appendUint32(nil, Magic)
	want = appendUint32(want, 2)
	for _, name := range []string{"a", "b"} {
		want = appendUint32(want, 1)
		want = append(want, name...)
		want = appendUint32(want, 1)
		want = appendUint32(want, 2)
		want = appendUint32(want, 4)
	}
	want = appendHalf(want, 1, 2, 3, 4)

	assert.Equal(t, want, data)
}

func TestEncode_DuplicateName(t *testing.T) {
	tensors := []Tensor{
		mustTensor(t, "w", []int{1}, []float32{1}),
		mustTensor(t, "w", []int{2}, []float32{2, 3}),
	}

	var buf bytes.Buffer
	_, err := Encode(&buf, tensors)
	require.ErrorIs(t, err, ErrDuplicateName)
	assert.ErrorContains(t, err, `"w"`)
	assert.Zero(t, buf.Len(), "no bytes must be written on duplicate name")
}

func TestEncode_OverflowStats(t *testing.T) {
	tensors := []Tensor{
		mustTensor(t, "safe", []int{2}, []float32{65504, -65504}),
		mustTensor(t, "hot", []int{4}, []float32{70000, -1e9, float32(math.Inf(1)), float32(math.NaN())}),
	}

	data, stats, err := EncodeBytes(tensors)
	require.NoError(t, err)
	// Saturation is a warning: both tensors are still written in full.
	require.NotEmpty(t, data)

	// Inf input stays Inf, NaN stays NaN; neither counts as overflow.
	assert.Equal(t, []Overflow{{Tensor: "hot", Count: 2}}, stats.Overflows)

	tensors2, err := Decode(data)
	require.NoError(t, err)
	hot := tensors2[1].Values()
	assert.True(t, math.IsInf(float64(hot[0]), 1))
	assert.True(t, math.IsInf(float64(hot[1]), -1))
	assert.True(t, math.IsInf(float64(hot[2]), 1))
	assert.True(t, math.IsNaN(float64(hot[3])))
}

func TestEncodeBytes_MatchesEncode(t *testing.T) {
	tensors := []Tensor{
		mustTensor(t, "a", []int{3}, []float32{1, 2, 3}),
		mustTensor(t, "b", nil, []float32{4}),
	}

	var buf bytes.Buffer
	_, err := Encode(&buf, tensors)
	require.NoError(t, err)

	data, _, err := EncodeBytes(tensors)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), data)
}
