// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emb1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensor_Success(t *testing.T) {
	testCases := []struct {
		name   string
		shape  []int
		values []float32
	}{
		{"scalar nil shape", nil, []float32{3.14}},
		{"scalar empty shape", []int{}, []float32{1}},
		{"vector", []int{3}, []float32{1, 2, 3}},
		{"matrix", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6}},
		{"zero dimension", []int{0, 5}, nil},
		{"empty name ok", []int{1}, []float32{0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tensor, err := NewTensor(tc.name, tc.shape, tc.values)
			require.NoError(t, err)
			assert.Equal(t, tc.name, tensor.Name())
			assert.Equal(t, len(tc.values), tensor.NumElements())
			assert.Equal(t, 2*len(tc.values), tensor.DataLen())
			if len(tc.shape) == 0 {
				assert.Nil(t, tensor.Shape())
			} else {
				assert.Equal(t, tc.shape, tensor.Shape())
			}
		})
	}
}

func TestNewTensor_Failure(t *testing.T) {
	testCases := []struct {
		name   string
		shape  []int
		values []float32
		errMsg string
	}{
		{"negative dimension", []int{2, -1}, []float32{1, 2}, "shape contains negative value -1"},
		{"too few values", []int{2, 2}, []float32{1, 2}, "size computed from shape (4) does not match number of values (2)"},
		{"too many values", []int{2}, []float32{1, 2, 3}, "size computed from shape (2) does not match number of values (3)"},
		{"scalar without value", nil, nil, "size computed from shape (1) does not match number of values (0)"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTensor("x", tc.shape, tc.values)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestTensor_ShapeIsCopied(t *testing.T) {
	shape := []int{2, 3}
	tensor, err := NewTensor("w", shape, make([]float32, 6))
	require.NoError(t, err)

	shape[0] = 99
	assert.Equal(t, []int{2, 3}, tensor.Shape())

	tensor.Shape()[1] = 99
	assert.Equal(t, []int{2, 3}, tensor.Shape())
}
