// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// buildSafeTensors assembles a safetensors file from a JSON header string
// and a raw byte-buffer.
func buildSafeTensors(header string, buffer []byte) []byte {
	data := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
	data = append(data, header...)
	return append(data, buffer...)
}

func writeSafeTensors(t *testing.T, header string, buffer []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, os.WriteFile(path, buildSafeTensors(header, buffer), 0o644))
	return path
}

func appendF32(b []byte, values ...float32) []byte {
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

func TestLoadSafeTensors(t *testing.T) {
	// Declaration order is recovered from data offsets, not JSON key order.
	header := `{` +
		`"second": {"dtype": "F32", "shape": [2], "data_offsets": [8, 16]},` +
		`"first": {"dtype": "F32", "shape": [2], "data_offsets": [0, 8]},` +
		`"__metadata__": {"format": "pt"}` +
		`}`
	buffer := appendF32(nil, 1, 2, 3, 4)

	params, err := LoadSafeTensors(writeSafeTensors(t, header, buffer))
	require.NoError(t, err)
	require.Len(t, params, 2)

	assert.Equal(t, "first", params[0].Name)
	assert.Equal(t, []int{2}, params[0].Shape)
	assert.Equal(t, []float32{1, 2}, params[0].Values)
	assert.Equal(t, "second", params[1].Name)
	assert.Equal(t, []float32{3, 4}, params[1].Values)
}

func TestLoadSafeTensors_DTypes(t *testing.T) {
	t.Run("F16", func(t *testing.T) {
		buffer := binary.LittleEndian.AppendUint16(nil, float16.Fromfloat32(1.5).Bits())
		buffer = binary.LittleEndian.AppendUint16(buffer, float16.Fromfloat32(-2).Bits())
		header := `{"w": {"dtype": "F16", "shape": [2], "data_offsets": [0, 4]}}`

		params, err := LoadSafeTensors(writeSafeTensors(t, header, buffer))
		require.NoError(t, err)
		require.Len(t, params, 1)
		assert.Equal(t, []float32{1.5, -2}, params[0].Values)
	})

	t.Run("BF16", func(t *testing.T) {
		// bfloat16 is the upper half of a float32.
		buffer := binary.LittleEndian.AppendUint16(nil, uint16(math.Float32bits(1.0)>>16))
		header := `{"w": {"dtype": "BF16", "shape": [1], "data_offsets": [0, 2]}}`

		params, err := LoadSafeTensors(writeSafeTensors(t, header, buffer))
		require.NoError(t, err)
		require.Len(t, params, 1)
		assert.Equal(t, []float32{1.0}, params[0].Values)
	})

	t.Run("F64", func(t *testing.T) {
		buffer := binary.LittleEndian.AppendUint64(nil, math.Float64bits(0.25))
		header := `{"w": {"dtype": "F64", "shape": [1], "data_offsets": [0, 8]}}`

		params, err := LoadSafeTensors(writeSafeTensors(t, header, buffer))
		require.NoError(t, err)
		require.Len(t, params, 1)
		assert.Equal(t, []float32{0.25}, params[0].Values)
	})

	t.Run("unsupported dtype", func(t *testing.T) {
		header := `{"w": {"dtype": "I64", "shape": [1], "data_offsets": [0, 8]}}`
		_, err := LoadSafeTensors(writeSafeTensors(t, header, make([]byte, 8)))
		require.Error(t, err)
		assert.ErrorContains(t, err, `tensor "w": unsupported dtype "I64"`)
	})
}

func TestLoadSafeTensors_Failures(t *testing.T) {
	testCases := []struct {
		name   string
		header string
		buffer []byte
		errMsg string
	}{
		{
			"offsets leave a gap",
			`{"a": {"dtype": "F32", "shape": [1], "data_offsets": [4, 8]}}`,
			make([]byte, 8),
			"expected data offset 0, actual 4",
		},
		{
			"offsets beyond buffer",
			`{"a": {"dtype": "F32", "shape": [2], "data_offsets": [0, 8]}}`,
			make([]byte, 4),
			"beyond byte-buffer",
		},
		{
			"trailing buffer bytes",
			`{"a": {"dtype": "F32", "shape": [1], "data_offsets": [0, 4]}}`,
			make([]byte, 8),
			"trailing bytes not covered",
		},
		{
			"shape disagrees with data",
			`{"a": {"dtype": "F32", "shape": [3], "data_offsets": [0, 8]}}`,
			make([]byte, 8),
			"shape [3] implies 3 elements, data holds 2",
		},
		{
			"invalid JSON header",
			`{oops`,
			nil,
			"invalid header JSON",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSafeTensors(writeSafeTensors(t, tc.header, tc.buffer))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestLoadSafeTensors_TruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := LoadSafeTensors(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "file too small")
}
