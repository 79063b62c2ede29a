// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checkpoint reads model weights from a safetensors checkpoint,
// the usual interchange format for trained transformer parameters, and
// hands them to the exporter as float32 working values.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/x448/float16"

	"github.com/clawdbot/emb1/export"
)

// A safetensors file is a u64 little-endian header size, a JSON header
// mapping tensor names to {dtype, shape, data_offsets}, then the raw
// byte-buffer all offsets refer to.

// maxHeaderSize guards against tampered or garbage data driving a giant
// header allocation.
const maxHeaderSize = 100_000_000

const metadataKey = "__metadata__"

type tensorInfo struct {
	Name        string
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// LoadSafeTensors reads every tensor of a safetensors checkpoint,
// returning parameters in declaration order (recovered from ascending data
// offsets, since JSON objects carry no order of their own).
//
// Source values are converted to float32 working precision: F16 and BF16
// are widened exactly, F32 is passed through, F64 is narrowed. Any other
// dtype is an error naming the tensor.
func LoadSafeTensors(path string) ([]export.Param, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	infos, buffer, err := parseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	params := make([]export.Param, len(infos))
	for i, info := range infos {
		values, err := convertValues(info, buffer[info.DataOffsets[0]:info.DataOffsets[1]])
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: tensor %q: %w", path, info.Name, err)
		}
		params[i] = export.Param{
			Name:   info.Name,
			Shape:  info.Shape,
			Values: values,
		}
	}
	return params, nil
}

func parseHeader(data []byte) ([]tensorInfo, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("file too small for header size")
	}
	headerSize := binary.LittleEndian.Uint64(data)
	if headerSize > maxHeaderSize {
		return nil, nil, fmt.Errorf("header too large: max %d, actual %d", maxHeaderSize, headerSize)
	}
	if headerSize > uint64(len(data)-8) {
		return nil, nil, fmt.Errorf("header size %d exceeds file size", headerSize)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerSize], &raw); err != nil {
		return nil, nil, fmt.Errorf("invalid header JSON: %w", err)
	}
	delete(raw, metadataKey)

	infos := make([]tensorInfo, 0, len(raw))
	for name, rawInfo := range raw {
		info := tensorInfo{Name: name}
		if err := json.Unmarshal(rawInfo, &info); err != nil {
			return nil, nil, fmt.Errorf("invalid header entry for tensor %q: %w", name, err)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		l, r := infos[i].DataOffsets, infos[j].DataOffsets
		return l[0] < r[0] || (l[0] == r[0] && l[1] < r[1])
	})

	buffer := data[8+headerSize:]
	if err := validateOffsets(infos, int64(len(buffer))); err != nil {
		return nil, nil, err
	}
	return infos, buffer, nil
}

// validateOffsets checks that the tensors' data offsets cover the whole
// byte-buffer contiguously, starting from offset 0, with no overlaps. This
// runs before any data is interpreted.
func validateOffsets(infos []tensorInfo, bufferLen int64) error {
	expectedBegin := int64(0)
	for _, info := range infos {
		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if begin != expectedBegin {
			return fmt.Errorf("tensor %q: expected data offset %d, actual %d", info.Name, expectedBegin, begin)
		}
		if end < begin {
			return fmt.Errorf("tensor %q: data offsets end %d before begin %d", info.Name, end, begin)
		}
		if end > bufferLen {
			return fmt.Errorf("tensor %q: data offsets end %d beyond byte-buffer of %d bytes", info.Name, end, bufferLen)
		}
		expectedBegin = end
	}
	if expectedBegin != bufferLen {
		return fmt.Errorf("byte-buffer has %d trailing bytes not covered by any tensor", bufferLen-expectedBegin)
	}
	return nil
}

func convertValues(info tensorInfo, raw []byte) ([]float32, error) {
	elemSize, ok := dtypeSize(info.DType)
	if !ok {
		return nil, fmt.Errorf("unsupported dtype %q", info.DType)
	}
	if len(raw)%elemSize != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %s element size", len(raw), info.DType)
	}
	n := len(raw) / elemSize
	if size, err := checkedShapeSize(info.Shape); err != nil {
		return nil, err
	} else if size != n {
		return nil, fmt.Errorf("shape %v implies %d elements, data holds %d", info.Shape, size, n)
	}

	values := make([]float32, n)
	switch info.DType {
	case "F16":
		for i := range values {
			values[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
	case "BF16":
		for i := range values {
			bits := uint32(binary.LittleEndian.Uint16(raw[2*i:])) << 16
			values[i] = math.Float32frombits(bits)
		}
	case "F32":
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case "F64":
		for i := range values {
			values[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:])))
		}
	}
	return values, nil
}

func dtypeSize(dtype string) (int, bool) {
	switch dtype {
	case "F16", "BF16":
		return 2, true
	case "F32":
		return 4, true
	case "F64":
		return 8, true
	default:
		return 0, false
	}
}

func checkedShapeSize(shape []int) (int, error) {
	size := 1
	for _, v := range shape {
		if v < 0 {
			return 0, fmt.Errorf("shape contains negative value %d", v)
		}
		if v != 0 && size > math.MaxInt/v {
			return 0, fmt.Errorf("int overflow computing tensor size from shape")
		}
		size *= v
	}
	return size, nil
}
