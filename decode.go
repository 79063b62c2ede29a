// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emb1

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/x448/float16"
)

// Decode parses a byte buffer holding a whole EMB1 container and returns
// its tensors, in the order they were encoded.
//
// The buffer is fully validated before any tensor is materialized: the
// magic constant must match (ErrBadMagic), every descriptor must lie within
// the buffer and agree with its own shape (ErrTruncatedContainer,
// ErrShapeMismatch), and the buffer length must exactly account for header,
// descriptors and declared data lengths (ErrTruncatedContainer if short,
// ErrTrailingBytes if long). Any failed check aborts the decode of the
// whole container; there is no partial recovery.
//
// Half-precision values are widened to float32, which is exact.
func Decode(data []byte) ([]Tensor, error) {
	r := containerReader{data: data}

	magic, err := r.uint32("magic")
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w (found 0x%08X)", ErrBadMagic, magic)
	}
	count, err := r.uint32("tensor count")
	if err != nil {
		return nil, err
	}

	// A descriptor takes at least 12 bytes (empty name, rank 0), so a
	// count beyond what the remaining buffer can hold is corruption.
	// Checking first keeps a bogus count from driving a huge allocation.
	if uint64(count) > uint64(r.remaining())/12 {
		return nil, fmt.Errorf("%w: %d descriptors cannot fit in %d remaining bytes", ErrTruncatedContainer, count, r.remaining())
	}

	descriptors := make([]descriptor, count)
	for i := range descriptors {
		if descriptors[i], err = readDescriptor(&r); err != nil {
			return nil, fmt.Errorf("descriptor %d: %w", i, err)
		}
	}

	declared := uint64(0)
	for _, d := range descriptors {
		declared += uint64(d.dataLen)
	}
	switch remaining := uint64(r.remaining()); {
	case remaining < declared:
		return nil, fmt.Errorf("%w: data region holds %d bytes, descriptors declare %d", ErrTruncatedContainer, remaining, declared)
	case remaining > declared:
		return nil, fmt.Errorf("%w: %d bytes past the declared data region", ErrTrailingBytes, remaining-declared)
	}

	tensors := make([]Tensor, count)
	for i, d := range descriptors {
		raw, err := r.bytes(d.dataLen, "tensor data")
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", d.name, err)
		}
		tensors[i] = Tensor{
			name:   d.name,
			shape:  d.shape,
			values: widenData(raw),
		}
	}
	return tensors, nil
}

// DecodeFile reads and decodes a whole container file. Errors are wrapped
// with the file path, so a corrupt container is reported with both the
// offending file and the structural check that failed.
func DecodeFile(path string) ([]Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	tensors, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", path, err)
	}
	return tensors, nil
}

type descriptor struct {
	name    string
	shape   []int
	dataLen int
}

func readDescriptor(r *containerReader) (descriptor, error) {
	nameLen, err := r.uint32("name length")
	if err != nil {
		return descriptor{}, err
	}
	nameBytes, err := r.bytes(int(nameLen), "name")
	if err != nil {
		return descriptor{}, err
	}
	name := string(nameBytes)

	rank, err := r.uint32("rank")
	if err != nil {
		return descriptor{}, err
	}
	// Bounds before allocation: rank dims need 4*rank bytes.
	if uint64(rank) > uint64(r.remaining())/4 {
		return descriptor{}, fmt.Errorf("%w: rank %d cannot fit in %d remaining bytes", ErrTruncatedContainer, rank, r.remaining())
	}
	var shape []int
	if rank > 0 {
		shape = make([]int, rank)
		for i := range shape {
			dim, err := r.uint32("dimension")
			if err != nil {
				return descriptor{}, err
			}
			shape[i] = int(dim)
		}
	}

	dataLen, err := r.uint32("data length")
	if err != nil {
		return descriptor{}, err
	}

	size, err := shapeSize(shape)
	if err != nil {
		return descriptor{}, fmt.Errorf("tensor %q: %w", name, err)
	}
	if size > math.MaxInt/elementSize || elementSize*size != int(dataLen) {
		return descriptor{}, fmt.Errorf("tensor %q: %w: declared data length %d, shape %v requires %d", name, ErrShapeMismatch, dataLen, shape, elementSize*size)
	}

	return descriptor{
		name:    name,
		shape:   shape,
		dataLen: int(dataLen),
	}, nil
}

// widenData reinterprets little-endian half-precision bytes as float32
// values. The byte length is validated against the shape beforehand.
func widenData(raw []byte) []float32 {
	values := make([]float32, len(raw)/elementSize)
	for i := range values {
		bits := binary.LittleEndian.Uint16(raw[elementSize*i:])
		values[i] = float16.Frombits(bits).Float32()
	}
	return values
}

// containerReader is a bounds-checked cursor over a container buffer.
// Reading past the end is reported as ErrTruncatedContainer, naming the
// field being read and its byte offset.
type containerReader struct {
	data []byte
	off  int
}

func (r *containerReader) remaining() int {
	return len(r.data) - r.off
}

func (r *containerReader) uint32(field string) (uint32, error) {
	b, err := r.bytes(4, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *containerReader) bytes(n int, field string) ([]byte, error) {
	if n > r.remaining() {
		return nil, fmt.Errorf("%w: reading %s (%d bytes) at offset %d, only %d left", ErrTruncatedContainer, field, n, r.off, r.remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}
