// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emb1

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/x448/float16"
)

// Stats reports the outcome of an Encode call.
type Stats struct {
	// Tensors is the number of tensors written to the container.
	Tensors int
	// DataBytes is the size in bytes of the half-precision data region.
	DataBytes int64
	// Overflows lists, per affected tensor, how many finite values exceeded
	// the half-precision range and saturated to infinity. Overflow is a
	// fidelity warning, not an error: the container is still written.
	Overflows []Overflow
}

// Overflow records half-precision saturation within one tensor.
type Overflow struct {
	Tensor string
	Count  int
}

// Encode writes the given tensors to w as an EMB1 container, preserving
// their order. Tensor names must be unique: a duplicate is reported as
// ErrDuplicateName before any byte is written.
//
// Values are converted from float32 to half precision, rounding to the
// nearest representable value. Finite values whose magnitude exceeds the
// half-precision range become ±Inf; each such conversion is counted in
// Stats.Overflows. The caller decides what to do with the warning (the
// codec itself never logs).
//
// Encode writes to w and has no other side effects; the destination
// (file, buffer, network) is the caller's choice.
func Encode(w io.Writer, tensors []Tensor) (Stats, error) {
	if err := checkUniqueNames(tensors); err != nil {
		return Stats{}, err
	}

	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, len(tensors)); err != nil {
		return Stats{}, err
	}
	for i := range tensors {
		if err := writeDescriptor(bw, tensors[i]); err != nil {
			return Stats{}, fmt.Errorf("failed to write descriptor of tensor %q: %w", tensors[i].Name(), err)
		}
	}

	stats := Stats{Tensors: len(tensors)}
	for i := range tensors {
		overflows, err := writeData(bw, tensors[i])
		if err != nil {
			return Stats{}, fmt.Errorf("failed to write data of tensor %q: %w", tensors[i].Name(), err)
		}
		stats.DataBytes += int64(tensors[i].DataLen())
		if overflows > 0 {
			stats.Overflows = append(stats.Overflows, Overflow{
				Tensor: tensors[i].Name(),
				Count:  overflows,
			})
		}
	}

	if err := bw.Flush(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// EncodeBytes is like Encode, returning the container as a byte buffer
// ready for writing to storage.
func EncodeBytes(tensors []Tensor) ([]byte, Stats, error) {
	size := headerSize
	for i := range tensors {
		size += descriptorSize(tensors[i]) + tensors[i].DataLen()
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	stats, err := Encode(buf, tensors)
	if err != nil {
		return nil, Stats{}, err
	}
	return buf.Bytes(), stats, nil
}

func checkUniqueNames(tensors []Tensor) error {
	seen := make(map[string]struct{}, len(tensors))
	for i := range tensors {
		name := tensors[i].Name()
		if _, ok := seen[name]; ok {
			return fmt.Errorf("tensor %q: %w", name, ErrDuplicateName)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func descriptorSize(t Tensor) int {
	// name_len + name + rank + dims + data_len
	return 4 + len(t.name) + 4 + 4*len(t.shape) + 4
}

func writeHeader(w io.Writer, count int) error {
	if err := writeUint32(w, Magic); err != nil {
		return fmt.Errorf("failed to write magic: %w", err)
	}
	if err := writeUint32(w, uint32(count)); err != nil {
		return fmt.Errorf("failed to write tensor count: %w", err)
	}
	return nil
}

func writeDescriptor(w io.Writer, t Tensor) error {
	if err := writeUint32(w, uint32(len(t.name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, t.name); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(t.shape))); err != nil {
		return err
	}
	for _, dim := range t.shape {
		if err := writeUint32(w, uint32(dim)); err != nil {
			return err
		}
	}
	return writeUint32(w, uint32(t.DataLen()))
}

// writeData converts the tensor's values to half precision and writes them
// to w, returning the number of values that saturated to infinity.
func writeData(w io.Writer, t Tensor) (overflows int, err error) {
	buf := make([]byte, t.DataLen())
	for i, v := range t.values {
		h := float16.Fromfloat32(v)
		if h.IsInf(0) && !math.IsInf(float64(v), 0) {
			overflows++
		}
		binary.LittleEndian.PutUint16(buf[elementSize*i:], h.Bits())
	}
	_, err = w.Write(buf)
	return overflows, err
}

func writeUint32(w io.Writer, v uint32) error {
	var arr [4]byte
	binary.LittleEndian.PutUint32(arr[:], v)
	_, err := w.Write(arr[:])
	return err
}
