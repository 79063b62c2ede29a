// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emb1

import (
	"fmt"
	"math"
)

// A Tensor is a named, shaped, row-major array of float32 working values.
//
// The float32 representation is the in-memory working precision; on disk
// the values are stored as half precision (see Encode). A rank-0 shape
// describes a scalar holding exactly one value.
type Tensor struct {
	name   string
	shape  []int
	values []float32
}

// NewTensor performs validity checks over the given properties and returns
// a Tensor with those properties if validation succeeds, otherwise an error.
//
// Validation rules:
//   - an empty name ("") is allowed
//   - a nil or empty shape is allowed and describes a scalar
//   - the shape must not contain negative values
//   - the number of values must equal the product of the shape dimensions
//     (1 for a scalar)
//
// The shape is copied before being assigned to the Tensor. Since values can
// take a large amount of memory, the slice is NOT copied: accidental
// modifications after construction will affect the Tensor.
func NewTensor(name string, shape []int, values []float32) (Tensor, error) {
	size, err := shapeSize(shape)
	if err != nil {
		return Tensor{}, fmt.Errorf("tensor %q: %w", name, err)
	}
	if size != len(values) {
		return Tensor{}, fmt.Errorf("tensor %q: size computed from shape (%d) does not match number of values (%d)", name, size, len(values))
	}
	return Tensor{
		name:   name,
		shape:  copyShape(shape),
		values: values,
	}, nil
}

// shapeSize returns the number of elements implied by a shape, guarding
// against negative dimensions and int overflow. An empty shape counts as
// one scalar element.
func shapeSize(shape []int) (int, error) {
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

func copyShape(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return s
}

// The Name of the tensor.
func (t Tensor) Name() string {
	return t.name
}

// The Shape of the tensor.
//
// If the shape is zero-length, it returns nil, otherwise a new slice
// is allocated and returned (the shape is copied to prevent tampering).
func (t Tensor) Shape() []int {
	return copyShape(t.shape)
}

// Values returns the tensor's elements, flattened in row-major order.
//
// The value returned is NOT a copy: any change to its content will affect
// the Tensor too.
func (t Tensor) Values() []float32 {
	return t.values
}

// NumElements returns the number of elements of the tensor.
// A scalar has one element.
func (t Tensor) NumElements() int {
	return len(t.values)
}

// DataLen returns the on-disk byte size of the tensor's data region
// (two bytes per half-precision element).
func (t Tensor) DataLen() int {
	return elementSize * len(t.values)
}
