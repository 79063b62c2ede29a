// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emb1 implements the EMB1 tensor container format.
//
// An EMB1 container is a compact, self-describing binary file holding an
// ordered collection of named, shaped tensors stored as IEEE-754 binary16
// (half-precision) values. The layout, all integers unsigned 32-bit
// little-endian, is:
//
//	magic         u32  (Magic constant)
//	tensor_count  u32
//	repeated tensor_count times:
//	  name_len    u32
//	  name        name_len bytes, UTF-8
//	  rank        u32
//	  dims        rank * u32
//	  data_len    u32  (bytes, = 2 * product(dims))
//	then: concatenated data regions in descriptor order,
//	      each data_len bytes of half-precision values
//
// Fields are byte-packed with no padding or alignment, favoring compactness
// over mapped-struct access. The format is intended for embedded inference
// runtimes that memory-map model weights and read them without a general
// tensor library.
//
// Encoding converts working float32 values to half precision, rounding to
// the nearest representable value; magnitudes beyond the half-precision
// range saturate to infinity and are reported as overflow warnings in
// Stats. Decoding widens half-precision values back to float32, which is
// exact. Names, shapes and order round-trip exactly.
//
// Encode and Decode are pure buffer-in/buffer-out operations with no shared
// state: multiple containers may be produced or consumed concurrently
// without coordination.
package emb1

// Magic is the fixed constant identifying an EMB1 container. It is written
// little-endian, so the first four bytes of a container are "1BME".
const Magic uint32 = 0x454D4231

// elementSize is the on-disk size in bytes of one tensor element
// (IEEE-754 binary16).
const elementSize = 2

// headerSize is the size in bytes of the fixed container header
// (magic + tensor count).
const headerSize = 8
