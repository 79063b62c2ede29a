// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emb1

import "errors"

// Errors reported by the codec. Decode-time errors signal corruption of the
// whole container: decoding aborts and no partial result is returned.
// Match them with errors.Is; returned errors carry additional context.
var (
	// ErrDuplicateName is an encode-time error: two tensors share a name.
	// It is reported before any byte is written.
	ErrDuplicateName = errors.New("duplicate tensor name")

	// ErrBadMagic is a decode-time error: the buffer does not begin with
	// the EMB1 magic constant.
	ErrBadMagic = errors.New("bad magic: not an EMB1 container")

	// ErrTruncatedContainer is a decode-time error: the buffer ends before
	// the header, a descriptor, or the declared data region is complete.
	ErrTruncatedContainer = errors.New("truncated container")

	// ErrTrailingBytes is a decode-time error: the buffer extends past the
	// end of the declared data region.
	ErrTrailingBytes = errors.New("trailing bytes after data region")

	// ErrShapeMismatch is a decode-time error: a descriptor's declared data
	// length disagrees with its shape times the element size.
	ErrShapeMismatch = errors.New("data length disagrees with shape")
)
