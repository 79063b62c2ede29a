// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package export partitions a model's parameter set into logical groups
// (embeddings, one group per transformer layer, pooler) and writes one
// EMB1 container per non-empty group, plus the human-readable JSON side
// files consumed by the on-device runtime.
//
// The codec owns the byte layout of a single container; this package owns
// file placement within the export directory. An export set is created
// once per run and is immutable afterward.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clawdbot/emb1"
)

// Param is one model parameter: a named, shaped, row-major array of
// float32 working values. A model's parameter set is an ordered slice of
// Param, in declaration order.
type Param struct {
	Name   string
	Shape  []int
	Values []float32
}

// Options controls an export run.
type Options struct {
	// OutputDir is the directory receiving the export set.
	// It is created if it does not exist.
	OutputDir string

	// Workers limits how many containers are encoded and written
	// concurrently. Zero or negative means one group at a time.
	Workers int

	// Logger receives per-container entries and fidelity warnings.
	// If nil, the logrus standard logger is used.
	Logger logrus.FieldLogger

	// TestVectors, when non-empty, are written to test_vectors.json for
	// runtime self-validation after loading.
	TestVectors []TestVector

	// OnGroup, when non-nil, is called once per written container.
	// Calls are serialized but their order follows completion, not
	// group order.
	OnGroup func(GroupResult)
}

// GroupResult describes one written container file.
type GroupResult struct {
	// File is the container file name within the output directory.
	File string
	// Tensors is the number of tensors in the container.
	Tensors int
	// Bytes is the total size of the container file.
	Bytes int64
	// Overflows lists half-precision saturation warnings, per tensor.
	Overflows []emb1.Overflow
}

// Result summarizes a whole export run.
type Result struct {
	// Groups holds one entry per written container, in group order
	// (embeddings, layers ascending, pooler).
	Groups []GroupResult
	// TotalBytes is the combined size of all container files.
	TotalBytes int64
	// Unmatched lists parameter names that belong to no export group.
	Unmatched []string
}

// Run exports the given parameter set and side-channel JSON to
// opts.OutputDir. Parameters are partitioned by name prefix; within each
// group the original declaration order is preserved, so downstream
// consumers can assume a fixed layout matching the architecture
// definition. Absent groups are skipped, never written empty.
//
// Containers are produced concurrently (bounded by opts.Workers); the
// first failure cancels the remaining work.
func Run(ctx context.Context, params []Param, sidecar Sidecar, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	if err := sidecar.validate(); err != nil {
		return nil, err
	}
	groups, unmatched, err := partition(params)
	if err != nil {
		return nil, err
	}
	for _, name := range unmatched {
		log.WithField("param", name).Warn("parameter matches no export group, not exported")
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := sidecar.write(opts.OutputDir); err != nil {
		return nil, err
	}
	if len(opts.TestVectors) > 0 {
		if err := writeJSONFile(filepath.Join(opts.OutputDir, TestVectorsFile), opts.TestVectors); err != nil {
			return nil, err
		}
	}

	results := make([]GroupResult, len(groups))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	} else {
		g.SetLimit(1)
	}
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := writeGroup(opts.OutputDir, grp)
			if err != nil {
				return err
			}
			results[i] = res

			logGroup(log, res)
			if opts.OnGroup != nil {
				mu.Lock()
				opts.OnGroup(res)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Groups: results, Unmatched: unmatched}
	for _, res := range results {
		result.TotalBytes += res.Bytes
	}
	return result, nil
}

func writeGroup(dir string, grp group) (GroupResult, error) {
	data, stats, err := emb1.EncodeBytes(grp.tensors)
	if err != nil {
		return GroupResult{}, fmt.Errorf("failed to encode %s: %w", grp.file, err)
	}
	if err := os.WriteFile(filepath.Join(dir, grp.file), data, 0o644); err != nil {
		return GroupResult{}, fmt.Errorf("failed to write %s: %w", grp.file, err)
	}
	return GroupResult{
		File:      grp.file,
		Tensors:   stats.Tensors,
		Bytes:     int64(len(data)),
		Overflows: stats.Overflows,
	}, nil
}

func logGroup(log logrus.FieldLogger, res GroupResult) {
	log.WithFields(logrus.Fields{
		"file":    res.File,
		"tensors": res.Tensors,
		"size":    humanize.Bytes(uint64(res.Bytes)),
	}).Info("wrote container")

	for _, ov := range res.Overflows {
		log.WithFields(logrus.Fields{
			"file":   res.File,
			"tensor": ov.Tensor,
			"values": ov.Count,
		}).Warn("values beyond half-precision range saturated to infinity")
	}
}
