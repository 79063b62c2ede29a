// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/clawdbot/emb1"
)

// Container file names within an export set.
const (
	EmbeddingsFile = "embeddings.bin"
	PoolerFile     = "pooler.bin"
)

const (
	embeddingsPrefix = "embeddings."
	layerPrefix      = "encoder.layer."
	poolerPrefix     = "pooler."
)

// LayerFile returns the container file name for one transformer layer
// (zero-padded 2-digit index).
func LayerFile(index int) string {
	return fmt.Sprintf("layer_%02d.bin", index)
}

// group is one container to be written: a file name and its tensors in
// declaration order.
type group struct {
	file    string
	tensors []emb1.Tensor
}

// partition splits parameters into export groups by name prefix. The group
// prefix is stripped from tensor names, so the on-device runtime addresses
// "attention.self.query.weight" rather than the full checkpoint path.
// Parameters matching no group are returned in unmatched. A stable
// partition: within each group, the caller-supplied parameter order is
// kept untouched.
func partition(params []Param) (groups []group, unmatched []string, err error) {
	var embeddings, pooler []emb1.Tensor
	layers := make(map[int][]emb1.Tensor)

	for _, p := range params {
		switch {
		case strings.HasPrefix(p.Name, embeddingsPrefix):
			tensor, err := newGroupTensor(p, embeddingsPrefix)
			if err != nil {
				return nil, nil, err
			}
			embeddings = append(embeddings, tensor)

		case strings.HasPrefix(p.Name, poolerPrefix):
			tensor, err := newGroupTensor(p, poolerPrefix)
			if err != nil {
				return nil, nil, err
			}
			pooler = append(pooler, tensor)

		default:
			index, prefix, ok := layerIndex(p.Name)
			if !ok {
				unmatched = append(unmatched, p.Name)
				continue
			}
			tensor, err := newGroupTensor(p, prefix)
			if err != nil {
				return nil, nil, err
			}
			layers[index] = append(layers[index], tensor)
		}
	}

	if len(embeddings) > 0 {
		groups = append(groups, group{file: EmbeddingsFile, tensors: embeddings})
	}
	indexes := make([]int, 0, len(layers))
	for index := range layers {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for _, index := range indexes {
		groups = append(groups, group{file: LayerFile(index), tensors: layers[index]})
	}
	if len(pooler) > 0 {
		groups = append(groups, group{file: PoolerFile, tensors: pooler})
	}
	return groups, unmatched, nil
}

func newGroupTensor(p Param, prefix string) (emb1.Tensor, error) {
	tensor, err := emb1.NewTensor(strings.TrimPrefix(p.Name, prefix), p.Shape, p.Values)
	if err != nil {
		return emb1.Tensor{}, fmt.Errorf("parameter %q: %w", p.Name, err)
	}
	return tensor, nil
}

// layerIndex extracts the layer number from a name of the form
// "encoder.layer.{i}.rest", returning the full prefix to strip.
func layerIndex(name string) (index int, prefix string, ok bool) {
	rest, found := strings.CutPrefix(name, layerPrefix)
	if !found {
		return 0, "", false
	}
	digits, _, found := strings.Cut(rest, ".")
	if !found {
		return 0, "", false
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 0 {
		return 0, "", false
	}
	return index, layerPrefix + digits + ".", true
}
