// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package modelset loads and validates a whole model export set: the
// directory of EMB1 containers plus side-channel JSON produced by one
// export run.
//
// Containers are independent failure domains: a corrupt layer file does
// not invalidate the others. Load reports the first problem it meets,
// naming the offending file; Verify instead checks every container and
// collects per-file results, which suits diagnostic tooling.
package modelset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/clawdbot/emb1"
	"github.com/clawdbot/emb1/export"
)

// Group is one decoded container of the set.
type Group struct {
	// File is the container file name within the set directory.
	File string
	// Tensors holds the decoded tensors in container order.
	Tensors []emb1.Tensor
}

// Set is a fully loaded model export set.
type Set struct {
	// Dir is the directory the set was loaded from.
	Dir string
	// Config, Vocab and Tokenizer are the opaque JSON side files.
	Config    json.RawMessage
	Vocab     json.RawMessage
	Tokenizer json.RawMessage
	// Groups holds the decoded containers: embeddings first, then layers
	// in ascending order, then the pooler if present.
	Groups []Group
	// TestVectors holds the runtime self-validation triples, if present.
	TestVectors []export.TestVector
}

// NumLayers returns the number of per-layer containers in the set.
func (s *Set) NumLayers() int {
	n := 0
	for _, g := range s.Groups {
		if strings.HasPrefix(g.File, "layer_") {
			n++
		}
	}
	return n
}

// Group returns the decoded container with the given file name.
// The returned boolean flag reports whether it is part of the set.
func (s *Set) Group(file string) (Group, bool) {
	for _, g := range s.Groups {
		if g.File == file {
			return g, true
		}
	}
	return Group{}, false
}

// Load reads a whole export set from dir.
//
// Required: config.json, vocab.json, tokenizer.json and embeddings.bin.
// Layer containers must be contiguous from layer_00.bin. pooler.bin and
// test_vectors.json are optional. Every container is fully decoded and
// validated; the first failure is returned with the offending file name
// and the structural check that failed.
func Load(dir string) (*Set, error) {
	set := &Set{Dir: dir}

	var err error
	if set.Config, err = readSideFile(dir, export.ConfigFile); err != nil {
		return nil, err
	}
	if set.Vocab, err = readSideFile(dir, export.VocabFile); err != nil {
		return nil, err
	}
	if set.Tokenizer, err = readSideFile(dir, export.TokenizerFile); err != nil {
		return nil, err
	}

	files, err := containerFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		tensors, err := emb1.DecodeFile(filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}
		set.Groups = append(set.Groups, Group{File: file, Tensors: tensors})
	}

	if err = loadTestVectors(dir, set); err != nil {
		return nil, err
	}
	return set, nil
}

// FileStatus is the outcome of verifying one container file.
type FileStatus struct {
	File    string
	Tensors int
	Err     error
}

// Verify decodes every container of the export set independently,
// returning one status per file. Unlike Load, a corrupt container does not
// stop the check of the remaining files. An error is returned only when
// the set's file layout itself is broken (unreadable directory, missing
// required containers, a gap in the layer sequence).
func Verify(dir string) ([]FileStatus, error) {
	files, err := containerFiles(dir)
	if err != nil {
		return nil, err
	}
	statuses := make([]FileStatus, len(files))
	for i, file := range files {
		tensors, err := emb1.DecodeFile(filepath.Join(dir, file))
		statuses[i] = FileStatus{File: file, Tensors: len(tensors), Err: err}
	}
	return statuses, nil
}

// containerFiles lists the set's container files in canonical order,
// enforcing the layout rules: embeddings.bin present, layer files
// contiguous from 00, pooler optional.
func containerFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read export set directory: %w", err)
	}

	var hasEmbeddings, hasPooler bool
	layerIndexes := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case name == export.EmbeddingsFile:
			hasEmbeddings = true
		case name == export.PoolerFile:
			hasPooler = true
		case strings.HasPrefix(name, "layer_") && strings.HasSuffix(name, ".bin"):
			digits := strings.TrimSuffix(strings.TrimPrefix(name, "layer_"), ".bin")
			index, err := strconv.Atoi(digits)
			if err != nil || index < 0 {
				return nil, fmt.Errorf("unexpected layer container name %q", name)
			}
			layerIndexes[index] = name
		}
	}
	if !hasEmbeddings {
		return nil, fmt.Errorf("missing required container %s", export.EmbeddingsFile)
	}

	indexes := make([]int, 0, len(layerIndexes))
	for index := range layerIndexes {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for i, index := range indexes {
		if index != i {
			return nil, fmt.Errorf("layer containers are not contiguous: missing %s", export.LayerFile(i))
		}
	}

	files := []string{export.EmbeddingsFile}
	for _, index := range indexes {
		files = append(files, layerIndexes[index])
	}
	if hasPooler {
		files = append(files, export.PoolerFile)
	}
	return files, nil
}

func readSideFile(dir, name string) (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("side file %s: %w", name, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("side file %s: not valid JSON", name)
	}
	return data, nil
}

func loadTestVectors(dir string, set *Set) error {
	data, err := os.ReadFile(filepath.Join(dir, export.TestVectorsFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("side file %s: %w", export.TestVectorsFile, err)
	}
	if err := json.Unmarshal(data, &set.TestVectors); err != nil {
		return fmt.Errorf("side file %s: %w", export.TestVectorsFile, err)
	}
	return nil
}
