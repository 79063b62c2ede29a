// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Side-channel file names within an export set.
const (
	ConfigFile      = "config.json"
	VocabFile       = "vocab.json"
	TokenizerFile   = "tokenizer.json"
	TestVectorsFile = "test_vectors.json"
)

// Sidecar carries the human-readable JSON side files of an export set.
// The payloads are opaque to the exporter: they are checked to be valid
// JSON and otherwise written byte-for-byte untouched.
type Sidecar struct {
	// Config holds architecture hyperparameters and the model identifier.
	Config json.RawMessage
	// Vocab maps token strings to integer ids.
	Vocab json.RawMessage
	// Tokenizer holds special-token strings/ids, max sequence length and
	// casing policy.
	Tokenizer json.RawMessage
}

// TestVector is one reference input/output triple used by the runtime to
// validate itself after loading an export set.
type TestVector struct {
	Text      string    `json:"text"`
	TokenIDs  []int     `json:"token_ids"`
	Embedding []float32 `json:"embedding"`
}

func (s Sidecar) validate() error {
	for _, f := range []struct {
		name    string
		payload json.RawMessage
	}{
		{ConfigFile, s.Config},
		{VocabFile, s.Vocab},
		{TokenizerFile, s.Tokenizer},
	} {
		if len(f.payload) == 0 {
			return fmt.Errorf("side file %s: payload is missing", f.name)
		}
		if !json.Valid(f.payload) {
			return fmt.Errorf("side file %s: payload is not valid JSON", f.name)
		}
	}
	return nil
}

func (s Sidecar) write(dir string) error {
	for _, f := range []struct {
		name    string
		payload json.RawMessage
	}{
		{ConfigFile, s.Config},
		{VocabFile, s.Vocab},
		{TokenizerFile, s.Tokenizer},
	} {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.payload, 0o644); err != nil {
			return fmt.Errorf("failed to write side file %s: %w", f.name, err)
		}
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to JSON-marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
