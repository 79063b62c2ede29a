// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clawdbot/emb1/export"
	"github.com/clawdbot/emb1/internal/checkpoint"
)

func newExportCmd(log *logrus.Logger) *cobra.Command {
	var (
		checkpointPath  string
		configPath      string
		vocabPath       string
		tokenizerPath   string
		testVectorsPath string
		outputDir       string
		workers         int
	)

	c := &cobra.Command{
		Use:   "export",
		Short: "Export a model checkpoint to an EMB1 container set",
		Long: "Export a safetensors model checkpoint to a directory of EMB1 containers\n" +
			"(embeddings, one per transformer layer, optional pooler) plus the JSON\n" +
			"side files consumed by the on-device runtime.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := checkpoint.LoadSafeTensors(checkpointPath)
			if err != nil {
				return err
			}
			log.WithField("params", len(params)).Info("loaded checkpoint")

			sidecar, err := readSidecar(configPath, vocabPath, tokenizerPath)
			if err != nil {
				return err
			}
			vectors, err := readTestVectors(testVectorsPath)
			if err != nil {
				return err
			}

			bar := progressbar.NewOptions(-1,
				progressbar.OptionSetDescription("writing containers"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSpinnerType(14),
			)
			result, err := export.Run(cmd.Context(), params, sidecar, export.Options{
				OutputDir:   outputDir,
				Workers:     workers,
				Logger:      log,
				TestVectors: vectors,
				OnGroup: func(export.GroupResult) {
					_ = bar.Add(1)
				},
			})
			_ = bar.Finish()
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			log.WithFields(logrus.Fields{
				"containers": len(result.Groups),
				"total":      humanize.Bytes(uint64(result.TotalBytes)),
				"output":     outputDir,
			}).Info("export complete")
			return nil
		},
	}

	c.Flags().StringVar(&checkpointPath, "checkpoint", "", "Path to the safetensors model checkpoint (required)")
	c.Flags().StringVar(&configPath, "config", "", "Path to the model config JSON (required)")
	c.Flags().StringVar(&vocabPath, "vocab", "", "Path to the vocabulary JSON (required)")
	c.Flags().StringVar(&tokenizerPath, "tokenizer", "", "Path to the tokenizer settings JSON (required)")
	c.Flags().StringVar(&testVectorsPath, "test-vectors", "", "Path to reference test vectors JSON (optional)")
	c.Flags().StringVar(&outputDir, "output", "model", "Output directory for the export set")
	c.Flags().IntVar(&workers, "workers", 4, "Number of containers to encode concurrently")
	for _, flag := range []string{"checkpoint", "config", "vocab", "tokenizer"} {
		_ = c.MarkFlagRequired(flag)
	}

	return c
}

func readSidecar(configPath, vocabPath, tokenizerPath string) (export.Sidecar, error) {
	var sidecar export.Sidecar
	for _, f := range []struct {
		path string
		dst  *json.RawMessage
	}{
		{configPath, &sidecar.Config},
		{vocabPath, &sidecar.Vocab},
		{tokenizerPath, &sidecar.Tokenizer},
	} {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return export.Sidecar{}, err
		}
		*f.dst = data
	}
	return sidecar, nil
}

func readTestVectors(path string) ([]export.TestVector, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vectors []export.TestVector
	if err := json.Unmarshal(data, &vectors); err != nil {
		return nil, fmt.Errorf("invalid test vectors file %s: %w", path, err)
	}
	return vectors, nil
}
