// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/clawdbot/emb1"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the tensors of one EMB1 container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tensors, err := emb1.DecodeFile(args[0])
			if err != nil {
				return err
			}

			var total int64
			cmd.Printf("%-48s %-20s %10s\n", "NAME", "SHAPE", "SIZE")
			for _, t := range tensors {
				cmd.Printf("%-48s %-20s %10s\n",
					t.Name(), formatShape(t.Shape()), humanize.Bytes(uint64(t.DataLen())))
				total += int64(t.DataLen())
			}
			cmd.Printf("\n%d tensors, %s of half-precision data\n",
				len(tensors), humanize.Bytes(uint64(total)))
			return nil
		},
	}
}

func formatShape(shape []int) string {
	if len(shape) == 0 {
		return "scalar"
	}
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(dims, ", ") + "]"
}
