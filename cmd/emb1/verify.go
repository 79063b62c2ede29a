// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clawdbot/emb1/modelset"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify DIR",
		Short: "Validate every container and side file of an export set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			statuses, err := modelset.Verify(dir)
			if err != nil {
				return err
			}

			failed := 0
			for _, st := range statuses {
				if st.Err != nil {
					failed++
					cmd.Printf("FAIL  %-16s %v\n", st.File, st.Err)
					continue
				}
				cmd.Printf("ok    %-16s %d tensors\n", st.File, st.Tensors)
			}

			// Side files are checked by a full load; container errors were
			// already reported individually above.
			if _, err := modelset.Load(dir); err != nil && failed == 0 {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d containers failed verification", failed, len(statuses))
			}
			cmd.Printf("\nexport set %s is valid\n", dir)
			return nil
		},
	}
}
