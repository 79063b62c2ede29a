// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command emb1 exports trained model weights to the EMB1 on-device
// container format and inspects or verifies existing export sets.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var logLevel string
	root := &cobra.Command{
		Use:          "emb1",
		Short:        "EMB1 on-device model container tool",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newExportCmd(log),
		newInspectCmd(),
		newVerifyCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
