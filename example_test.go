// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emb1_test

import (
	"fmt"
	"log"

	"github.com/clawdbot/emb1"
)

func Example() {
	weight, err := emb1.NewTensor("weight", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		log.Fatal(err)
	}
	bias, err := emb1.NewTensor("bias", []int{3}, []float32{0.5, -0.5, 0})
	if err != nil {
		log.Fatal(err)
	}

	data, stats, err := emb1.EncodeBytes([]emb1.Tensor{weight, bias})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("container size = %d bytes\n", len(data))
	fmt.Printf("data region = %d bytes\n", stats.DataBytes)

	tensors, err := emb1.Decode(data)
	if err != nil {
		log.Fatal(err)
	}
	for _, t := range tensors {
		fmt.Printf("%s shape=%v values=%v\n", t.Name(), t.Shape(), t.Values())
	}

	// Output:
	// container size = 72 bytes
	// data region = 18 bytes
	// weight shape=[2 3] values=[1 2 3 4 5 6]
	// bias shape=[3] values=[0.5 -0.5 0]
}
