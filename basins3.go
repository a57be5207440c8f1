// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/LeeDigitalWorks/basins3/cmd"

func main() {
	cmd.Execute()
}
