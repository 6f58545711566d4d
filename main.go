// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21
//
// sledctl - Skeleton Sled Controller
//
// A CLI tool for calibrating, monitoring, and balancing the skeleton
// sled over its framed serial protocol.

package main

import (
	"os"

	"github.com/Prescayc21/SkeletonSledController/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
