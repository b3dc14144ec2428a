// mmchat - terminal client for the multimodal chat backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/mmchat/internal/cli"
)

// Build with:
//
//	go build -ldflags "-X github.com/jeranaias/mmchat/internal/cli.Version=1.0.0"
func main() {
	os.Exit(cli.Execute())
}
