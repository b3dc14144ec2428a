// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across mmchat packages.
//
// File Operations:
//   - AtomicWriteFile: crash-safe file replacement with fsync
//
// Display Helpers:
//   - TruncateWidth, PadRight: column-aware formatting for terminal tables
package util
