// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the mmchat command line.
//
// Commands:
//
//	mmchat chat [message]        One-shot message, or an interactive REPL
//	mmchat voice send|say ...    Speech input and synthesis
//	mmchat sync                  Reconcile conversations with the backend
//	mmchat conversations ...     List, show, export and delete local conversations
//	mmchat sessions ...          List, archive and restore remote sessions
//	mmchat kb ...                List, refresh and select knowledge bases
//	mmchat upload <file>         Upload a file, optionally indexing it
//	mmchat login | logout        Manage the bearer token
//	mmchat whoami                Show the logged-in account
//	mmchat config ...            Show, initialise, get and set configuration
//	mmchat version               Print version information
//
// Exit codes follow the Exit* constants in errors.go.
package cli
