// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local key/value cache behind mmchat's
// persisted state.
//
// Each key holds one JSON document that is replaced as a whole, so every
// backend only needs atomic single-key writes.
//
// # Backends
//
//   - FileCache: one file per key, replaced with an atomic rename
//   - BoltCache: a single bbolt database, one bucket
//   - SQLiteCache: a single SQLite table
//   - MemoryCache: in-process, for tests and --ephemeral runs
//
// # Usage
//
//	cache, err := storage.Open("bolt", "/home/me/.mmchat/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
//
//	data, err := cache.Get(ctx, "chat_conversations")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // first run
//	}
package storage
