// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation owns the local conversation list and its cache.
//
// All reads and writes go through a single writer goroutine, so concurrent
// callers (a reply being committed while a sync runs) are applied one after
// another in submission order. A mutation that changes state is persisted
// before the next one starts, which rules out lost updates between the
// in-memory state and the cache.
//
// # Usage
//
//	store := conversation.NewStore(cache, logger)
//	defer store.Close()
//
//	if err := store.Load(ctx); err != nil {
//	    return err
//	}
//	conv, _ := store.Create(ctx, "")
//	_ = store.AddMessage(ctx, conv.ID, model.NewUserMessage("hello", nil))
//
// Custom mutations receive the live State:
//
//	err := store.Apply(ctx, func(s *conversation.State) (bool, error) {
//	    return s.Remove(id), nil
//	})
//
// A Mutation must not call back into the Store.
package conversation
