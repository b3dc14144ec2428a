// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the domain types shared by the stream ingestor, the
// conversation store, the sync reconciler and the backend client.
//
// # Key Types
//
//   - Message: a single chat message, possibly still streaming
//   - Conversation: the client's own record of a chat thread
//   - RemoteSession: the backend's authoritative record of a chat thread
//   - ConversationData: per-conversation bucket of messages and RAG documents
//   - KnowledgeBase, RAGDocument: knowledge-base metadata
//
// # Linking
//
// A Conversation with a non-empty HistorySessionID is "synced": it points at
// exactly one RemoteSession. A Conversation without one is local-only.
//
//	conv := model.NewConversation("New Chat")
//	conv.HistorySessionID = session.ID
//	conv.IsSynced() // true
package model
