// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream ingests Server-Sent-Event chat replies.
//
// Three layers, each usable on its own:
//
//   - LineBuffer reassembles complete lines from arbitrarily split chunks.
//   - Reader turns "data: " lines into Events, skipping malformed payloads.
//   - Ingestor drives one streaming model.Message from a Reader until a
//     terminal event, end of stream, or cancellation.
//
// # Wire Format
//
// Every event is a single line:
//
//	data: {"type":"content","content":"Hel"}
//	data: {"type":"content","content":"lo"}
//	data: [DONE]
//
// Lines without the data prefix (comments, "event:", "id:") are ignored.
//
// # Usage
//
//	ing := stream.NewIngestor(stream.Options{
//	    Handlers: stream.Handlers{OnContent: func(s string) { fmt.Print(s) }},
//	})
//	res, err := ing.Run(ctx, resp.Body)
//	if res.Message != nil {
//	    // commit res.Message to the conversation
//	}
//
// An Ingestor is single use. Run always closes the body.
package stream
