// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backendtest

import (
	"sort"

	"github.com/jeranaias/mmchat/internal/model"
)

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func sortDocuments(docs []*model.RAGDocument) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
}

func sortKnowledgeBases(kbs []*model.KnowledgeBase) {
	sort.Slice(kbs, func(i, j int) bool { return kbs[i].Name < kbs[j].Name })
}
