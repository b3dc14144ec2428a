// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package knowledge caches the user's RAG knowledge bases and tracks which
// one new chat messages should query.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/jeranaias/mmchat/internal/storage"
	"golang.org/x/sync/errgroup"
)

// CacheKey is the cache entry holding knowledge-base metadata.
const CacheKey = "knowledge_bases"

// fetchConcurrency caps parallel document listings during Refresh.
const fetchConcurrency = 4

// ErrUnknownBase is returned by Select for an id not in the list.
var ErrUnknownBase = errors.New("unknown knowledge base")

// Source lists knowledge bases and their documents.
type Source interface {
	ListKnowledgeBases(ctx context.Context) ([]*model.KnowledgeBase, error)
	KnowledgeBaseDocuments(ctx context.Context, id string) ([]*model.RAGDocument, error)
}

type persisted struct {
	KnowledgeBases []*model.KnowledgeBase `json:"knowledgeBases"`
	SelectedID     *string                `json:"selectedId"`
	RefreshedAt    time.Time              `json:"refreshedAt"`
}

// Store holds the cached knowledge-base list.
type Store struct {
	cache  storage.Cache
	source Source
	logger *slog.Logger

	mu          sync.RWMutex
	bases       []*model.KnowledgeBase
	selected    string
	refreshedAt time.Time
}

// NewStore creates an empty Store. Call Load to read the cache.
func NewStore(cache storage.Cache, source Source, logger *slog.Logger) *Store {
	return &Store{
		cache:  cache,
		source: source,
		logger: logging.OrDefault(logger),
	}
}

// Load reads the cached list. A missing or unreadable entry leaves the
// store empty.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.cache.Get(ctx, CacheKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read knowledge bases: %w", err)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("KNOWLEDGE_CACHE_CORRUPT", "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases = p.KnowledgeBases
	s.refreshedAt = p.RefreshedAt
	s.selected = ""
	if p.SelectedID != nil && s.findLocked(*p.SelectedID) != nil {
		s.selected = *p.SelectedID
	}
	return nil
}

// Refresh lists knowledge bases and their documents from the source and
// reports whether it succeeded. On failure the cached list is kept.
func (s *Store) Refresh(ctx context.Context) bool {
	log := logging.FromContext(ctx, s.logger)

	bases, err := s.fetch(ctx)
	if err != nil {
		log.Warn("KNOWLEDGE_REFRESH_FAILED", "error", err)
		return false
	}

	s.mu.Lock()
	s.bases = bases
	s.refreshedAt = model.Now()
	if s.findLocked(s.selected) == nil {
		s.selected = ""
	}
	err = s.persistLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		log.Error("KNOWLEDGE_PERSIST_FAILED", "error", err)
		return false
	}
	log.Info("KNOWLEDGE_REFRESHED", "bases", len(bases))
	return true
}

func (s *Store) fetch(ctx context.Context) ([]*model.KnowledgeBase, error) {
	bases, err := s.source.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, kb := range bases {
		g.Go(func() error {
			docs, err := s.source.KnowledgeBaseDocuments(gctx, kb.ID)
			if err != nil {
				return fmt.Errorf("failed to list documents of %s: %w", kb.Name, err)
			}
			kb.Documents = docs
			kb.DocumentCount = len(docs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bases, nil
}

// Select makes id the knowledge base used for RAG queries. An empty id
// clears the selection.
func (s *Store) Select(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.findLocked(id) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownBase, id)
	}
	if s.selected == id {
		return nil
	}
	s.selected = id
	return s.persistLocked(ctx)
}

// Selected returns a copy of the selected knowledge base, or nil.
func (s *Store) Selected() *model.KnowledgeBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBase(s.findLocked(s.selected))
}

// List returns copies of all cached knowledge bases.
func (s *Store) List() []*model.KnowledgeBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.KnowledgeBase, len(s.bases))
	for i, kb := range s.bases {
		out[i] = cloneBase(kb)
	}
	return out
}

// RefreshedAt returns when the list was last fetched.
func (s *Store) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

func (s *Store) findLocked(id string) *model.KnowledgeBase {
	if id == "" {
		return nil
	}
	for _, kb := range s.bases {
		if kb.ID == id {
			return kb
		}
	}
	return nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	p := persisted{KnowledgeBases: s.bases, RefreshedAt: s.refreshedAt}
	if p.KnowledgeBases == nil {
		p.KnowledgeBases = []*model.KnowledgeBase{}
	}
	if s.selected != "" {
		id := s.selected
		p.SelectedID = &id
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.cache.Put(ctx, CacheKey, data); err != nil {
		return fmt.Errorf("failed to persist knowledge bases: %w", err)
	}
	return nil
}

func cloneBase(kb *model.KnowledgeBase) *model.KnowledgeBase {
	if kb == nil {
		return nil
	}
	cp := *kb
	if kb.Documents != nil {
		cp.Documents = make([]*model.RAGDocument, len(kb.Documents))
		for i, d := range kb.Documents {
			dc := *d
			cp.Documents[i] = &dc
		}
	}
	return &cp
}
