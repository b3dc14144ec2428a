// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package knowledge

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/jeranaias/mmchat/internal/api"
	"github.com/jeranaias/mmchat/internal/backendtest"
	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Store, *backendtest.Backend, storage.Cache) {
	t.Helper()
	b := backendtest.New()
	client := api.New(api.Options{BaseURL: b.Start(t), Logger: logging.Discard()})
	cache := storage.NewMemoryCache()
	return NewStore(cache, client, logging.Discard()), b, cache
}

func TestRefresh_FetchesDocuments(t *testing.T) {
	ctx := context.Background()
	s, b, _ := setup(t)
	d1 := b.AddDocument("a.md", 1)
	d2 := b.AddDocument("b.md", 2)
	b.AddKnowledgeBase("alpha", d1.ID, d2.ID)
	b.AddKnowledgeBase("beta", d2.ID)
	b.AddKnowledgeBase("empty")

	require.True(t, s.Refresh(ctx))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Len(t, list[0].Documents, 2)
	assert.Equal(t, 1, list[1].DocumentCount)
	assert.Empty(t, list[2].Documents)
	assert.False(t, s.RefreshedAt().IsZero())
	assert.Equal(t, 1, b.Count("GET /api/knowledge-bases/"+list[0].ID+"/documents"))
}

func TestRefresh_FailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	s, b, _ := setup(t)
	kb := b.AddKnowledgeBase("alpha")
	require.True(t, s.Refresh(ctx))
	require.NoError(t, s.Select(ctx, kb.ID))

	b.AddKnowledgeBase("beta")
	b.Fail("GET /api/knowledge-bases/", http.StatusInternalServerError)
	assert.False(t, s.Refresh(ctx))

	assert.Len(t, s.List(), 1)
	require.NotNil(t, s.Selected())
	assert.Equal(t, kb.ID, s.Selected().ID)
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	s, b, _ := setup(t)
	kb := b.AddKnowledgeBase("alpha")
	require.True(t, s.Refresh(ctx))

	assert.Nil(t, s.Selected())
	err := s.Select(ctx, "nope")
	assert.True(t, errors.Is(err, ErrUnknownBase))

	require.NoError(t, s.Select(ctx, kb.ID))
	assert.Equal(t, "alpha", s.Selected().Name)

	require.NoError(t, s.Select(ctx, ""))
	assert.Nil(t, s.Selected())
}

func TestRefresh_DropsVanishedSelection(t *testing.T) {
	ctx := context.Background()
	s, b, _ := setup(t)
	kb := b.AddKnowledgeBase("alpha")
	require.True(t, s.Refresh(ctx))
	require.NoError(t, s.Select(ctx, kb.ID))

	client := api.New(api.Options{BaseURL: b.Start(t)})
	require.NoError(t, client.DeleteKnowledgeBase(ctx, kb.ID))

	require.True(t, s.Refresh(ctx))
	assert.Nil(t, s.Selected())
	assert.Empty(t, s.List())
}

func TestLoad_RoundTripThroughBolt(t *testing.T) {
	ctx := context.Background()
	b := backendtest.New()
	client := api.New(api.Options{BaseURL: b.Start(t)})
	d := b.AddDocument("a.md", 1)
	kb := b.AddKnowledgeBase("alpha", d.ID)

	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := storage.Open(storage.BackendBolt, path)
	require.NoError(t, err)

	s := NewStore(cache, client, logging.Discard())
	require.True(t, s.Refresh(ctx))
	require.NoError(t, s.Select(ctx, kb.ID))
	require.NoError(t, cache.Close())

	cache, err = storage.Open(storage.BackendBolt, path)
	require.NoError(t, err)
	defer cache.Close()

	reloaded := NewStore(cache, client, logging.Discard())
	require.NoError(t, reloaded.Load(ctx))
	require.Len(t, reloaded.List(), 1)
	assert.Equal(t, kb.ID, reloaded.Selected().ID)
	assert.Equal(t, "a.md", reloaded.List()[0].Documents[0].Filename)
}

func TestLoad_MissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	s, _, cache := setup(t)
	require.NoError(t, s.Load(ctx))
	assert.Empty(t, s.List())

	require.NoError(t, cache.Put(ctx, CacheKey, []byte("{broken")))
	require.NoError(t, s.Load(ctx))
	assert.Empty(t, s.List())
}

func TestList_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s, b, _ := setup(t)
	b.AddKnowledgeBase("alpha", b.AddDocument("a.md", 1).ID)
	require.True(t, s.Refresh(ctx))

	list := s.List()
	list[0].Name = "mutated"
	list[0].Documents[0].Filename = "mutated"
	assert.Equal(t, "alpha", s.List()[0].Name)
	assert.Equal(t, "a.md", s.List()[0].Documents[0].Filename)
}
