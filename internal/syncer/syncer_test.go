// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/jeranaias/mmchat/internal/conversation"
	"github.com/jeranaias/mmchat/internal/logging"
	"github.com/jeranaias/mmchat/internal/model"
	"github.com/jeranaias/mmchat/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote serves fixed sessions and messages.
type fakeRemote struct {
	sessions []*model.RemoteSession
	messages map[string][]model.RemoteMessage
	err      error
}

func (f *fakeRemote) ListSessions(context.Context) ([]*model.RemoteSession, error) {
	return f.sessions, f.err
}

func (f *fakeRemote) ListMessages(_ context.Context, id string) ([]model.RemoteMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.messages[id], nil
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func session(id, title string, hoursAgo, count int) *model.RemoteSession {
	ts := base.Add(-time.Duration(hoursAgo) * time.Hour)
	return &model.RemoteSession{ID: id, Title: title, CreatedAt: ts, UpdatedAt: ts, MessageCount: count}
}

func conv(id, sessionID, title string, hoursAgo, count int) *model.Conversation {
	ts := base.Add(-time.Duration(hoursAgo) * time.Hour)
	return &model.Conversation{
		ID: id, Title: title, CreatedAt: ts, UpdatedAt: ts,
		MessageCount: count, HistorySessionID: sessionID,
	}
}

// seed builds a store whose state holds convs with current as active.
func seed(t *testing.T, cache storage.Cache, current string, convs ...*model.Conversation) *conversation.Store {
	t.Helper()
	store := conversation.NewStore(cache, logging.Discard())
	t.Cleanup(func() { store.Close() })

	err := store.Apply(context.Background(), func(st *conversation.State) (bool, error) {
		for _, c := range convs {
			st.Append(c)
		}
		st.SetCurrent(current)
		return true, nil
	})
	require.NoError(t, err)
	return store
}

func linkedSessions(st *conversation.State) []string {
	var out []string
	for _, c := range st.Conversations {
		if c.HistorySessionID != "" {
			out = append(out, c.HistorySessionID)
		}
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// DIFF
// =============================================================================

func TestDiff_Scenario(t *testing.T) {
	local := []*model.Conversation{
		conv("A", "s1", "Alpha", 5, 2),
		conv("B", "s2", "Beta", 4, 2),
		conv("C", "", "Scratch", 3, 1),
	}
	remote := []*model.RemoteSession{
		session("s1", "Alpha", 5, 2),
		session("s3", "Gamma", 1, 6),
	}

	plan := Diff(local, remote, MirrorRemote)

	require.Len(t, plan.Adds, 1)
	assert.Equal(t, "s3", plan.Adds[0].ID)
	assert.Empty(t, plan.Updates)
	assert.ElementsMatch(t, []Removal{{ConversationID: "C", Unsynced: true}, {ConversationID: "B"}}, plan.Removals)

	merge := Diff(local, remote, MergeKeepLocal)
	assert.Equal(t, []Removal{{ConversationID: "B"}}, merge.Removals)
}

func TestDiff_UpdateOnlyWhenFieldsDiffer(t *testing.T) {
	local := []*model.Conversation{
		conv("A", "s1", "Alpha", 5, 2),
		conv("B", "s2", "Beta", 4, 2),
		conv("C", "s3", "Gamma", 3, 2),
		conv("D", "s4", "Delta", 2, 2),
	}
	remote := []*model.RemoteSession{
		session("s1", "Alpha", 5, 2),        // identical
		session("s2", "Beta renamed", 4, 2), // title
		session("s3", "Gamma", 1, 2),        // updatedAt
		session("s4", "Delta", 2, 3),        // messageCount
	}

	plan := Diff(local, remote, MirrorRemote)

	var ids []string
	for _, u := range plan.Updates {
		ids = append(ids, u.ConversationID)
	}
	assert.Equal(t, []string{"B", "C", "D"}, ids)
	assert.Empty(t, plan.Adds)
	assert.Empty(t, plan.Removals)
}

func TestDiff_EqualInstantDifferentZone(t *testing.T) {
	s := session("s1", "Alpha", 5, 2)
	s.UpdatedAt = s.UpdatedAt.In(time.FixedZone("CST", 8*3600))

	plan := Diff([]*model.Conversation{conv("A", "s1", "Alpha", 5, 2)}, []*model.RemoteSession{s}, MirrorRemote)
	assert.True(t, plan.Empty())
}

func TestDiff_DuplicateLinksAndSessions(t *testing.T) {
	local := []*model.Conversation{
		conv("A", "s1", "Alpha", 5, 2),
		conv("A2", "s1", "Alpha copy", 5, 2),
	}
	remote := []*model.RemoteSession{
		session("s1", "Alpha", 5, 2),
		session("s1", "Alpha again", 1, 9),
	}

	plan := Diff(local, remote, MirrorRemote)
	assert.Empty(t, plan.Adds)
	assert.Empty(t, plan.Updates)
	assert.Equal(t, []Removal{{ConversationID: "A2"}}, plan.Removals)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("MERGE")
	require.NoError(t, err)
	assert.Equal(t, MergeKeepLocal, p)
	assert.Equal(t, "merge", p.String())

	_, err = ParsePolicy("nuke")
	assert.Error(t, err)
}

// =============================================================================
// RECONCILER
// =============================================================================

func TestReconciler_ScenarioMirror(t *testing.T) {
	ctx := context.Background()
	store := seed(t, storage.NewMemoryCache(), "B",
		conv("A", "s1", "Alpha", 5, 2),
		conv("B", "s2", "Beta", 4, 2),
		conv("C", "", "Scratch", 3, 1),
	)
	remote := &fakeRemote{sessions: []*model.RemoteSession{
		session("s1", "Alpha", 5, 2),
		session("s3", "Gamma", 1, 6),
	}}

	r := New(store, remote, Options{Policy: MirrorRemote, Logger: logging.Discard()})
	require.True(t, r.Sync(ctx))

	st, err := store.Snapshot(ctx)
	require.NoError(t, err)

	require.Len(t, st.Conversations, 2)
	assert.Equal(t, []string{"s1", "s3"}, linkedSessions(st))

	// Sorted newest first: D (s3, 1h ago) then A.
	d := st.Conversations[0]
	assert.Equal(t, "s3", d.HistorySessionID)
	assert.Equal(t, "Gamma", d.Title)
	assert.Equal(t, 6, d.MessageCount)
	assert.Equal(t, "A", st.Conversations[1].ID)
	assert.NotNil(t, st.Data[d.ID], "new conversation gets a bucket")

	// B was active and removed: the first remaining entry takes over.
	assert.Equal(t, d.ID, st.CurrentID)
	assert.True(t, d.IsActive)
	assert.False(t, st.Conversations[1].IsActive)
	assert.NotContains(t, st.Data, "B")
	assert.NotContains(t, st.Data, "C")
}

func TestReconciler_MergeKeepsLocalOnly(t *testing.T) {
	ctx := context.Background()
	store := seed(t, storage.NewMemoryCache(), "C",
		conv("A", "s1", "Alpha", 5, 2),
		conv("B", "s2", "Beta", 4, 2),
		conv("C", "", "Scratch", 3, 1),
	)
	remote := &fakeRemote{sessions: []*model.RemoteSession{session("s1", "Alpha", 5, 2)}}

	r := New(store, remote, Options{Policy: MergeKeepLocal, Logger: logging.Discard()})
	plan, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, plan.Removals, 1)

	st, err := store.Snapshot(ctx)
	require.NoError(t, err)
	var ids []string
	for _, c := range st.Conversations {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"C", "A"}, ids)
	assert.Equal(t, "C", st.CurrentID)
}

func TestReconciler_MirrorProperty(t *testing.T) {
	ctx := context.Background()
	store := seed(t, storage.NewMemoryCache(), "",
		conv("L1", "", "local", 1, 0),
		conv("L2", "", "local", 2, 0),
		conv("X", "gone", "old", 3, 1),
		conv("Y", "r2", "kept", 4, 1),
	)
	remote := &fakeRemote{sessions: []*model.RemoteSession{
		session("r1", "one", 1, 1),
		session("r2", "kept", 4, 1),
		session("r3", "three", 9, 1),
	}}

	require.True(t, New(store, remote, Options{Logger: logging.Discard()}).Sync(ctx))

	st, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, linkedSessions(st))
	for _, c := range st.Conversations {
		assert.True(t, c.IsSynced(), "local-only %s survived", c.ID)
	}
	assert.Equal(t, "", st.CurrentID)
}

func TestReconciler_NoopKeepsIdentityAndSkipsWrite(t *testing.T) {
	ctx := context.Background()
	cache := storage.NewMemoryCache()
	original := conv("A", "s1", "Alpha", 5, 2)
	store := seed(t, cache, "A", original)
	writes := cache.Writes()

	// Grab the live pointer through Apply.
	var before *model.Conversation
	require.NoError(t, store.View(ctx, func(st *conversation.State) error {
		before = st.Conversations[0]
		return nil
	}))

	remote := &fakeRemote{sessions: []*model.RemoteSession{session("s1", "Alpha", 5, 2)}}
	plan, err := New(store, remote, Options{Logger: logging.Discard()}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Equal(t, writes, cache.Writes(), "no-op sync must not write the cache")

	require.NoError(t, store.View(ctx, func(st *conversation.State) error {
		assert.Same(t, before, st.Conversations[0])
		assert.Equal(t, base.Add(-5*time.Hour), st.Conversations[0].UpdatedAt)
		return nil
	}))
}

func TestReconciler_UpdateWritesOnce(t *testing.T) {
	ctx := context.Background()
	cache := storage.NewMemoryCache()
	store := seed(t, cache, "A", conv("A", "s1", "Alpha", 5, 2), conv("B", "", "tmp", 1, 0))
	writes := cache.Writes()

	remote := &fakeRemote{sessions: []*model.RemoteSession{session("s1", "Alpha v2", 0, 4)}}
	require.True(t, New(store, remote, Options{Logger: logging.Discard()}).Sync(ctx))
	assert.Equal(t, writes+1, cache.Writes())

	// The cache reflects the reconciled list.
	reloaded := conversation.NewStore(cache, logging.Discard())
	defer reloaded.Close()
	require.NoError(t, reloaded.Load(ctx))
	list, err := reloaded.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Alpha v2", list[0].Title)
	assert.Equal(t, 4, list[0].MessageCount)
}

func TestReconciler_FetchFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	cache := storage.NewMemoryCache()
	store := seed(t, cache, "C", conv("A", "s1", "Alpha", 5, 2), conv("C", "", "Scratch", 3, 1))
	before, err := store.Snapshot(ctx)
	require.NoError(t, err)
	writes := cache.Writes()

	remote := &fakeRemote{err: errors.New("502 bad gateway")}
	rec := New(store, remote, Options{Logger: logging.Discard()})
	assert.False(t, rec.Sync(ctx))
	_, err = rec.Run(ctx)
	assert.ErrorIs(t, err, ErrFetchFailed)

	after, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, writes, cache.Writes())
}

// brokenCache fails every Put once broken is set.
type brokenCache struct {
	*storage.MemoryCache
	broken bool
}

var errDiskFull = errors.New("disk full")

func (c *brokenCache) Put(ctx context.Context, key string, value []byte) error {
	if c.broken {
		return errDiskFull
	}
	return c.MemoryCache.Put(ctx, key, value)
}

func TestReconciler_PersistFailureIsNotFetchFailure(t *testing.T) {
	ctx := context.Background()
	cache := &brokenCache{MemoryCache: storage.NewMemoryCache()}
	store := seed(t, cache, "A", conv("A", "s1", "Alpha", 5, 2))
	cache.broken = true

	remote := &fakeRemote{sessions: []*model.RemoteSession{
		session("s1", "Alpha", 5, 2),
		session("s2", "Beta", 1, 4),
	}}
	_, err := New(store, remote, Options{Logger: logging.Discard()}).Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.NotErrorIs(t, err, ErrFetchFailed)
}

func TestReconciler_LoadHistory(t *testing.T) {
	ctx := context.Background()
	store := seed(t, storage.NewMemoryCache(), "A", conv("A", "s1", "Alpha", 5, 2), conv("C", "", "Scratch", 3, 0))
	remote := &fakeRemote{messages: map[string][]model.RemoteMessage{
		"s1": {
			{ID: "m1", Role: "user", Content: "hello", CreatedAt: base},
			{ID: "m2", Role: "assistant", Content: "hi there", CreatedAt: base.Add(time.Second)},
		},
	}}
	r := New(store, remote, Options{Logger: logging.Discard()})

	n, err := r.LoadHistory(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := store.Get(ctx, "A")
	require.NoError(t, err)
	require.Len(t, data.Messages, 2)
	assert.True(t, data.Messages[0].IsUser)
	assert.Equal(t, "hi there", data.Messages[1].Content)
	assert.Equal(t, 2, data.Conversation.MessageCount)

	_, err = r.LoadHistory(ctx, "C")
	assert.ErrorIs(t, err, ErrNotSynced)
	_, err = r.LoadHistory(ctx, "missing")
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestReconciler_PreviewDoesNotApply(t *testing.T) {
	ctx := context.Background()
	cache := storage.NewMemoryCache()
	store := seed(t, cache, "A", conv("A", "s1", "Alpha", 5, 2))
	writes := cache.Writes()

	remote := &fakeRemote{sessions: []*model.RemoteSession{
		session("s1", "Alpha", 5, 2),
		session("s2", "Beta", 1, 3),
	}}
	r := New(store, remote, Options{Logger: logging.Discard()})

	plan, err := r.Preview(ctx)
	require.NoError(t, err)
	require.Len(t, plan.Adds, 1)
	assert.Equal(t, "s2", plan.Adds[0].ID)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, writes, cache.Writes())
}
