package hydrate_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devthoughts/postsearch/internal/hydrate"
	"github.com/devthoughts/postsearch/internal/index"
	"github.com/devthoughts/postsearch/internal/storage"
)

func setup(t *testing.T) (*storage.DB, *hydrate.Hydrator) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "posts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return db, hydrate.New(db, logger)
}

func TestHydrate_LikeStateAndUsername(t *testing.T) {
	db, h := setup(t)

	author, err := db.CreateUser("alice")
	require.NoError(t, err)

	post, err := db.CreatePost(author, "hello world", nil, false)
	require.NoError(t, err)
	_, err = db.AddLike(post.ID, 7)
	require.NoError(t, err)

	hits := []index.Hit{{ID: post.ID, Score: 1.5, Fragments: []string{"<mark>hello</mark> world"}}}

	// Viewer 7 liked the post.
	items, err := h.Hydrate(hits, 7)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "alice", items[0].Username)
	assert.Equal(t, 1, items[0].LikeCount)
	assert.True(t, items[0].IsLiked)
	assert.Equal(t, 1.5, items[0].Score)
	assert.Equal(t, []string{"<mark>hello</mark> world"}, items[0].Highlight)

	// Viewer 9 did not.
	items, err = h.Hydrate(hits, 9)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].IsLiked)
	assert.Equal(t, 1, items[0].LikeCount)

	// Anonymous viewers never see is_liked.
	items, err = h.Hydrate(hits, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].IsLiked)
}

func TestHydrate_LikeCountFromStoreNotIndex(t *testing.T) {
	db, h := setup(t)

	post, err := db.CreatePost(1, "counted", nil, false)
	require.NoError(t, err)

	// Likes arrive after the post was indexed; the hydrated copy must see
	// them anyway.
	_, err = db.AddLike(post.ID, 7)
	require.NoError(t, err)
	_, err = db.AddLike(post.ID, 8)
	require.NoError(t, err)

	items, err := h.Hydrate([]index.Hit{{ID: post.ID}}, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].LikeCount)
	assert.ElementsMatch(t, []int64{7, 8}, items[0].Likes)
}

func TestHydrate_DropsDeletedAndMissing(t *testing.T) {
	db, h := setup(t)

	kept, err := db.CreatePost(1, "kept", nil, false)
	require.NoError(t, err)
	gone, err := db.CreatePost(1, "deleted after indexing", nil, false)
	require.NoError(t, err)
	require.NoError(t, db.SoftDelete(gone.ID))

	hits := []index.Hit{
		{ID: gone.ID},
		{ID: kept.ID},
		{ID: "never-existed"},
	}

	items, err := h.Hydrate(hits, 0)
	require.NoError(t, err)
	require.Len(t, items, 1, "stale hits are dropped, not errors")
	assert.Equal(t, kept.ID, items[0].ID)
}

func TestHydrate_PlaceholderUsername(t *testing.T) {
	db, h := setup(t)

	post, err := db.CreatePost(42, "orphaned author", nil, false)
	require.NoError(t, err)

	items, err := h.Hydrate([]index.Hit{{ID: post.ID}}, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "User 42", items[0].Username)
}

func TestHydrate_PreservesOrder(t *testing.T) {
	db, h := setup(t)

	var hits []index.Hit
	var wantIDs []string
	for _, content := range []string{"third", "first", "second"} {
		post, err := db.CreatePost(1, content, nil, false)
		require.NoError(t, err)
		hits = append(hits, index.Hit{ID: post.ID})
		wantIDs = append(wantIDs, post.ID)
	}

	items, err := h.Hydrate(hits, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, wantIDs[i], item.ID, "planner ordering is preserved")
	}
}

func TestHydrate_Empty(t *testing.T) {
	_, h := setup(t)

	items, err := h.Hydrate(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
