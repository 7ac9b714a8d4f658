package sync_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devthoughts/postsearch/internal/index"
	"github.com/devthoughts/postsearch/internal/storage"
	"github.com/devthoughts/postsearch/internal/sync"
)

type fixture struct {
	db        *storage.DB
	idx       *index.Index
	watermark *sync.Watermark
	orch      *sync.Orchestrator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.Open(filepath.Join(dir, "posts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := index.Open(filepath.Join(dir, "posts.bleve"), index.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	watermark := sync.NewWatermark(filepath.Join(dir, "state.json"))

	return &fixture{
		db:        db,
		idx:       idx,
		watermark: watermark,
		orch:      sync.NewOrchestrator(db, idx, watermark, 100, logger),
	}
}

func TestDetector_BootstrapFull(t *testing.T) {
	f := setup(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Even a far-future watermark cannot suppress the bootstrap scan.
	require.NoError(t, f.watermark.Store(time.Now().Add(24*time.Hour)))

	plan := sync.NewDetector(f.idx, f.watermark, logger).PlanSync()
	assert.Equal(t, sync.ModeFull, plan.Mode, "empty index always plans a full reindex")
}

func TestDetector_Incremental(t *testing.T) {
	f := setup(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := f.db.CreatePost(1, "seed", nil, false)
	require.NoError(t, err)
	_, err = f.orch.Run(context.Background())
	require.NoError(t, err)

	stamp, err := f.watermark.Load()
	require.NoError(t, err)

	plan := sync.NewDetector(f.idx, f.watermark, logger).PlanSync()
	assert.Equal(t, sync.ModeIncremental, plan.Mode)
	assert.True(t, plan.Since.Equal(stamp), "incremental window starts at the watermark")
}

func TestRun_Bootstrap(t *testing.T) {
	f := setup(t)

	for _, content := range []string{"first post", "second post", "third post"} {
		_, err := f.db.CreatePost(1, content, nil, false)
		require.NoError(t, err)
	}
	deleted, err := f.db.CreatePost(1, "already gone", nil, false)
	require.NoError(t, err)
	require.NoError(t, f.db.SoftDelete(deleted.ID))

	before := time.Now().UTC()
	stats, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, sync.ModeFull, stats.Mode)
	assert.Equal(t, 3, stats.Selected, "soft-deleted posts are never selected")
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, sync.StateIdle, f.orch.State())

	count, err := f.idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	stamp, err := f.watermark.Load()
	require.NoError(t, err)
	assert.False(t, stamp.Before(before), "watermark advances to roughly now")
	assert.WithinDuration(t, time.Now().UTC(), stamp, 10*time.Second)
}

func TestRun_Idempotent(t *testing.T) {
	f := setup(t)

	_, err := f.db.CreatePost(1, "only post", nil, false)
	require.NoError(t, err)

	_, err = f.orch.Run(context.Background())
	require.NoError(t, err)
	countAfterFirst, err := f.idx.DocCount()
	require.NoError(t, err)

	stats, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	countAfterSecond, err := f.idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, countAfterFirst, countAfterSecond, "re-running with no new documents changes nothing")
	assert.Equal(t, stats.Failed, 0)
}

func TestRun_IncrementalPicksUpNewPosts(t *testing.T) {
	f := setup(t)

	_, err := f.db.CreatePost(1, "existing post", nil, false)
	require.NoError(t, err)
	_, err = f.orch.Run(context.Background())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = f.db.CreatePost(2, "brand new post", nil, false)
	require.NoError(t, err)

	stats, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sync.ModeIncremental, stats.Mode)

	count, err := f.idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	result, err := f.idx.Search("brand new", 1)
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
}

func TestRun_WatermarkMonotonic(t *testing.T) {
	f := setup(t)

	_, err := f.db.CreatePost(1, "seed post", nil, false)
	require.NoError(t, err)

	var previous time.Time
	for run := 0; run < 3; run++ {
		_, err := f.orch.Run(context.Background())
		require.NoError(t, err)

		stamp, err := f.watermark.Load()
		require.NoError(t, err)
		assert.False(t, stamp.Before(previous), "watermark never decreases")
		previous = stamp
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := setup(t)

	_, err := f.db.CreatePost(1, "post", nil, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.orch.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, sync.StateFailed, f.orch.State())

	// The aborted run must not advance the watermark.
	_, err = f.watermark.Load()
	assert.Error(t, err)
}

func TestRun_EngineFailure(t *testing.T) {
	f := setup(t)

	_, err := f.db.CreatePost(1, "post", nil, false)
	require.NoError(t, err)

	// A closed engine makes every bulk write unrecoverable.
	require.NoError(t, f.idx.Close())

	_, err = f.orch.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrUnavailable)
	assert.Equal(t, sync.StateFailed, f.orch.State())

	// The failed run must not advance the watermark.
	_, err = f.watermark.Load()
	assert.Error(t, err)
}

func TestRun_BatchPaging(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.Open(filepath.Join(dir, "posts.db"))
	require.NoError(t, err)
	defer db.Close()

	idx, err := index.Open(filepath.Join(dir, "posts.bleve"), index.DefaultOptions())
	require.NoError(t, err)
	defer idx.Close()

	for i := 0; i < 7; i++ {
		_, err := db.CreatePost(1, "paged post", nil, false)
		require.NoError(t, err)
	}

	// Batch size smaller than the document count forces multiple pages.
	orch := sync.NewOrchestrator(db, idx, sync.NewWatermark(filepath.Join(dir, "state.json")), 3, logger)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Selected)
	assert.Equal(t, 7, stats.Indexed)

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), count)
}
