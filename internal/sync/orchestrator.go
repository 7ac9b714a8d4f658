package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devthoughts/postsearch/internal/index"
	"github.com/devthoughts/postsearch/internal/storage"
)

// State is the orchestrator's position in a sync run.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateWriting   State = "writing"
	StateAdvancing State = "advancing"
	StateFailed    State = "failed"
)

// Stats holds the outcome of one sync run.
type Stats struct {
	Mode      Mode
	Selected  int
	Indexed   int
	Failed    int
	Watermark time.Time
	Duration  time.Duration
}

// Orchestrator coordinates detector, writer and watermark for one sync run.
// It is invoked by an external scheduler and holds no state between runs
// beyond the persisted watermark; the scheduler must guarantee at most one
// concurrent run.
type Orchestrator struct {
	db        *storage.DB
	index     *index.Index
	detector  *Detector
	watermark *Watermark
	batchSize int
	logger    *slog.Logger
	state     State
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(db *storage.DB, idx *index.Index, watermark *Watermark, batchSize int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		db:        db,
		index:     idx,
		detector:  NewDetector(idx, watermark, logger),
		watermark: watermark,
		batchSize: batchSize,
		logger:    logger,
		state:     StateIdle,
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) fail(err error) error {
	o.state = StateFailed
	o.logger.Error("sync run failed, watermark not advanced", "error", err)
	return err
}

// Run performs one sync: plan, write, advance.
//
// Per-document indexing failures are recorded and do not abort the run; the
// watermark still advances afterwards (at-least-once, not exactly-once). An
// unrecoverable error leaves the watermark untouched so the next run retries
// the same window, and is returned for the caller to exit non-zero.
func (o *Orchestrator) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	o.state = StatePlanning
	plan := o.detector.PlanSync()
	stats.Mode = plan.Mode
	o.logger.Info("sync planned", "mode", plan.Mode, "since", plan.Since)

	o.state = StateWriting
	skip := 0
	for {
		if err := ctx.Err(); err != nil {
			return stats, o.fail(err)
		}

		posts, err := o.db.ListPostsCreatedSince(plan.Since, skip, o.batchSize)
		if err != nil {
			return stats, o.fail(fmt.Errorf("select documents: %w", err))
		}
		if len(posts) == 0 {
			break
		}
		stats.Selected += len(posts)

		result, err := o.index.WriteBatch(posts)
		if err != nil {
			return stats, o.fail(fmt.Errorf("bulk upsert: %w", err))
		}

		stats.Indexed += result.Indexed
		stats.Failed += result.Failed
		for _, werr := range result.Errors {
			// Enough detail for manual replay of the document.
			o.logger.Error("document failed to index", "id", werr.ID, "reason", werr.Reason)
		}

		if len(posts) < o.batchSize {
			break
		}
		skip += o.batchSize
	}

	o.state = StateAdvancing
	now := time.Now().UTC()
	if err := o.watermark.Store(now); err != nil {
		return stats, o.fail(fmt.Errorf("advance watermark: %w", err))
	}
	stats.Watermark = now

	o.state = StateIdle
	stats.Duration = time.Since(start)
	o.logger.Info("sync complete",
		"mode", stats.Mode,
		"selected", stats.Selected,
		"indexed", stats.Indexed,
		"failed", stats.Failed,
		"duration", stats.Duration)

	return stats, nil
}
