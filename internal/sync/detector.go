package sync

import (
	"log/slog"
	"time"

	"github.com/devthoughts/postsearch/internal/index"
)

// Mode selects between a full reindex and an incremental window.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// defaultWindow is how far back an incremental run reaches when the state
// file cannot be read.
const defaultWindow = time.Minute

// Plan is the outcome of change detection: which mode to run in and the
// selector lower bound for created_at.
type Plan struct {
	Mode  Mode
	Since time.Time
}

// Detector decides, per run, whether to bootstrap the index with a full
// scan or to select only documents created since the watermark.
type Detector struct {
	index     *index.Index
	watermark *Watermark
	logger    *slog.Logger
}

// NewDetector creates a change detector.
func NewDetector(idx *index.Index, watermark *Watermark, logger *slog.Logger) *Detector {
	return &Detector{index: idx, watermark: watermark, logger: logger}
}

// PlanSync computes the sync plan. An empty index (or a failed count probe,
// treated as empty) forces a full reindex regardless of the watermark; this
// bootstraps a fresh index and recovers from total index loss without
// manual intervention.
func (d *Detector) PlanSync() Plan {
	count, err := d.index.DocCount()
	if err != nil {
		d.logger.Warn("could not get index document count, assuming empty index", "error", err)
		count = 0
	}

	if count == 0 {
		d.logger.Info("index is empty, selecting all documents")
		return Plan{Mode: ModeFull, Since: time.Unix(0, 0).UTC()}
	}

	since, err := d.watermark.Load()
	if err != nil {
		d.logger.Warn("could not read watermark, using default window", "error", err)
		since = time.Now().UTC().Add(-defaultWindow)
	}

	return Plan{Mode: ModeIncremental, Since: since}
}
