package index

import (
	"errors"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	htmlformat "github.com/blevesearch/bleve/v2/search/highlight/format/html"
	simplefrag "github.com/blevesearch/bleve/v2/search/highlight/fragmenter/simple"
	simplehl "github.com/blevesearch/bleve/v2/search/highlight/highlighter/simple"

	"github.com/devthoughts/postsearch/internal/storage"
)

// Bleve field name constants for consistent references in mappings and queries.
const (
	FieldID           = "id"
	FieldContent      = "content"
	FieldContentNgram = "content_ngram"
	FieldCreatedAt    = "created_at"
)

const (
	ngramFilterName   = "content_ngram_filter"
	ngramAnalyzerName = "content_ngram_analyzer"

	// fragmentSize bounds highlighted fragments to 150 characters.
	fragmentSize = 150

	// maxFragments bounds the number of fragments returned per hit.
	maxFragments = 3

	// defaultWriteAttempts bounds retries of an engine-level bulk error.
	defaultWriteAttempts = 3

	// retryBackoff spaces bulk write retries; retries target transient
	// I/O errors, not deterministic engine failures.
	retryBackoff = 100 * time.Millisecond
)

var (
	// ErrUnavailable indicates the search engine could not be reached or failed.
	ErrUnavailable = errors.New("search engine unavailable")

	// ErrBadQuery indicates a malformed search request.
	ErrBadQuery = errors.New("invalid search query")
)

// Record is the derived, search-optimized projection of a post. Volatile
// counters (likes, like_count) are deliberately excluded: those are always
// re-read from the authoritative store at query time.
type Record struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	ContentNgram string    `json:"content_ngram"`
	CreatedAt    time.Time `json:"created_at"`
}

// Options configures the index.
type Options struct {
	PageSize      int
	HighlightPre  string
	HighlightPost string
	WriteAttempts int
}

// DefaultOptions returns the standard index configuration.
func DefaultOptions() Options {
	return Options{
		PageSize:      10,
		HighlightPre:  "<mark>",
		HighlightPost: "</mark>",
		WriteAttempts: defaultWriteAttempts,
	}
}

// Index wraps a Bleve search index over post records.
type Index struct {
	index       bleve.Index
	opts        Options
	highlighter *simplehl.Highlighter
}

// Open opens or creates a Bleve index at path.
func Open(path string, opts Options) (*Index, error) {
	if opts.WriteAttempts <= 0 {
		opts.WriteAttempts = defaultWriteAttempts
	}

	// The engine's own highlight pipeline caps output at one fragment per
	// field, so fragments are produced directly with this highlighter after
	// each search instead.
	highlighter := simplehl.NewHighlighter(
		simplefrag.NewFragmenter(fragmentSize),
		htmlformat.NewFragmentFormatter(opts.HighlightPre, opts.HighlightPost),
		simplehl.DefaultSeparator,
	)

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		indexMapping, merr := buildIndexMapping()
		if merr != nil {
			return nil, fmt.Errorf("build mapping: %w", merr)
		}
		idx, err = bleve.New(path, indexMapping)
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx, opts: opts, highlighter: highlighter}, nil
}

// buildIndexMapping creates the mapping for post records: the content body
// analyzed with the standard analyzer, the same body duplicated into an
// n-gram analyzed field for substring recall, and a stored timestamp for
// the recency tie-break sort.
func buildIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomTokenFilter(ngramFilterName, map[string]interface{}{
		"type": ngram.Name,
		"min":  3.0,
		"max":  3.0,
	})
	if err != nil {
		return nil, fmt.Errorf("ngram filter: %w", err)
	}

	err = indexMapping.AddCustomAnalyzer(ngramAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, ngramFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("ngram analyzer: %w", err)
	}

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	contentField.IncludeTermVectors = true

	ngramField := bleve.NewTextFieldMapping()
	ngramField.Analyzer = ngramAnalyzerName
	ngramField.Store = false

	createdField := bleve.NewDateTimeFieldMapping()

	// ID is stored but not indexed; the bleve document ID is authoritative.
	idField := bleve.NewTextFieldMapping()
	idField.Index = false
	idField.Store = true

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(FieldID, idField)
	docMapping.AddFieldMappingsAt(FieldContent, contentField)
	docMapping.AddFieldMappingsAt(FieldContentNgram, ngramField)
	docMapping.AddFieldMappingsAt(FieldCreatedAt, createdField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping, nil
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// DocCount returns the number of records in the index.
func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

// WriteError records a single document that failed to index, with enough
// detail for manual replay.
type WriteError struct {
	ID     string
	Reason string
}

// WriteResult accounts for a bulk upsert.
type WriteResult struct {
	Indexed int
	Failed  int
	Errors  []WriteError
}

// NewRecord projects a post into its index record.
func NewRecord(post *storage.Post) Record {
	return Record{
		ID:           post.ID,
		Content:      post.Content,
		ContentNgram: post.Content,
		CreatedAt:    post.CreatedAt.UTC(),
	}
}

// WriteBatch upserts the given posts in a single bulk call. Per-document
// failures are recorded and do not abort the batch; an engine-level bulk
// error is retried up to writeAttempts times and then returned, leaving the
// caller to treat the whole run as retryable.
func (i *Index) WriteBatch(posts []*storage.Post) (*WriteResult, error) {
	result := &WriteResult{}
	if len(posts) == 0 {
		return result, nil
	}

	batch := i.index.NewBatch()
	staged := 0
	for _, post := range posts {
		record := NewRecord(post)
		if err := batch.Index(record.ID, record); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, WriteError{ID: record.ID, Reason: err.Error()})
			continue
		}
		staged++
	}

	var err error
	for attempt := 1; attempt <= i.opts.WriteAttempts; attempt++ {
		err = i.index.Batch(batch)
		if err == nil {
			result.Indexed = staged
			return result, nil
		}
		if attempt < i.opts.WriteAttempts {
			time.Sleep(time.Duration(attempt) * retryBackoff)
		}
	}

	result.Failed += staged
	return result, fmt.Errorf("%w: bulk upsert failed after %d attempts: %s", ErrUnavailable, i.opts.WriteAttempts, err)
}

// Delete removes a record from the index.
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}
