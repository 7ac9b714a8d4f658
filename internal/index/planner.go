package index

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Boosts for the four relevance clauses, highest precision to lowest.
const (
	boostPhrase   = 3.0
	boostWildcard = 2.0
	boostFuzzy    = 1.5
	boostNgram    = 1.0
)

// Hit is a single scored search hit. Only index-derived data appears here;
// authoritative fields are joined back in by the hydrator.
type Hit struct {
	ID        string
	Score     float64
	Fragments []string
}

// Result holds one page of hits plus the engine-reported total.
type Result struct {
	Hits  []Hit
	Total uint64
}

// Search executes the multi-strategy relevance query for one page of
// results. page is 1-indexed; page size is fixed by the index options.
func (i *Index) Search(text string, page int) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrBadQuery)
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be >= 1", ErrBadQuery)
	}

	from := (page - 1) * i.opts.PageSize
	req := bleve.NewSearchRequestOptions(i.buildQuery(text), i.opts.PageSize, from, false)

	// Deterministic ordering: relevance, then recency, then document ID.
	req.SortBy([]string{"-_score", "-" + FieldCreatedAt, "_id"})

	// Term locations feed the highlighter below.
	req.IncludeLocations = true

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	result := &Result{Total: res.Total}
	if len(res.Hits) == 0 {
		return result, nil
	}

	advanced, err := i.index.Advanced()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	reader, err := advanced.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer reader.Close()

	for _, hit := range res.Hits {
		var fragments []string
		if doc, derr := reader.Document(hit.ID); derr == nil && doc != nil {
			fragments = i.highlighter.BestFragmentsInField(hit, doc, FieldContent, maxFragments)
		}
		result.Hits = append(result.Hits, Hit{
			ID:        hit.ID,
			Score:     hit.Score,
			Fragments: fragments,
		})
	}

	return result, nil
}

// buildQuery constructs the disjunctive boolean query over the content
// field: exact phrase, case-insensitive substring wildcard, fuzzy token
// match, and n-gram match, each with a fixed relative boost.
func (i *Index) buildQuery(text string) query.Query {
	phrase := bleve.NewMatchPhraseQuery(text)
	phrase.SetField(FieldContent)
	phrase.SetBoost(boostPhrase)

	wildcard := bleve.NewWildcardQuery("*" + strings.ToLower(text) + "*")
	wildcard.SetField(FieldContent)
	wildcard.SetBoost(boostWildcard)

	fuzzy := bleve.NewMatchQuery(text)
	fuzzy.SetField(FieldContent)
	fuzzy.SetAutoFuzziness(true)
	fuzzy.SetBoost(boostFuzzy)

	ngram := bleve.NewMatchQuery(text)
	ngram.SetField(FieldContentNgram)
	ngram.SetBoost(boostNgram)

	q := bleve.NewDisjunctionQuery(phrase, wildcard, fuzzy, ngram)
	q.SetMin(1)
	return q
}
