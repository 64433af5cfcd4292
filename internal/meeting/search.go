package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/minutas/pkg/provider/embeddings"
)

// ErrSearchUnavailable is returned by [Searcher.Search] when no embeddings
// provider or no similarity-capable store is configured.
var ErrSearchUnavailable = errors.New("meeting: semantic search is not configured")

// ErrEmptyQuery is returned for a blank search query.
var ErrEmptyQuery = fmt.Errorf("%w: query is required", ErrInvalidInput)

const (
	defaultSearchK = 5
	maxSearchK     = 50
)

// Searcher recalls meetings related to a free-text query.
type Searcher struct {
	embedder embeddings.Provider
	store    SimilarityStore
}

// NewSearcher returns a Searcher. Either argument may be nil, in which case
// Search reports [ErrSearchUnavailable].
func NewSearcher(e embeddings.Provider, s SimilarityStore) *Searcher {
	return &Searcher{embedder: e, store: s}
}

// Available reports whether Search can run.
func (s *Searcher) Available() bool {
	return s != nil && s.embedder != nil && s.store != nil
}

// Search embeds query and returns the owner's k nearest records. k <= 0
// selects a default; large values are capped.
func (s *Searcher) Search(ctx context.Context, owner, query string, k int) ([]Record, error) {
	if !s.Available() {
		return nil, ErrSearchUnavailable
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if strings.TrimSpace(owner) == "" {
		return nil, ErrMissingOwner
	}
	switch {
	case k <= 0:
		k = defaultSearchK
	case k > maxSearchK:
		k = maxSearchK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("meeting: embed query: %w", err)
	}
	if dims := s.embedder.Dimensions(); dims > 0 {
		if err := embeddings.Check(vec, dims); err != nil {
			return nil, fmt.Errorf("meeting: embed query: %w", err)
		}
	}
	recs, err := s.store.Similar(ctx, owner, vec, k)
	if err != nil {
		return nil, fmt.Errorf("meeting: similar: %w", err)
	}
	return recs, nil
}
