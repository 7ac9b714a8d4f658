package hydrate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/devthoughts/postsearch/internal/index"
	"github.com/devthoughts/postsearch/internal/storage"
)

// Item is one ranked, hydrated search result. It combines the index hit's
// score and highlights with live-fetched authoritative fields: the liker set
// and like_count are recomputed here, never trusted from the index copy.
type Item struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Medias    []string  `json:"medias"`
	Comments  []string  `json:"comments"`
	Likes     []int64   `json:"likes"`
	LikeCount int       `json:"like_count"`
	IsLiked   bool      `json:"is_liked"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score"`
	Highlight []string  `json:"highlight"`
}

// Store is the slice of the primary store the hydrator needs.
type Store interface {
	MultiGetPosts(ids []string) ([]*storage.Post, error)
	UsernameFor(ids []int64) (map[int64]string, error)
}

// Hydrator joins search hits back to the authoritative store and identity
// data, preserving the planner's ordering.
type Hydrator struct {
	store  Store
	logger *slog.Logger
}

// New creates a hydrator.
func New(store Store, logger *slog.Logger) *Hydrator {
	return &Hydrator{store: store, logger: logger}
}

// Hydrate resolves hits into ranked items for the given viewer (0 means
// anonymous). Hits whose authoritative document is missing or soft-deleted
// are dropped without failing the request; the caller's totals come from the
// index and may therefore slightly overcount the hydrated list.
func (h *Hydrator) Hydrate(hits []index.Hit, viewerID int64) ([]*Item, error) {
	if len(hits) == 0 {
		return []*Item{}, nil
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}

	posts, err := h.store.MultiGetPosts(ids)
	if err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}

	byID := make(map[string]*storage.Post, len(posts))
	authorIDs := make([]int64, 0, len(posts))
	seen := make(map[int64]bool)
	for _, post := range posts {
		if post.Deleted {
			continue
		}
		byID[post.ID] = post
		if !seen[post.UserID] {
			seen[post.UserID] = true
			authorIDs = append(authorIDs, post.UserID)
		}
	}

	usernames, err := h.store.UsernameFor(authorIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve usernames: %w", err)
	}

	items := make([]*Item, 0, len(hits))
	for _, hit := range hits {
		post, ok := byID[hit.ID]
		if !ok {
			// Index lag: the document vanished or was soft-deleted after
			// being indexed.
			h.logger.Debug("dropping stale hit", "id", hit.ID)
			continue
		}

		username, ok := usernames[post.UserID]
		if !ok {
			username = fmt.Sprintf("User %d", post.UserID)
		}

		isLiked := false
		if viewerID != 0 {
			for _, id := range post.Likes {
				if id == viewerID {
					isLiked = true
					break
				}
			}
		}

		items = append(items, &Item{
			ID:        post.ID,
			UserID:    post.UserID,
			Username:  username,
			Content:   post.Content,
			Medias:    post.Medias,
			Comments:  post.Comments,
			Likes:     post.Likes,
			LikeCount: len(post.Likes),
			IsLiked:   isLiked,
			CreatedAt: post.CreatedAt,
			Score:     hit.Score,
			Highlight: hit.Fragments,
		})
	}

	return items, nil
}
