package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxContentRunes is the maximum post body length in code points.
	MaxContentRunes = 280

	// MaxMedias is the maximum number of media references per post.
	MaxMedias = 4
)

var (
	// ErrNotFound indicates the referenced post does not exist or is deleted.
	ErrNotFound = errors.New("post not found")

	// ErrContentTooLong indicates the post body exceeds MaxContentRunes.
	ErrContentTooLong = fmt.Errorf("content exceeds %d code points", MaxContentRunes)

	// ErrTooManyMedias indicates the post carries more than MaxMedias references.
	ErrTooManyMedias = fmt.Errorf("more than %d media references", MaxMedias)

	// ErrEmptyContent indicates a post body with no text.
	ErrEmptyContent = errors.New("content cannot be empty")
)

// Post is the authoritative post document. The search index holds a derived
// projection of it; likes and like_count are only ever read from here.
type Post struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	Medias    []string  `json:"medias"`
	Comments  []string  `json:"comments"`
	Likes     []int64   `json:"likes"`
	LikeCount int       `json:"like_count"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted"`
	IsComment bool      `json:"is_comment"`
}

// validate checks the post shape at the store boundary.
func validate(content string, medias []string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return ErrContentTooLong
	}
	if len(medias) > MaxMedias {
		return ErrTooManyMedias
	}
	return nil
}

// CreatePost inserts a new post document. The store assigns the identifier
// and the creation timestamp; like_count is derived from the liker set.
func (d *DB) CreatePost(userID int64, content string, medias []string, isComment bool) (*Post, error) {
	if err := validate(content, medias); err != nil {
		return nil, err
	}

	post := &Post{
		ID:        uuid.New().String(),
		UserID:    userID,
		Content:   content,
		Medias:    medias,
		Comments:  []string{},
		Likes:     []int64{},
		LikeCount: 0,
		CreatedAt: time.Now().UTC(),
		IsComment: isComment,
	}

	mediasJSON, err := json.Marshal(post.Medias)
	if err != nil {
		return nil, fmt.Errorf("marshal medias: %w", err)
	}

	query := `
	INSERT INTO posts (id, user_id, content, medias, comments, likes, like_count, created_at, deleted, is_comment)
	VALUES (?, ?, ?, ?, '[]', '[]', 0, ?, 0, ?)
	`
	_, err = d.db.Exec(query, post.ID, post.UserID, post.Content, string(mediasJSON),
		post.CreatedAt.UnixNano(), post.IsComment)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}

	return post, nil
}

const postColumns = "id, user_id, content, medias, comments, likes, like_count, created_at, deleted, is_comment"

func scanPost(scan func(dest ...any) error) (*Post, error) {
	var (
		post      Post
		medias    string
		comments  string
		likes     string
		createdAt int64
	)
	err := scan(&post.ID, &post.UserID, &post.Content, &medias, &comments, &likes,
		&post.LikeCount, &createdAt, &post.Deleted, &post.IsComment)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(medias), &post.Medias); err != nil {
		return nil, fmt.Errorf("unmarshal medias: %w", err)
	}
	if err := json.Unmarshal([]byte(comments), &post.Comments); err != nil {
		return nil, fmt.Errorf("unmarshal comments: %w", err)
	}
	if err := json.Unmarshal([]byte(likes), &post.Likes); err != nil {
		return nil, fmt.Errorf("unmarshal likes: %w", err)
	}
	post.CreatedAt = time.Unix(0, createdAt).UTC()

	return &post, nil
}

// GetPost retrieves a post by ID. Returns nil for unknown IDs; soft-deleted
// posts are returned with Deleted set so callers can decide how to degrade.
func (d *DB) GetPost(id string) (*Post, error) {
	row := d.db.QueryRow("SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	post, err := scanPost(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

// MultiGetPosts retrieves posts by ID in a single round-trip. Unknown IDs are
// simply absent from the result.
func (d *DB) MultiGetPosts(ids []string) ([]*Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.Query("SELECT "+postColumns+" FROM posts WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

// ListPosts retrieves non-deleted posts, newest first.
func (d *DB) ListPosts(skip, limit int) ([]*Post, error) {
	rows, err := d.db.Query(
		"SELECT "+postColumns+" FROM posts WHERE deleted = 0 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

// ListPostsByUser retrieves a user's non-deleted posts, newest first.
func (d *DB) ListPostsByUser(userID int64, skip, limit int) ([]*Post, error) {
	rows, err := d.db.Query(
		"SELECT "+postColumns+" FROM posts WHERE user_id = ? AND deleted = 0 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		userID, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

// ListPostsCreatedSince retrieves non-deleted posts with created_at >= since,
// oldest first. This is the incremental sync selector.
func (d *DB) ListPostsCreatedSince(since time.Time, skip, limit int) ([]*Post, error) {
	rows, err := d.db.Query(
		"SELECT "+postColumns+" FROM posts WHERE deleted = 0 AND created_at >= ? ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?",
		since.UnixNano(), limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

func collectPosts(rows *sql.Rows) ([]*Post, error) {
	var posts []*Post
	for rows.Next() {
		post, err := scanPost(rows.Scan)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CountPosts returns the number of non-deleted posts.
func (d *DB) CountPosts() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM posts WHERE deleted = 0").Scan(&count)
	return count, err
}

// SoftDelete flips the deleted flag. The row is never physically removed.
func (d *DB) SoftDelete(id string) error {
	result, err := d.db.Exec("UPDATE posts SET deleted = 1 WHERE id = ? AND deleted = 0", id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddComment appends a comment document ID to the parent's comment list.
func (d *DB) AddComment(postID, commentID string) error {
	return d.mutateList(postID, func(post *Post) {
		post.Comments = append(post.Comments, commentID)
	})
}

// AddLike adds a liker to the post's liker set. The set and the derived
// like_count are written in a single UPDATE inside one transaction, so a
// crash can never leave them inconsistent. Returns false when the liker was
// already present.
func (d *DB) AddLike(postID string, userID int64) (bool, error) {
	changed := false
	err := d.mutateList(postID, func(post *Post) {
		for _, id := range post.Likes {
			if id == userID {
				return
			}
		}
		post.Likes = append(post.Likes, userID)
		changed = true
	})
	return changed, err
}

// RemoveLike removes a liker from the post's liker set. Returns false when
// the liker was not present.
func (d *DB) RemoveLike(postID string, userID int64) (bool, error) {
	changed := false
	err := d.mutateList(postID, func(post *Post) {
		for i, id := range post.Likes {
			if id == userID {
				post.Likes = append(post.Likes[:i], post.Likes[i+1:]...)
				changed = true
				return
			}
		}
	})
	return changed, err
}

// mutateList applies fn to a post's list fields and writes the mutated lists
// plus the recomputed like_count back in one UPDATE.
func (d *DB) mutateList(postID string, fn func(*Post)) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT "+postColumns+" FROM posts WHERE id = ? AND deleted = 0", postID)
	post, err := scanPost(row.Scan)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	fn(post)

	commentsJSON, err := json.Marshal(post.Comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	likesJSON, err := json.Marshal(post.Likes)
	if err != nil {
		return fmt.Errorf("marshal likes: %w", err)
	}

	_, err = tx.Exec("UPDATE posts SET comments = ?, likes = ?, like_count = ? WHERE id = ?",
		string(commentsJSON), string(likesJSON), len(post.Likes), postID)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}

	return tx.Commit()
}
