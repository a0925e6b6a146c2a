package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"fedifeed/relay/internal/models"
)

// FindPost looks a post up by its dedup key.
func (s *Store) FindPost(ctx context.Context, owner models.OwnerID, externalID string) (*models.Post, error) {
	var p models.Post
	err := s.db.GetContext(ctx, &p, "SELECT * FROM posts WHERE owner_id = ? AND external_id = ?", owner, externalID)
	if err != nil {
		return nil, wrap("find post", err)
	}
	return &p, nil
}

// GetPost returns the post with the given id.
func (s *Store) GetPost(ctx context.Context, id models.PostID) (*models.Post, error) {
	var p models.Post
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM posts WHERE id = ?", id); err != nil {
		return nil, wrap("get post", err)
	}
	return &p, nil
}

// CreatePost inserts post unless its (owner, external id) key already exists.
// It reports whether a row was written.
func (s *Store) CreatePost(ctx context.Context, post *models.Post) (bool, error) {
	if post.Status != models.PostDraft || post.PublishedAt.Valid {
		return false, &Error{Op: "create post", Err: fmt.Errorf("new post %s must be an unpublished draft", post.ID)}
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO posts (id, owner_id, source_id, external_id, title, body, link, image_url, author_name,
			status, published_at, item_published_at, created_at, updated_at)
		VALUES (:id, :owner_id, :source_id, :external_id, :title, :body, :link, :image_url, :author_name,
			:status, :published_at, :item_published_at, :created_at, :updated_at)
		ON CONFLICT(owner_id, external_id) DO NOTHING`, post)
	if err != nil {
		return false, wrap("create post", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("create post", err)
	}
	return n > 0, nil
}

// ListDrafts returns the drafts ingested from a source, oldest first.
func (s *Store) ListDrafts(ctx context.Context, source models.SourceID) ([]models.Post, error) {
	posts := []models.Post{}
	err := s.db.SelectContext(ctx, &posts,
		"SELECT * FROM posts WHERE source_id = ? AND status = ? ORDER BY created_at ASC, rowid ASC",
		source, models.PostDraft)
	return posts, wrap("list drafts", err)
}

// TransitionPost moves a draft to a terminal status. Published posts get
// published_at = at; failed posts keep it NULL. A post that already left
// draft yields ErrNotDraft, so each post transitions at most once.
func (s *Store) TransitionPost(ctx context.Context, id models.PostID, to models.PostStatus, at time.Time) error {
	if !to.Terminal() {
		return &Error{Op: "transition post", Err: fmt.Errorf("invalid target status %q", to)}
	}
	publishedAt := sql.NullTime{}
	if to == models.PostPublished {
		publishedAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("posts").
		Set(
			ub.Assign("status", string(to)),
			ub.Assign("published_at", publishedAt),
			ub.Assign("updated_at", at.UTC()),
		).
		Where(ub.Equal("id", id), ub.Equal("status", string(models.PostDraft)))
	query, args := ub.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrap("transition post", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("transition post", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetPost(ctx, id); err != nil {
		return err
	}
	return &Error{Op: "transition post", Err: ErrNotDraft}
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
