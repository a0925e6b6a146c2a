package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PostStatus is the lifecycle state of a Post.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPublished PostStatus = "published"
	PostFailed    PostStatus = "failed"
)

// Terminal reports whether no further pipeline transition is allowed.
func (s PostStatus) Terminal() bool {
	return s == PostPublished || s == PostFailed
}

// Post represents a row in the 'posts' table
type Post struct {
	ID              PostID         `db:"id"`
	OwnerID         OwnerID        `db:"owner_id"`
	SourceID        SourceID       `db:"source_id"`
	ExternalID      string         `db:"external_id"`
	Title           string         `db:"title"`
	Body            string         `db:"body"`
	Link            sql.NullString `db:"link"`
	ImageURL        sql.NullString `db:"image_url"`
	AuthorName      sql.NullString `db:"author_name"`
	Status          PostStatus     `db:"status"`
	PublishedAt     sql.NullTime   `db:"published_at"`
	ItemPublishedAt sql.NullTime   `db:"item_published_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// NewDraftPost builds a draft Post for src from a normalized item.
func NewDraftPost(src Source, item Item, now time.Time) *Post {
	p := &Post{
		ID:         PostID(uuid.NewString()),
		OwnerID:    src.OwnerID,
		SourceID:   src.ID,
		ExternalID: item.ExternalID,
		Title:      item.Title,
		Body:       item.Body,
		Link:       nullString(item.Link),
		ImageURL:   nullString(item.ImageURL),
		AuthorName: nullString(item.Author),
		Status:     PostDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if item.PublishedAt != nil {
		p.ItemPublishedAt = sql.NullTime{Time: item.PublishedAt.UTC(), Valid: true}
	}
	return p
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
