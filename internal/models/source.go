package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// OwnerID, SourceID, PostID and RecipientID are the stable keys of the
// stored entities. Relationships are expressed through them only.
type (
	OwnerID     string
	SourceID    string
	PostID      string
	RecipientID string
)

// Source represents a row in the 'sources' table
type Source struct {
	ID             SourceID       `db:"id" json:"id"`
	OwnerID        OwnerID        `db:"owner_id" json:"owner_id"`
	URL            string         `db:"url" json:"url"`
	Title          string         `db:"title" json:"title"`
	Description    sql.NullString `db:"description" json:"-"`
	Active         bool           `db:"active" json:"active"`
	Schedule       string         `db:"schedule" json:"schedule"`
	AutoDeliver    bool           `db:"auto_deliver" json:"auto_deliver"`
	LastFetchedAt  sql.NullTime   `db:"last_fetched_at" json:"-"`
	LastFetchError sql.NullString `db:"last_fetch_error" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// NewSource creates a new active Source with auto-delivery enabled
func NewSource(owner OwnerID, url string) *Source {
	now := time.Now().UTC()
	return &Source{
		ID:          SourceID(uuid.NewString()),
		OwnerID:     owner,
		URL:         url,
		Title:       url,
		Active:      true,
		AutoDeliver: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Healthy reports whether the last recorded fetch succeeded.
func (s *Source) Healthy() bool {
	return !s.LastFetchError.Valid
}
