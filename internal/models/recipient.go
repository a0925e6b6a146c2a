package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Recipient represents a row in the 'recipients' table.
// ActorURL is the endpoint identity; Endpoint is where documents are sent.
type Recipient struct {
	ID           RecipientID    `db:"id"`
	OwnerID      OwnerID        `db:"owner_id"`
	ActorURL     string         `db:"actor_url"`
	Endpoint     string         `db:"endpoint"`
	DisplayName  sql.NullString `db:"display_name"`
	Active       bool           `db:"active"`
	SubscribedAt time.Time      `db:"subscribed_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// NewRecipient creates an active Recipient. An empty actor falls back to
// the endpoint as identity.
func NewRecipient(owner OwnerID, actorURL, endpoint string) *Recipient {
	if actorURL == "" {
		actorURL = endpoint
	}
	now := time.Now().UTC()
	return &Recipient{
		ID:           RecipientID(uuid.NewString()),
		OwnerID:      owner,
		ActorURL:     actorURL,
		Endpoint:     endpoint,
		Active:       true,
		SubscribedAt: now,
		UpdatedAt:    now,
	}
}
