package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Owner represents a row in the 'owners' table
type Owner struct {
	ID            OwnerID        `db:"id"`
	Username      string         `db:"username"`
	DisplayName   string         `db:"display_name"`
	Summary       sql.NullString `db:"summary"`
	PrivateKeyPEM sql.NullString `db:"private_key_pem"`
	PublicKeyPEM  sql.NullString `db:"public_key_pem"`
	Active        bool           `db:"active"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// NewOwner creates a new active Owner
func NewOwner(username string) *Owner {
	now := time.Now().UTC()
	return &Owner{
		ID:          OwnerID(uuid.NewString()),
		Username:    username,
		DisplayName: username,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
