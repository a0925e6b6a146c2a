package storage

import (
	"context"

	"fedifeed/relay/internal/models"
)

// UpsertOwner inserts o or refreshes the profile and keys of the owner with
// the same username. o.ID is set to the stored id.
func (s *Store) UpsertOwner(ctx context.Context, o *models.Owner) error {
	query, args, err := s.db.BindNamed(`
		INSERT INTO owners (id, username, display_name, summary, private_key_pem, public_key_pem, active, created_at, updated_at)
		VALUES (:id, :username, :display_name, :summary, :private_key_pem, :public_key_pem, :active, :created_at, :updated_at)
		ON CONFLICT(username) DO UPDATE SET
			display_name = excluded.display_name,
			summary = excluded.summary,
			private_key_pem = COALESCE(excluded.private_key_pem, owners.private_key_pem),
			public_key_pem = COALESCE(excluded.public_key_pem, owners.public_key_pem),
			active = excluded.active,
			updated_at = excluded.updated_at
		RETURNING id`, o)
	if err != nil {
		return wrap("upsert owner", err)
	}
	return wrap("upsert owner", s.db.GetContext(ctx, &o.ID, query, args...))
}

// GetOwner returns the owner with the given id.
func (s *Store) GetOwner(ctx context.Context, id models.OwnerID) (*models.Owner, error) {
	var o models.Owner
	if err := s.db.GetContext(ctx, &o, "SELECT * FROM owners WHERE id = ?", id); err != nil {
		return nil, wrap("get owner", err)
	}
	return &o, nil
}

// GetOwnerByUsername returns the owner with the given username.
func (s *Store) GetOwnerByUsername(ctx context.Context, username string) (*models.Owner, error) {
	var o models.Owner
	if err := s.db.GetContext(ctx, &o, "SELECT * FROM owners WHERE username = ?", username); err != nil {
		return nil, wrap("get owner by username", err)
	}
	return &o, nil
}
