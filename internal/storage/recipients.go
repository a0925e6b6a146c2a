package storage

import (
	"context"
	"database/sql"
	"time"

	"fedifeed/relay/internal/models"
)

// UpsertRecipient subscribes r, reactivating an existing (owner, actor) row.
func (s *Store) UpsertRecipient(ctx context.Context, r *models.Recipient) error {
	query, args, err := s.db.BindNamed(`
		INSERT INTO recipients (id, owner_id, actor_url, endpoint, display_name, active, subscribed_at, updated_at)
		VALUES (:id, :owner_id, :actor_url, :endpoint, :display_name, :active, :subscribed_at, :updated_at)
		ON CONFLICT(owner_id, actor_url) DO UPDATE SET
			endpoint = excluded.endpoint,
			display_name = excluded.display_name,
			active = excluded.active,
			updated_at = excluded.updated_at
		RETURNING id`, r)
	if err != nil {
		return wrap("upsert recipient", err)
	}
	return wrap("upsert recipient", s.db.GetContext(ctx, &r.ID, query, args...))
}

// ListActiveRecipients returns the current fan-out list of owner in subscription order.
func (s *Store) ListActiveRecipients(ctx context.Context, owner models.OwnerID) ([]models.Recipient, error) {
	recipients := []models.Recipient{}
	err := s.db.SelectContext(ctx, &recipients,
		"SELECT * FROM recipients WHERE owner_id = ? AND active = 1 ORDER BY subscribed_at ASC, id ASC", owner)
	return recipients, wrap("list active recipients", err)
}

// DeactivateRecipient removes actorURL from owner's fan-out list without deleting the row.
func (s *Store) DeactivateRecipient(ctx context.Context, owner models.OwnerID, actorURL string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE recipients SET active = 0, updated_at = ? WHERE owner_id = ? AND actor_url = ?",
		time.Now().UTC(), owner, actorURL)
	if err != nil {
		return wrap("deactivate recipient", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("deactivate recipient", sql.ErrNoRows)
	}
	return nil
}
