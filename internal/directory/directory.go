// Package directory owns the per-owner fan-out list of delivery endpoints.
package directory

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
)

// Directory is the Recipient Directory.
type Directory struct {
	repo storage.RecipientRepository
}

// New creates a Directory.
func New(repo storage.RecipientRepository) *Directory {
	return &Directory{repo: repo}
}

// Active returns the endpoints currently subscribed to owner.
func (d *Directory) Active(ctx context.Context, owner models.OwnerID) ([]models.Recipient, error) {
	return d.repo.ListActiveRecipients(ctx, owner)
}

// Subscribe records an accepted subscription. Re-subscribing an existing
// actor reactivates it and refreshes its endpoint.
func (d *Directory) Subscribe(ctx context.Context, owner models.OwnerID, actorURL, endpoint, displayName string) (*models.Recipient, error) {
	if err := validEndpoint(endpoint); err != nil {
		return nil, err
	}
	r := models.NewRecipient(owner, actorURL, endpoint)
	r.DisplayName = sql.NullString{String: displayName, Valid: displayName != ""}
	if err := d.repo.UpsertRecipient(ctx, r); err != nil {
		return nil, err
	}
	log.Info().Str("owner", string(owner)).Str("recipient", r.ActorURL).Str("endpoint", r.Endpoint).Msg("Recipient subscribed")
	return r, nil
}

// Unsubscribe deactivates a recipient; the row is kept.
func (d *Directory) Unsubscribe(ctx context.Context, owner models.OwnerID, actorURL string) error {
	if err := d.repo.DeactivateRecipient(ctx, owner, actorURL); err != nil {
		return err
	}
	log.Info().Str("owner", string(owner)).Str("recipient", actorURL).Msg("Recipient deactivated")
	return nil
}

func validEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: want an absolute http(s) URL", endpoint)
	}
	return nil
}
