package importer

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/config"
	"fedifeed/relay/internal/directory"
	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/scheduler"
	"fedifeed/relay/internal/signing"
)

// ApplyConfig upserts every owner of cfg together with its sources and
// recipients. Rows that are not mentioned in cfg are left untouched.
func (i *Importer) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	dir := directory.New(i.store)

	for _, oc := range cfg.Owners {
		owner, err := ownerFromConfig(oc)
		if err != nil {
			return err
		}
		if err := i.store.UpsertOwner(ctx, owner); err != nil {
			return fmt.Errorf("seed owner %s: %w", oc.Username, err)
		}

		for _, sc := range oc.Sources {
			src := models.NewSource(owner.ID, sc.URL)
			if sc.Title != "" {
				src.Title = sc.Title
			}
			src.Description = sql.NullString{String: sc.Description, Valid: sc.Description != ""}
			if sc.Schedule != "" {
				if _, err := scheduler.ParseSchedule(sc.Schedule); err != nil {
					return fmt.Errorf("seed source %s: %w", sc.URL, err)
				}
				src.Schedule = sc.Schedule
			}
			src.AutoDeliver = boolOr(sc.AutoDeliver, true)
			src.Active = boolOr(sc.Active, true)

			if err := i.store.UpsertSource(ctx, src); err != nil {
				return fmt.Errorf("seed source %s: %w", sc.URL, err)
			}
		}

		for _, rc := range oc.Recipients {
			if _, err := dir.Subscribe(ctx, owner.ID, rc.Actor, rc.Inbox, rc.Name); err != nil {
				return fmt.Errorf("seed recipient %s: %w", rc.Inbox, err)
			}
		}

		log.Info().
			Str("owner", owner.Username).
			Int("sources", len(oc.Sources)).
			Int("recipients", len(oc.Recipients)).
			Bool("signing_key", owner.PrivateKeyPEM.Valid).
			Msg("Owner seeded from config")
	}
	return nil
}

func ownerFromConfig(oc config.OwnerConfig) (*models.Owner, error) {
	owner := models.NewOwner(oc.Username)
	if oc.DisplayName != "" {
		owner.DisplayName = oc.DisplayName
	}
	owner.Summary = sql.NullString{String: oc.Summary, Valid: oc.Summary != ""}
	owner.Active = !oc.Inactive

	if oc.PrivateKeyFile != "" {
		priv, err := signing.LoadKeyFile(oc.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("owner %s: %w", oc.Username, err)
		}
		owner.PrivateKeyPEM = sql.NullString{String: priv, Valid: true}
	}

	switch {
	case oc.PublicKeyFile != "":
		pub, err := os.ReadFile(oc.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("owner %s: read public key: %w", oc.Username, err)
		}
		owner.PublicKeyPEM = sql.NullString{String: string(pub), Valid: true}
	case owner.PrivateKeyPEM.Valid:
		pub, err := signing.PublicKeyPEM(owner.PrivateKeyPEM.String)
		if err != nil {
			return nil, fmt.Errorf("owner %s: %w", oc.Username, err)
		}
		owner.PublicKeyPEM = sql.NullString{String: pub, Valid: true}
	}
	return owner, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
