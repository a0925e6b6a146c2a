// Package registry owns the set of pollable sources and their fetch health.
package registry

import (
	"context"
	"database/sql"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
)

// maxErrorLength bounds the stored health message.
const maxErrorLength = 1024

// Registry is the Source Registry.
type Registry struct {
	repo storage.SourceRepository
	now  func() time.Time
}

// New creates a Registry over repo.
func New(repo storage.SourceRepository) *Registry {
	return &Registry{repo: repo, now: time.Now}
}

// ListActive returns every source eligible for polling.
func (r *Registry) ListActive(ctx context.Context) ([]models.Source, error) {
	return r.repo.ListActiveSources(ctx)
}

// List returns every source with its health fields.
func (r *Registry) List(ctx context.Context) ([]models.Source, error) {
	return r.repo.ListSources(ctx)
}

// Get returns one source.
func (r *Registry) Get(ctx context.Context, id models.SourceID) (*models.Source, error) {
	return r.repo.GetSource(ctx, id)
}

// RecordFetchOutcome stamps the last fetch time and sets the error message
// from fetchErr, clearing it when fetchErr is nil.
func (r *Registry) RecordFetchOutcome(ctx context.Context, id models.SourceID, fetchErr error) error {
	msg := sql.NullString{}
	if fetchErr != nil {
		msg = sql.NullString{String: truncate(fetchErr.Error(), maxErrorLength), Valid: true}
	}
	if err := r.repo.UpdateSourceHealth(ctx, id, r.now(), msg); err != nil {
		log.Error().Err(err).Str("source_id", string(id)).Msg("Failed to record fetch outcome")
		return err
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
