package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"fedifeed/relay/internal/models"
)

const insertSource = `
	INSERT INTO sources (id, owner_id, url, title, description, active, schedule, auto_deliver, created_at, updated_at)
	VALUES (:id, :owner_id, :url, :title, :description, :active, :schedule, :auto_deliver, :created_at, :updated_at)`

// CreateSource inserts a new source. A second source with the same owner and URL fails with ErrDuplicate.
func (s *Store) CreateSource(ctx context.Context, src *models.Source) error {
	_, err := s.db.NamedExecContext(ctx, insertSource, src)
	return wrap("create source", err)
}

// UpsertSource inserts src or updates the configuration fields of the existing
// (owner, url) row. Health fields are never touched; src.ID is set to the stored id.
func (s *Store) UpsertSource(ctx context.Context, src *models.Source) error {
	query, args, err := s.db.BindNamed(insertSource+`
		ON CONFLICT(owner_id, url) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			active = excluded.active,
			schedule = excluded.schedule,
			auto_deliver = excluded.auto_deliver,
			updated_at = excluded.updated_at
		RETURNING id`, src)
	if err != nil {
		return wrap("upsert source", err)
	}
	return wrap("upsert source", s.db.GetContext(ctx, &src.ID, query, args...))
}

// GetSource returns the source with the given id.
func (s *Store) GetSource(ctx context.Context, id models.SourceID) (*models.Source, error) {
	var src models.Source
	if err := s.db.GetContext(ctx, &src, "SELECT * FROM sources WHERE id = ?", id); err != nil {
		return nil, wrap("get source", err)
	}
	return &src, nil
}

// ListSources returns all sources, active or not.
func (s *Store) ListSources(ctx context.Context) ([]models.Source, error) {
	sources := []models.Source{}
	err := s.db.SelectContext(ctx, &sources, "SELECT * FROM sources ORDER BY created_at ASC, id ASC")
	return sources, wrap("list sources", err)
}

// ListActiveSources returns sources eligible for polling.
func (s *Store) ListActiveSources(ctx context.Context) ([]models.Source, error) {
	sources := []models.Source{}
	err := s.db.SelectContext(ctx, &sources, "SELECT * FROM sources WHERE active = 1 ORDER BY created_at ASC, id ASC")
	return sources, wrap("list active sources", err)
}

// UpdateSourceHealth records the outcome of a fetch attempt. Only
// last_fetched_at and last_fetch_error change.
func (s *Store) UpdateSourceHealth(ctx context.Context, id models.SourceID, fetchedAt time.Time, fetchErr sql.NullString) error {
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("sources").
		Set(
			ub.Assign("last_fetched_at", fetchedAt.UTC()),
			ub.Assign("last_fetch_error", fetchErr),
		).
		Where(ub.Equal("id", id))
	query, args := ub.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrap("update source health", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("update source health", sql.ErrNoRows)
	}
	return nil
}
