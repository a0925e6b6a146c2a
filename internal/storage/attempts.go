package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"fedifeed/relay/internal/models"
)

// RecordAttempt appends one delivery outcome to the log. a.ID is set on success.
func (s *Store) RecordAttempt(ctx context.Context, a *models.DeliveryAttempt) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO delivery_attempts (post_id, recipient_id, endpoint, status, error, attempted_at)
		VALUES (:post_id, :recipient_id, :endpoint, :status, :error, :attempted_at)`, a)
	if err != nil {
		return wrap("record attempt", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap("record attempt", err)
	}
	a.ID = id
	return nil
}

// ListAttempts pages through the delivery log in (attempted_at, id) order.
// Either since or the cursor pair must be given.
func (s *Store) ListAttempts(ctx context.Context, limit int, since *time.Time, cursorTime *time.Time, cursorID *int64) ([]models.DeliveryAttempt, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("*").From("delivery_attempts")

	switch {
	case cursorTime != nil && cursorID != nil:
		ts := cursorTime.UTC()
		sb.Where(sb.Or(
			sb.GreaterThan("attempted_at", ts),
			sb.And(sb.Equal("attempted_at", ts), sb.GreaterThan("id", *cursorID)),
		))
	case since != nil:
		sb.Where(sb.GreaterThan("attempted_at", since.UTC()))
	default:
		return nil, &Error{Op: "list attempts", Err: fmt.Errorf("either since or cursor must be provided")}
	}
	sb.OrderBy("attempted_at", "id").Asc().Limit(limit)
	query, args := sb.Build()

	attempts := []models.DeliveryAttempt{}
	if err := s.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, wrap("list attempts", err)
	}
	return attempts, nil
}

// PurgeAttempts deletes log rows older than before.
func (s *Store) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM delivery_attempts WHERE attempted_at < ?", before.UTC())
	if err != nil {
		return 0, wrap("purge attempts", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("purge attempts", err)
}
