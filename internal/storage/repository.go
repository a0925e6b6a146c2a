package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"fedifeed/relay/internal/database"
	"fedifeed/relay/internal/models"
)

var (
	// ErrNotFound is returned when a lookup by key matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique key.
	ErrDuplicate = errors.New("duplicate")
	// ErrNotDraft is returned when a status transition targets a post that already left draft.
	ErrNotDraft = errors.New("post is not a draft")
)

// Error is a failure of the underlying store. It always wraps the cause,
// which may be one of the sentinels above.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Op: op, Err: ErrNotFound}
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && (sqErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrDuplicate, err)}
	}
	return &Error{Op: op, Err: err}
}

// SourceRepository persists feed subscriptions and their fetch health.
type SourceRepository interface {
	CreateSource(ctx context.Context, src *models.Source) error
	UpsertSource(ctx context.Context, src *models.Source) error
	GetSource(ctx context.Context, id models.SourceID) (*models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	ListActiveSources(ctx context.Context) ([]models.Source, error)
	UpdateSourceHealth(ctx context.Context, id models.SourceID, fetchedAt time.Time, fetchErr sql.NullString) error
}

// PostRepository persists ingested posts keyed by (owner, external id).
type PostRepository interface {
	FindPost(ctx context.Context, owner models.OwnerID, externalID string) (*models.Post, error)
	GetPost(ctx context.Context, id models.PostID) (*models.Post, error)
	CreatePost(ctx context.Context, post *models.Post) (bool, error)
	ListDrafts(ctx context.Context, source models.SourceID) ([]models.Post, error)
	TransitionPost(ctx context.Context, id models.PostID, to models.PostStatus, at time.Time) error
}

// RecipientRepository persists the per-owner fan-out list.
type RecipientRepository interface {
	UpsertRecipient(ctx context.Context, r *models.Recipient) error
	ListActiveRecipients(ctx context.Context, owner models.OwnerID) ([]models.Recipient, error)
	DeactivateRecipient(ctx context.Context, owner models.OwnerID, actorURL string) error
}

// OwnerRepository persists the accounts that own sources, posts and recipients.
type OwnerRepository interface {
	UpsertOwner(ctx context.Context, o *models.Owner) error
	GetOwner(ctx context.Context, id models.OwnerID) (*models.Owner, error)
	GetOwnerByUsername(ctx context.Context, username string) (*models.Owner, error)
}

// AttemptRepository persists the per-recipient delivery log.
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, a *models.DeliveryAttempt) error
	ListAttempts(ctx context.Context, limit int, since *time.Time, cursorTime *time.Time, cursorID *int64) ([]models.DeliveryAttempt, error)
	PurgeAttempts(ctx context.Context, before time.Time) (int64, error)
}

// Store implements every repository over a single SQLite database.
type Store struct {
	db *database.DB
}

var (
	_ SourceRepository    = (*Store)(nil)
	_ PostRepository      = (*Store)(nil)
	_ RecipientRepository = (*Store)(nil)
	_ OwnerRepository     = (*Store)(nil)
	_ AttemptRepository   = (*Store)(nil)
)

// NewStore creates a new Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}
