// Package delivery fans one post out to every active recipient of its owner
// and finalizes the post's status.
package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/activity"
	"fedifeed/relay/internal/metrics"
	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
)

// ErrNoCredential means the owner cannot sign deliveries.
var ErrNoCredential = errors.New("owner has no signing credential")

// BuildError means no outbound document could be built for a post.
// The post is marked failed.
type BuildError struct {
	PostID models.PostID
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build activity for post %s: %v", e.PostID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// RecipientError is a failed send to one recipient. It is logged and
// recorded but never changes the post's outcome.
type RecipientError struct {
	RecipientID models.RecipientID
	Endpoint    string
	Err         error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Endpoint, e.Err)
}

func (e *RecipientError) Unwrap() error { return e.Err }

// DocumentBuilder renders the outbound activity for a post.
type DocumentBuilder interface {
	BuildActivityDocument(post models.Post, owner models.Owner) (activity.Document, error)
}

// CredentialLookup reports whether an owner can sign deliveries.
type CredentialLookup interface {
	HasSigningCredential(owner models.Owner) bool
}

// RecipientLister returns an owner's active fan-out list.
type RecipientLister interface {
	Active(ctx context.Context, owner models.OwnerID) ([]models.Recipient, error)
}

// Outcome summarizes one Deliver call.
type Outcome struct {
	PostID      models.PostID
	Status      models.PostStatus
	PublishedAt *time.Time
	Attempted   int
	Delivered   int
	Failed      int
	// BuildErr is set when the post was marked failed.
	BuildErr error
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Recipients  RecipientLister
	Posts       storage.PostRepository
	Attempts    storage.AttemptRepository
	Builder     DocumentBuilder
	Credentials CredentialLookup
	Transport   Transport
	Metrics     *metrics.Metrics
}

// Dispatcher is the Delivery Dispatcher.
type Dispatcher struct {
	Deps
	now func() time.Time
}

// NewDispatcher creates a Dispatcher. A nil Metrics gets a private registry.
func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewUnregistered()
	}
	return &Dispatcher{Deps: deps, now: time.Now}
}

// Deliver sends post to every active recipient of owner, then marks it
// published, whatever the individual results. With no recipients the post
// stays a draft. If the document cannot be built the post is marked failed.
// Only storage failures are returned as errors.
func (d *Dispatcher) Deliver(ctx context.Context, post models.Post, owner models.Owner) (Outcome, error) {
	out := Outcome{PostID: post.ID, Status: post.Status}
	if post.Status != models.PostDraft {
		return out, &storage.Error{Op: "deliver", Err: storage.ErrNotDraft}
	}
	logger := log.With().Str("post_id", string(post.ID)).Str("owner", owner.Username).Logger()

	recipients, err := d.Recipients.Active(ctx, owner.ID)
	if err != nil {
		return out, err
	}
	if len(recipients) == 0 {
		logger.Debug().Msg("No active recipients, post stays draft")
		return out, nil
	}

	doc, err := d.build(post, owner)
	if err != nil {
		if terr := d.Posts.TransitionPost(ctx, post.ID, models.PostFailed, d.now()); terr != nil {
			return out, terr
		}
		d.Metrics.PostTransitions.WithLabelValues(string(models.PostFailed)).Inc()
		logger.Warn().Err(err).Msg("Post marked failed")
		out.Status = models.PostFailed
		out.BuildErr = err
		return out, nil
	}

	for _, r := range recipients {
		out.Attempted++
		sendErr := d.Transport.Send(ctx, r.Endpoint, doc)

		attempt := &models.DeliveryAttempt{
			PostID:      post.ID,
			RecipientID: r.ID,
			Endpoint:    r.Endpoint,
			Status:      models.AttemptDelivered,
			AttemptedAt: d.now().UTC(),
		}
		if sendErr != nil {
			rerr := &RecipientError{RecipientID: r.ID, Endpoint: r.Endpoint, Err: sendErr}
			attempt.Status = models.AttemptFailed
			attempt.Error = sql.NullString{String: rerr.Error(), Valid: true}
			out.Failed++
			logger.Warn().Err(rerr).Str("recipient", r.ActorURL).Msg("Delivery failed")
		} else {
			out.Delivered++
			logger.Debug().Str("recipient", r.ActorURL).Msg("Delivered")
		}
		d.Metrics.DeliveryAttempts.WithLabelValues(string(attempt.Status)).Inc()

		if err := d.Attempts.RecordAttempt(ctx, attempt); err != nil {
			logger.Warn().Err(err).Str("recipient", r.ActorURL).Msg("Failed to record delivery attempt")
		}
	}

	publishedAt := d.now().UTC()
	if err := d.Posts.TransitionPost(ctx, post.ID, models.PostPublished, publishedAt); err != nil {
		return out, err
	}
	d.Metrics.PostTransitions.WithLabelValues(string(models.PostPublished)).Inc()
	out.Status = models.PostPublished
	out.PublishedAt = &publishedAt

	logger.Info().
		Int("recipients", out.Attempted).
		Int("delivered", out.Delivered).
		Int("failed", out.Failed).
		Msg("Post published")
	return out, nil
}

func (d *Dispatcher) build(post models.Post, owner models.Owner) (activity.Document, error) {
	if !d.Credentials.HasSigningCredential(owner) {
		return nil, &BuildError{PostID: post.ID, Err: ErrNoCredential}
	}
	doc, err := d.Builder.BuildActivityDocument(post, owner)
	if err != nil {
		return nil, &BuildError{PostID: post.ID, Err: err}
	}
	return doc, nil
}
