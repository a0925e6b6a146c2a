// Package ingest turns normalized feed items into owned draft posts,
// skipping items already stored for the same owner.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
)

// Ingester is the Deduplicating Ingest.
type Ingester struct {
	posts storage.PostRepository
	now   func() time.Time
}

// New creates an Ingester.
func New(posts storage.PostRepository) *Ingester {
	return &Ingester{posts: posts, now: time.Now}
}

// Ingest stores every item whose (owner, external id) is unseen as a draft
// and returns the new posts in item order. Re-running it with the same
// items creates nothing.
func (i *Ingester) Ingest(ctx context.Context, src models.Source, items []models.Item) ([]models.Post, error) {
	logger := log.With().Str("source_id", string(src.ID)).Str("owner", string(src.OwnerID)).Logger()

	var created []models.Post
	duplicates := 0
	for _, item := range items {
		_, err := i.posts.FindPost(ctx, src.OwnerID, item.ExternalID)
		if err == nil {
			duplicates++
			continue
		}
		if !storage.IsNotFound(err) {
			return created, err
		}

		post := models.NewDraftPost(src, item, i.now().UTC())
		inserted, err := i.posts.CreatePost(ctx, post)
		if err != nil {
			return created, err
		}
		if !inserted {
			// Another source of the same owner stored it between lookup and insert.
			duplicates++
			continue
		}
		created = append(created, *post)
		logger.Debug().Str("post_id", string(post.ID)).Str("external_id", post.ExternalID).Msg("Draft created")
	}

	logger.Info().Int("items", len(items)).Int("created", len(created)).Int("duplicates", duplicates).Msg("Items ingested")
	return created, nil
}
