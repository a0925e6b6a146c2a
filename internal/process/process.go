// Package process runs the pipeline for a single source:
// fetch, ingest, then deliver the resulting drafts.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"fedifeed/relay/internal/delivery"
	"fedifeed/relay/internal/metrics"
	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
)

// ItemFetcher retrieves normalized items from a feed address.
type ItemFetcher interface {
	Fetch(ctx context.Context, address string) ([]models.Item, error)
}

// Ingester stores unseen items as drafts.
type Ingester interface {
	Ingest(ctx context.Context, src models.Source, items []models.Item) ([]models.Post, error)
}

// Deliverer fans a draft out to its owner's recipients.
type Deliverer interface {
	Deliver(ctx context.Context, post models.Post, owner models.Owner) (delivery.Outcome, error)
}

// Stats are cumulative counters since the Processor was created.
type Stats struct {
	Runs      int64
	Failures  int64
	Created   int64
	Published int64
	Failed    int64
}

// SourceProcessor executes one source run.
type SourceProcessor struct {
	fetcher   ItemFetcher
	ingester  Ingester
	deliverer Deliverer
	owners    storage.OwnerRepository
	posts     storage.PostRepository
	metrics   *metrics.Metrics

	runs      atomic.Int64
	failures  atomic.Int64
	created   atomic.Int64
	published atomic.Int64
	failed    atomic.Int64
}

// NewSourceProcessor wires a SourceProcessor. A nil m gets a private registry.
func NewSourceProcessor(fetcher ItemFetcher, ingester Ingester, deliverer Deliverer,
	owners storage.OwnerRepository, posts storage.PostRepository, m *metrics.Metrics) *SourceProcessor {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &SourceProcessor{
		fetcher:   fetcher,
		ingester:  ingester,
		deliverer: deliverer,
		owners:    owners,
		posts:     posts,
		metrics:   m,
	}
}

// Run fetches src, ingests new items and, when src auto-delivers, dispatches
// the new drafts followed by older drafts of the same source. The first
// fetch, ingest or storage error aborts the run and is returned.
func (p *SourceProcessor) Run(ctx context.Context, src models.Source) error {
	start := time.Now()
	p.runs.Add(1)

	err := p.run(ctx, src)

	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.failures.Add(1)
		p.metrics.FetchOutcomes.WithLabelValues("error").Inc()
		return err
	}
	p.metrics.FetchOutcomes.WithLabelValues("success").Inc()
	return nil
}

func (p *SourceProcessor) run(ctx context.Context, src models.Source) error {
	logger := log.With().Str("source_id", string(src.ID)).Str("url", src.URL).Logger()

	items, err := p.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return err
	}

	created, err := p.ingester.Ingest(ctx, src, items)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	p.created.Add(int64(len(created)))
	p.metrics.PostsIngested.Add(float64(len(created)))

	if !src.AutoDeliver {
		logger.Debug().Int("drafts", len(created)).Msg("Auto-delivery disabled, leaving drafts")
		return nil
	}

	owner, err := p.owners.GetOwner(ctx, src.OwnerID)
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	if !owner.Active {
		logger.Debug().Str("owner", owner.Username).Msg("Owner inactive, leaving drafts")
		return nil
	}

	pending, err := p.pending(ctx, src, created)
	if err != nil {
		return err
	}

	for _, post := range pending {
		out, err := p.deliverer.Deliver(ctx, post, *owner)
		if errors.Is(err, storage.ErrNotDraft) {
			logger.Debug().Str("post_id", string(post.ID)).Msg("Post already finalized, skipping")
			continue
		}
		if err != nil {
			return fmt.Errorf("deliver post %s: %w", post.ID, err)
		}

		switch out.Status {
		case models.PostPublished:
			p.published.Add(1)
		case models.PostFailed:
			p.failed.Add(1)
		case models.PostDraft:
			// No recipients: every remaining draft would stay a draft too.
			logger.Debug().Int("pending", len(pending)).Msg("No recipients, drafts kept for a later run")
			return nil
		}
	}
	return nil
}

// pending returns the drafts to dispatch: the newly created ones in feed
// order, then drafts left over from earlier runs, oldest first.
func (p *SourceProcessor) pending(ctx context.Context, src models.Source, created []models.Post) ([]models.Post, error) {
	fresh := lo.Filter(created, func(post models.Post, _ int) bool {
		return post.Status == models.PostDraft
	})

	drafts, err := p.posts.ListDrafts(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	freshIDs := lo.Map(fresh, func(post models.Post, _ int) models.PostID { return post.ID })
	backlog := lo.Filter(drafts, func(post models.Post, _ int) bool {
		return !lo.Contains(freshIDs, post.ID)
	})

	return append(fresh, backlog...), nil
}

// Stats returns the cumulative counters.
func (p *SourceProcessor) Stats() Stats {
	return Stats{
		Runs:      p.runs.Load(),
		Failures:  p.failures.Load(),
		Created:   p.created.Load(),
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}
