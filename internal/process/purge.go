package process

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/storage"
)

// PurgeOldAttempts removes delivery log rows older than retentionDays.
// Posts are kept forever because they carry the dedup keys.
func PurgeOldAttempts(ctx context.Context, repo storage.AttemptRepository, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := repo.PurgeAttempts(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge delivery attempts: %w", err)
	}

	log.Info().
		Time("cutoff", cutoff).
		Int("retention_days", retentionDays).
		Int64("rows_affected", n).
		Msg("Purged old delivery attempts")
	return n, nil
}
