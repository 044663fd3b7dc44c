package service

import (
	"context"
	"fmt"
	"time"
)

// PruneHistory deletes price samples older than the retention horizon.
// Running it again without new samples deletes nothing further.
func (s *Service) PruneHistory(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.retentionHorizon)

	deleted, err := s.history.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune price history: %w", err)
	}

	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned price history")
	}
	return nil
}
