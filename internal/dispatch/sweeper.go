package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"transcription/internal/domain"
)

// Sweeper deletes submission inputs and results past the retention window.
// It does not look at job state.
type Sweeper struct {
	artifacts     domain.ArtifactStore
	collections   []string
	retentionDays int
	logger        zerolog.Logger
}

func NewSweeper(artifacts domain.ArtifactStore, retentionDays int, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		artifacts:     artifacts,
		collections:   []string{domain.CollectionSubmissions, domain.CollectionTranscripts},
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "cleanup").Logger(),
	}
}

func (s *Sweeper) Name() string { return "cleanup" }

// Run sweeps every collection once and logs the outcome.
func (s *Sweeper) Run(ctx context.Context) {
	removed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("cleanup: sweep failed")
	}
	for collection, n := range removed {
		s.logger.Info().Str("collection", collection).Int("removed", n).Int("retention_days", s.retentionDays).Msg("cleanup: artifacts removed")
	}
}

// Sweep deletes expired artifacts and returns the number removed per
// collection. A failing collection does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) (map[string]int, error) {
	removed := make(map[string]int, len(s.collections))
	var errs []error
	for _, c := range s.collections {
		n, err := s.artifacts.DeleteOlderThan(ctx, c, s.retentionDays)
		removed[c] = n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	return removed, errors.Join(errs...)
}
