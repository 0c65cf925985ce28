package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// saga records an undo step for every completed forward step.
type saga struct {
	tenant string
	steps  []compensation
}

func newSaga(tenant string) *saga {
	return &saga{tenant: tenant}
}

func (s *saga) onRollback(name string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{name: name, undo: undo})
}

// rollback runs the recorded undo steps newest first. Every step runs even if
// an earlier one fails; the failures are combined.
func (s *saga) rollback(ctx context.Context) error {
	var errs error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			log.Error().Err(err).Str("tenant", s.tenant).Str("step", step.name).Msg("Compensation step failed")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		log.Info().Str("tenant", s.tenant).Str("step", step.name).Msg("Compensation step completed")
	}
	s.steps = nil
	return errs
}
