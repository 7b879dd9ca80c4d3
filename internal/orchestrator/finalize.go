package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/openforge/mergebot/internal/domain"
)

// FinalizeStep is a single step of the finalize sequence. Probe reports
// whether the step's effect is already observable on the live pull
// request or target branch, which is how an interrupted attempt resumes:
// no local state survives a crash, so completion is always re-detected
// from the outside world.
type FinalizeStep struct {
	Name string
	// Probe returns true when the step already happened. A nil Probe
	// means the step is not detectable and always re-executes; such steps
	// must be idempotent.
	Probe func(ctx context.Context) (bool, error)
	// Execute performs the step. Transient failures are retried with
	// exponential backoff before the whole attempt is abandoned to the
	// next poll cycle.
	Execute func(ctx context.Context) error
}

// Finalizer runs the ordered finalize sequence for one integration
// attempt. Every effect lands on the forge or the target repository, so
// a crash at any point leaves a state the next cycle can pick up.
type Finalizer struct {
	steps []FinalizeStep
	log   *zap.Logger
}

func NewFinalizer(log *zap.Logger) *Finalizer {
	return &Finalizer{log: log}
}

// AddStep appends a step to the sequence.
func (f *Finalizer) AddStep(step FinalizeStep) {
	f.steps = append(f.steps, step)
}

// Run executes the sequence in order, skipping steps whose effects are
// already observable.
func (f *Finalizer) Run(ctx context.Context) error {
	for _, step := range f.steps {
		if step.Probe != nil {
			done, err := step.Probe(ctx)
			if err != nil {
				return fmt.Errorf("probe for step '%s' failed: %w", step.Name, err)
			}
			if done {
				f.log.Info("resuming past completed step", zap.String("step", step.Name))
				continue
			}
		}
		if err := f.executeStep(ctx, step); err != nil {
			return fmt.Errorf("step '%s' failed: %w", step.Name, err)
		}
	}
	return nil
}

func (f *Finalizer) executeStep(ctx context.Context, step FinalizeStep) error {
	f.log.Debug("executing step", zap.String("step", step.Name))
	retryStrategy := retry.WithMaxRetries(DefaultRetryCount, retry.NewExponential(DefaultRetryDelay))
	return retry.Do(ctx, retryStrategy, func(retryCtx context.Context) error {
		select {
		case <-retryCtx.Done():
			return retryCtx.Err()
		default:
		}
		if err := step.Execute(retryCtx); err != nil {
			// An integrity violation signals a competing writer; a user
			// error needs corrected input. Neither heals by retrying.
			if errors.Is(err, domain.ErrIntegrityViolation) || domain.IsUserError(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}
