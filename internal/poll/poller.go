package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openforge/mergebot/internal/domain"
	"github.com/openforge/mergebot/internal/orchestrator"
	"github.com/openforge/mergebot/internal/repository"
)

// Poller drives the integration machine: each cycle lists the open pull
// requests and fans them out to a bounded worker pool. It is the
// outermost error boundary - a failed item is logged and retried on the
// next cycle, never crashing the loop. The single exception is an
// integrity violation, which signals a competing writer and aborts the
// whole process loudly.
type Poller struct {
	Forge    repository.Forge
	Machine  *orchestrator.Machine
	Interval time.Duration
	Workers  int
	Log      *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// Run polls until the context is canceled or an integrity violation
// aborts the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.inFlight = make(map[string]bool)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		if err := p.cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Once runs a single cycle, used by the check command.
func (p *Poller) Once(ctx context.Context) error {
	p.inFlight = make(map[string]bool)
	return p.cycle(ctx)
}

func (p *Poller) cycle(ctx context.Context) error {
	ids, err := p.Forge.ListOpen(ctx)
	if err != nil {
		p.Log.Error("failed to list open pull requests", zap.Error(err))
		return nil
	}

	work := make(chan string)
	errCh := make(chan error, len(ids))
	var wg sync.WaitGroup
	for range p.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				errCh <- p.processOne(ctx, id)
			}
		}()
	}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return ctx.Err()
		case work <- id:
		}
	}
	close(work)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if errors.Is(err, domain.ErrIntegrityViolation) {
			p.Log.Error("integrity violation detected, aborting", zap.Error(err))
			return err
		}
	}
	return nil
}

// processOne guards against the same pull request being handled by two
// overlapping cycles.
func (p *Poller) processOne(ctx context.Context, id string) error {
	p.mu.Lock()
	if p.inFlight[id] {
		p.mu.Unlock()
		return nil
	}
	p.inFlight[id] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, id)
		p.mu.Unlock()
	}()

	err := p.Machine.Process(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrIntegrityViolation) {
		// Transient infrastructure failure: state is re-derived next
		// cycle, so logging is the whole recovery story.
		p.Log.Error("failed to process pull request", zap.String("pr", id), zap.Error(err))
		return nil
	}
	return err
}
