package worker

import (
	"context"
	"errors"
	"sync"

	"storefront/internal/util"

	"go.uber.org/zap"
)

// Worker is a background consumer. Start blocks until ctx is cancelled or
// Stop is called.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

// Group starts workers in their own goroutines and stops them together.
type Group struct {
	workers []Worker
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewGroup creates a worker group
func NewGroup(logger *zap.Logger, workers ...Worker) *Group {
	return &Group{workers: workers, logger: util.LoggerOrDefault(logger)}
}

// Start launches every worker
func (g *Group) Start(ctx context.Context) {
	for _, w := range g.workers {
		w := w
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				g.logger.Error("Worker stopped with error", zap.Error(err))
			}
		}()
	}
}

// Stop stops every worker and waits for them to return
func (g *Group) Stop() {
	for _, w := range g.workers {
		if err := w.Stop(); err != nil {
			g.logger.Error("Failed to stop worker", zap.Error(err))
		}
	}
	g.wg.Wait()
}

// stopper is the Stop half shared by the workers in this package
type stopper struct {
	once *sync.Once
	done chan struct{}
}

func newStopper() stopper {
	return stopper{once: &sync.Once{}, done: make(chan struct{})}
}

func (s *stopper) stop() {
	s.once.Do(func() { close(s.done) })
}

// wait blocks until ctx is cancelled or stop is called
func (s *stopper) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}
