package jobs

import (
	"context"
	"sync"

	"stockledger/internal/core/id"
	"stockledger/pkg/logger"
)

// Inline runs scheduled work in-process. It serves the memory driver, where
// no Redis queue is available. Work always runs after the caller returns, so
// enqueue never fails.
type Inline struct {
	Reposts  RepostRunner
	Closings ClosingProcessor

	// Sync runs work on the calling goroutine. Tests use it for determinism.
	Sync bool

	wg sync.WaitGroup
}

// EnqueueRepost runs a repost job.
func (s *Inline) EnqueueRepost(ctx context.Context, jobID id.ID) error {
	s.run(ctx, func(ctx context.Context) error { return s.Reposts.Run(ctx, jobID) },
		"task", TaskRepostRun, "job_id", jobID.String())
	return nil
}

// EnqueueClosing generates a closing.
func (s *Inline) EnqueueClosing(ctx context.Context, closingID id.ID) error {
	s.run(ctx, func(ctx context.Context) error { return s.Closings.Process(ctx, closingID) },
		"task", TaskClosingProcess, "closing_id", closingID.String())
	return nil
}

func (s *Inline) run(ctx context.Context, fn func(context.Context) error, kv ...any) {
	ctx = logger.WithFields(context.WithoutCancel(ctx), kv...)
	exec := func() {
		if err := fn(ctx); err != nil {
			logger.Error(ctx, "inline task failed", "error", err)
		}
	}
	if s.Sync {
		exec()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		exec()
	}()
}

// Wait blocks until all started work has finished.
func (s *Inline) Wait() {
	s.wg.Wait()
}
