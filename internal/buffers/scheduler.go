package buffers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/paigeai/paige/internal/observability"
)

// SessionFunc reports the session the scheduler should attribute summaries
// to. ok is false when no session is active; the tick is then a no-op.
type SessionFunc func() (sessionID int64, ok bool)

// Scheduler flushes buffer summaries on a fixed interval using a cron
// runner. One scheduler runs per process, started with the server.
type Scheduler struct {
	cache   *Cache
	session SessionFunc
	logger  *observability.Logger

	runner *cron.Cron
}

// NewScheduler creates a summary scheduler over the cache. session tells it
// which session to log against on each tick.
func NewScheduler(cache *Cache, session SessionFunc, logger *observability.Logger) *Scheduler {
	return &Scheduler{
		cache:   cache,
		session: session,
		logger:  logger,
		runner:  cron.New(),
	}
}

// Start schedules the summary flush at the given interval and begins
// running it in the background.
func (s *Scheduler) Start(interval time.Duration) error {
	spec := fmt.Sprintf("@every %s", interval)
	_, err := s.runner.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("schedule buffer summaries: %w", err)
	}
	s.runner.Start()
	return nil
}

// Stop halts the scheduler and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	<-s.runner.Stop().Done()
}

func (s *Scheduler) tick() {
	sessionID, ok := s.session()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.cache.FlushSummaries(ctx, sessionID); err != nil {
		s.logger.Warn(ctx, "buffer summary flush failed", "error", err)
	}
}
