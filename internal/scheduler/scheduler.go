package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/analyzer"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/config"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/snapshot"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/tokens"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/withings"
)

const syncTimeout = 5 * time.Minute

// Scheduler runs the daily measurement sync on a cron schedule
type Scheduler struct {
	store        storage.Store
	tokenManager *tokens.Manager
	normalizer   *snapshot.Normalizer
	analyzer     *analyzer.Analyzer
	loc          *time.Location
	schedule     cron.Schedule

	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	nextRun  time.Time
}

// NewScheduler creates a scheduler for the configured sync schedule.
// The schedule expression is validated here so a bad config fails at startup.
// Background syncs always use a lenient normalizer: a provider outage
// should skip a cycle, not wedge the loop.
func NewScheduler(
	store storage.Store,
	tokenManager *tokens.Manager,
	api *withings.Client,
	an *analyzer.Analyzer,
	cfg *config.Config,
	loc *time.Location,
) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.SyncSchedule)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		store:        store,
		tokenManager: tokenManager,
		normalizer:   snapshot.NewNormalizer(api, config.FetchLenient),
		analyzer:     an,
		loc:          loc,
		schedule:     schedule,
		stopChan:     make(chan struct{}),
	}, nil
}

// Start begins the scheduler background loop
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ticker = time.NewTicker(1 * time.Minute)
	s.nextRun = s.schedule.Next(time.Now().In(s.loc))
	s.mu.Unlock()

	logging.Info("Scheduler started, next sync at %s", s.nextRun.Format(time.RFC3339))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				logging.Info("Scheduler stopping due to context cancellation")
				return
			case <-s.stopChan:
				logging.Info("Scheduler stopped")
				return
			case <-s.ticker.C:
				s.runIfDue(ctx)
			}
		}
	}()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.ticker.Stop()
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Scheduler) runIfDue(ctx context.Context) {
	now := time.Now().In(s.loc)

	s.mu.Lock()
	due := !now.Before(s.nextRun)
	if due {
		s.nextRun = s.schedule.Next(now)
	}
	s.mu.Unlock()

	if !due {
		return
	}

	s.runSync(ctx, now)

	logging.Info("Next sync scheduled for %s", s.nextRun.Format(time.RFC3339))
}

// runSync executes one full sync cycle: fetch the snapshot for the
// current day, compare it against the last stored metrics, and analyze
// when a significant change is detected. Errors are logged, never fatal.
func (s *Scheduler) runSync(ctx context.Context, now time.Time) {
	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	date := dayStart.Format("2006-01-02")

	accessToken, err := s.tokenManager.ValidAccessToken(syncCtx)
	if err != nil {
		logging.LogSyncCycle(date, false, err)
		return
	}

	result, err := s.normalizer.DailySnapshot(syncCtx, accessToken, dayStart, s.loc)
	if err != nil {
		logging.LogSyncCycle(date, false, err)
		return
	}

	latest, err := s.store.LatestEntryWithMetrics()
	if err != nil {
		logging.LogSyncCycle(date, false, err)
		return
	}
	var prior *storage.Snapshot
	if latest != nil {
		prior = latest.Metrics
	}

	change := snapshot.DetectChange(prior, result.Snapshot)
	if !change.Triggered {
		logging.LogSyncCycle(date, false, nil)
		return
	}

	_, err = s.analyzer.Analyze(syncCtx, result.Snapshot,
		storage.SourceWithings, storage.EntryMeasurement, "")
	logging.LogSyncCycle(date, true, err)
}
