package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bizdir/internal/config"
	"bizdir/internal/events"
	"bizdir/internal/model"
	mongorepo "bizdir/internal/repository/mongo"
	"bizdir/internal/util"
)

// RecordError is a per-account failure from a cleanup pass. Failures never
// abort the pass; they are collected and surfaced in the run stats.
type RecordError struct {
	AccountID string `json:"account_id"`
	Err       string `json:"error"`
}

// RunStats describes one cleanup pass.
type RunStats struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
	Deleted   int           `json:"deleted"`
	Skipped   bool          `json:"skipped"`
	Errors    []RecordError `json:"errors,omitempty"`
}

// CleanupStatus is the admin-facing view of the service.
type CleanupStatus struct {
	Running        bool       `json:"running"`
	LastRun        *RunStats  `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
	TotalRuns      int64      `json:"total_runs"`
	TotalDeleted   int64      `json:"total_deleted"`
	TotalProcessed int64      `json:"total_processed"`
}

// CleanupService removes accounts whose deletion grace period has elapsed.
// Passes run on a fixed interval after an initial delay, and at most one
// pass executes at a time: a trigger arriving mid-pass is skipped, not
// queued.
type CleanupService struct {
	repo      mongorepo.AccountRepository
	publisher *events.Publisher
	logger    *zap.Logger

	initialDelay time.Duration
	interval     time.Duration
	batchLimit   int
	concurrency  int

	running int32

	mu             sync.Mutex
	lastRun        *RunStats
	nextRun        *time.Time
	totalRuns      int64
	totalDeleted   int64
	totalProcessed int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

func NewCleanupService(
	repo mongorepo.AccountRepository,
	publisher *events.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *CleanupService {
	return &CleanupService{
		repo:         repo,
		publisher:    publisher,
		logger:       logger,
		initialDelay: cfg.Cleanup.InitialDelay,
		interval:     cfg.Cleanup.Interval,
		batchLimit:   cfg.Cleanup.BatchLimit,
		concurrency:  4,
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// SetClock overrides the service clock. Tests only.
func (s *CleanupService) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches the scheduler goroutine. The first pass fires after the
// initial delay, subsequent passes on the interval.
func (s *CleanupService) Start(ctx context.Context) {
	s.setNextRun(s.now().Add(s.initialDelay))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		delay := time.NewTimer(s.initialDelay)
		defer delay.Stop()

		select {
		case <-delay.C:
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}

		s.Run(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			s.setNextRun(s.now().Add(s.interval))
			select {
			case <-ticker.C:
				s.Run(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("cleanup service started",
		util.Duration("initial_delay", s.initialDelay),
		util.Duration("interval", s.interval))
}

// Stop halts the scheduler and waits for an in-flight pass to finish.
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Run executes one cleanup pass. If another pass is already in flight the
// call returns immediately with Skipped set; overlapping passes are never
// allowed.
func (s *CleanupService) Run(ctx context.Context) RunStats {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return RunStats{StartedAt: s.now(), Skipped: true}
	}
	defer atomic.StoreInt32(&s.running, 0)

	start := s.now()
	stats := RunStats{StartedAt: start}

	accounts, err := s.repo.ListScheduledDeletions(ctx, s.batchLimit)
	if err != nil {
		s.logger.Error("cleanup pass failed to list deletions", util.ErrorField(err))
		stats.Errors = append(stats.Errors, RecordError{Err: err.Error()})
		stats.Duration = s.now().Sub(start)
		s.record(stats)
		return stats
	}

	stats.Processed = len(accounts)

	var (
		mu      sync.Mutex
		deleted int
		recErrs []RecordError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, acc := range accounts {
		acc := acc
		g.Go(func() error {
			if !acc.DeletionDue(s.now()) {
				return nil
			}

			// DeleteDue re-checks the deadline at delete time, so a
			// schedule cancelled after the snapshot above leaves the
			// account alone.
			if err := s.repo.DeleteDue(gctx, acc.ID.Hex(), s.now()); err != nil {
				if errors.Is(err, mongorepo.ErrNotFound) {
					s.logger.Info("cleanup skipped account no longer due",
						util.String("account_id", acc.ID.Hex()))
					return nil
				}
				mu.Lock()
				recErrs = append(recErrs, RecordError{AccountID: acc.ID.Hex(), Err: err.Error()})
				mu.Unlock()
				s.logger.Error("cleanup failed to delete account",
					util.String("account_id", acc.ID.Hex()),
					util.ErrorField(err))
				return nil
			}

			s.publisher.Publish(gctx, events.TypeAccountDeleted, acc.ID.Hex(), nil)

			mu.Lock()
			deleted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	stats.Deleted = deleted
	stats.Errors = recErrs
	stats.Duration = s.now().Sub(start)
	s.record(stats)

	s.logger.Info("cleanup pass finished",
		util.Int("processed", stats.Processed),
		util.Int("deleted", stats.Deleted),
		util.Int("errors", len(stats.Errors)),
		util.Duration("duration", stats.Duration))

	return stats
}

// Status reports the current state and cumulative totals.
func (s *CleanupService) Status() CleanupStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CleanupStatus{
		Running:        atomic.LoadInt32(&s.running) == 1,
		LastRun:        s.lastRun,
		NextRun:        s.nextRun,
		TotalRuns:      s.totalRuns,
		TotalDeleted:   s.totalDeleted,
		TotalProcessed: s.totalProcessed,
	}
}

// ListPending returns accounts currently scheduled for deletion, soonest
// due first.
func (s *CleanupService) ListPending(ctx context.Context, limit int) ([]*model.Account, error) {
	if limit <= 0 || limit > s.batchLimit {
		limit = s.batchLimit
	}
	return s.repo.ListScheduledDeletions(ctx, limit)
}

func (s *CleanupService) record(stats RunStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &stats
	s.totalRuns++
	s.totalDeleted += int64(stats.Deleted)
	s.totalProcessed += int64(stats.Processed)
}

func (s *CleanupService) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = &t
	s.mu.Unlock()
}
