package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/inventory-sync/utils"
)

// RetentionStore is the part of the change log the cleaner needs.
type RetentionStore interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountUnprocessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupResult struct {
	Cutoff           time.Time `json:"cutoff"`
	Deleted          int64     `json:"deleted"`
	StuckUnprocessed int64     `json:"stuck_unprocessed"`
}

// RetentionCleaner periodically deletes processed change records older than
// the retention window. Unprocessed records are never deleted.
type RetentionCleaner struct {
	store    RetentionStore
	window   time.Duration
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRetentionCleaner(store RetentionStore, window, interval time.Duration) *RetentionCleaner {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionCleaner{
		store:    store,
		window:   window,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce performs a single sweep.
func (c *RetentionCleaner) RunOnce(ctx context.Context) (CleanupResult, error) {
	cutoff := c.now().Add(-c.window)
	result := CleanupResult{Cutoff: cutoff}

	deleted, err := c.store.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return result, err
	}
	result.Deleted = deleted
	retentionDeletedMetric.Add(float64(deleted))

	stuck, err := c.store.CountUnprocessedBefore(ctx, cutoff)
	if err != nil {
		return result, err
	}
	result.StuckUnprocessed = stuck
	stuckRecordsMetric.Set(float64(stuck))

	log := utils.InfoLogger.WithFields(logrus.Fields{"deleted": deleted, "cutoff": cutoff.Format(time.RFC3339)})
	log.Println("Change log retention sweep finished")
	if stuck > 0 {
		utils.ErrorLogger.WithFields(logrus.Fields{"stuck": stuck, "cutoff": cutoff.Format(time.RFC3339)}).
			Warn("Unprocessed change records are older than the retention window")
	}
	return result, nil
}

// Start sweeps once immediately and then on every interval.
func (c *RetentionCleaner) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
				utils.ErrorLogger.Errorf("Retention sweep failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (c *RetentionCleaner) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
