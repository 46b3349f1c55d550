// Package syncer drives the companion's pull loop: periodically, and whenever
// the hub signals a change, it posts the cache's version snapshot and applies
// whatever comes back.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ktiyab/coheara/internal/companion/cache"
	"github.com/ktiyab/coheara/internal/companion/transport"
	"github.com/ktiyab/coheara/internal/model"
)

const (
	defaultInterval = 15 * time.Minute
	syncTimeout     = 2 * time.Minute
)

// Syncer owns the reconciliation loop between hub and local cache. Only one
// sync runs at a time; a Kick during a running sync queues exactly one more.
type Syncer struct {
	client   *transport.Client
	cache    *cache.Cache
	interval time.Duration
	logger   *slog.Logger

	kick chan struct{}

	mu      sync.Mutex
	running bool
}

func New(client *transport.Client, c *cache.Cache, interval time.Duration, logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Syncer{
		client:   client,
		cache:    c,
		interval: interval,
		logger:   logger.With("component", "syncer"),
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a sync as soon as possible. Safe to call from any goroutine;
// kicks during a running sync collapse into one follow-up.
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run executes the loop until the context is cancelled. One sync is attempted
// immediately on startup.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.syncOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		case <-s.kick:
			s.syncOnce(ctx)
		}
	}
}

// SyncNow performs one synchronous sync cycle, for CLI-style one-shot use.
func (s *Syncer) SyncNow(ctx context.Context) error {
	return s.sync(ctx)
}

func (s *Syncer) syncOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.Kick()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("sync failed", "error", err)
	}
}

func (s *Syncer) sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	versions, err := s.cache.Versions()
	if err != nil {
		return err
	}

	var result *transport.SyncResult
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(2*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := s.client.Sync(ctx, model.SyncRequest{Versions: versions})
		if err != nil {
			// Network blips are worth retrying; a credential rejection
			// is not, nothing changes until the device re-pairs.
			if errors.Is(err, transport.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case result.NoChange:
		s.logger.Debug("sync: no change")
	case result.Full != nil:
		if err := s.cache.ApplyFull(result.Full); err != nil {
			return err
		}
		s.logger.Info("sync: applied full snapshot")
	case result.Delta != nil:
		if err := s.cache.ApplyDelta(result.Delta); err != nil {
			return err
		}
		s.logger.Info("sync: applied delta")
	}

	// Past appointments age out locally regardless of hub state.
	if _, err := s.cache.RemoveExpiredAppointments(time.Now()); err != nil {
		s.logger.Warn("expire appointments", "error", err)
	}
	return nil
}
