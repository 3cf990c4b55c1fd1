// Package sweeper is the operational companion to the request path: the hot
// store never purges superseded OTP records inline, so a background loop
// drops records whose expiry is past the retention horizon. The revoked
// session set is left alone.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

// Store is the slice of the OTP store the sweeper needs.
type Store interface {
	StaleRecords(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteRecord(phone string) error
}

type Sweeper struct {
	store     Store
	interval  time.Duration
	retention time.Duration
}

func New(store Store, cfg *config.Config) *Sweeper {
	return &Sweeper{
		store:     store,
		interval:  cfg.Sweeper.Interval,
		retention: cfg.Sweeper.Retention,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				util.Warn("retention sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep removes OTP records that expired before the retention horizon.
// Deletions fan out over a bounded worker group.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)

	stale, err := s.store.StaleRecords(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, phone := range stale {
		phone := phone
		g.Go(func() error {
			return s.store.DeleteRecord(phone)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	util.Info("retention sweep completed",
		zap.Int("records_removed", len(stale)),
		zap.Time("cutoff", cutoff))
	return nil
}
