package presence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/codec"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/model"
)

// Sweeper marks users offline whose lease has lapsed, covering clients that
// crashed or lost their connection without signing off.
type Sweeper struct {
	store    docstore.Store
	leases   LeaseStore
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// OnSwept, when set, receives the count of every successful sweep.
	OnSwept func(n int)
}

func NewSweeper(store docstore.Store, leases LeaseStore, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, leases: leases, interval: interval, logger: logger, now: time.Now}
}

// SweepOnce checks every online user and returns how many were marked offline.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	docs, err := s.store.Query(ctx, docstore.Query{Collection: codec.Users}.Where("status", docstore.OpEqual, string(model.Online)))
	if err != nil {
		return 0, fmt.Errorf("list online users: %w", err)
	}
	n := 0
	for _, d := range docs {
		now := s.now()
		exp, err := s.leases.Expiry(ctx, d.ID)
		if err != nil {
			return n, err
		}
		if now.Before(exp) {
			continue
		}
		// Without a known lease the user was last seen no later than now.
		lastSeen := now
		if !exp.IsZero() {
			lastSeen = exp
		}
		if err := s.store.Update(ctx, d.Path, codec.PresenceUpdate(model.Offline, lastSeen.UnixMilli())); err != nil {
			return n, fmt.Errorf("mark %s offline: %w", d.ID, err)
		}
		s.logger.Info("presence lease expired", zap.String("uid", d.ID), zap.Time("last_seen", lastSeen))
		n++
	}
	return n, nil
}

// Run sweeps every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("presence sweep failed", zap.Error(err))
			}
			if s.OnSwept != nil && n > 0 {
				s.OnSwept(n)
			}
		}
	}
}
