package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Renewer extends a lease. LeaseStore and the remote client implement it.
type Renewer interface {
	Renew(ctx context.Context, uid string, ttl time.Duration) error
}

// Heartbeat renews uid's lease every interval until ctx ends. The first
// renewal happens immediately.
func Heartbeat(ctx context.Context, r Renewer, uid string, interval, ttl time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	renew := func() {
		if err := r.Renew(ctx, uid, ttl); err != nil && ctx.Err() == nil {
			logger.Warn("presence heartbeat failed", zap.String("uid", uid), zap.Error(err))
		}
	}
	renew()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renew()
		}
	}
}
