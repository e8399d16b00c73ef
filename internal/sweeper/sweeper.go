// Package sweeper periodically ends report sessions that have gone idle.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// Expirer ends sessions idle for longer than ttl and returns the affected users.
type Expirer interface {
	ExpireIdle(ctx context.Context, ttl time.Duration) ([]string, error)
}

// CleanupCallback is called for every user whose session was swept.
type CleanupCallback func(userID string)

// DefaultInterval is used when Start is given a non-positive interval.
const DefaultInterval = 5 * time.Minute

// Start runs a background goroutine that periodically sweeps for
// inactive sessions until ctx is done.
func Start(ctx context.Context, e Expirer, interval, ttl time.Duration, onCleanup CleanupCallback) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, e, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one expiry pass and returns how many sessions were removed.
func Sweep(ctx context.Context, e Expirer, ttl time.Duration, onCleanup CleanupCallback) int {
	expired, err := e.ExpireIdle(ctx, ttl)
	if err != nil {
		slog.Error("session sweeper failed to expire sessions", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	for _, userID := range expired {
		if onCleanup != nil {
			onCleanup(userID)
		}
	}

	slog.Info("session sweeper cleanup completed", "cleaned", len(expired))
	return len(expired)
}
