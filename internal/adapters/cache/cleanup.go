package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type cleaner interface {
	Cleanup(ctx context.Context) error
}

// startCleanupTask sweeps expired entries every freq until the returned stop func is called
func startCleanupTask(c cleaner, freq time.Duration, logger *zap.Logger) func() {
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(freq)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.Cleanup(context.Background()); err != nil {
					logger.Error("Failed to clean up cache", zap.Error(err))
				}
			case <-stopCh:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }
}
