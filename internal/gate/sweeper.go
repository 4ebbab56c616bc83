package gate

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often StartSweeper reclaims expired state.
const DefaultSweepInterval = time.Minute

// StartSweeper runs g.Sweep every interval until ctx is cancelled. It takes
// the same stripe locks as the request path, one stripe at a time.
func StartSweeper(ctx context.Context, g *Gate, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweeper] stopped")
			return
		case <-ticker.C:
			stats := g.Sweep()
			if stats.Total() > 0 {
				log.Printf("[sweeper] removed %d blocks, %d cooldowns, %d rate windows",
					stats.Blocks, stats.Cooldowns, stats.Windows)
			}
		}
	}
}
