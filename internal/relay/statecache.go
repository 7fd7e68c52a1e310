package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InitialStatus is what late joiners see before the controller has reported
// anything since process start.
const InitialStatus = "connecting"

const statusKey = "ledbridge:last_status"

// StateCache holds the single most recent controller status payload. It is
// reset on process start; the optional redis mirror is write-only and exists
// so other consumers can observe the last status, it is never read back.
type StateCache struct {
	mu     sync.RWMutex
	status string

	mirror *redis.Client
}

func NewStateCache() *StateCache {
	return &StateCache{status: InitialStatus}
}

// AttachMirror enables best-effort mirroring of status writes into redis.
func (c *StateCache) AttachMirror(rdb *redis.Client) {
	c.mu.Lock()
	c.mirror = rdb
	c.mu.Unlock()
}

// Set records the latest status payload, last write wins. The mirror write
// happens outside the lock and never blocks or fails the caller.
func (c *StateCache) Set(status string) {
	c.mu.Lock()
	c.status = status
	mirror := c.mirror
	c.mu.Unlock()

	if mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := mirror.Set(ctx, statusKey, status, 0).Err(); err != nil {
			slog.Debug("status mirror write failed", "error", err)
		}
	}()
}

func (c *StateCache) Get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
