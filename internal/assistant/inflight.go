package assistant

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// InflightGuard remembers which threads have a turn running in this process so
// a second message on the same thread is rejected before it reaches the
// service. Entries expire on their own in case a release is ever missed.
type InflightGuard struct {
	c *cache.Cache
}

func NewInflightGuard(maxTurn time.Duration) *InflightGuard {
	if maxTurn <= 0 {
		maxTurn = time.Minute
	}
	return &InflightGuard{c: cache.New(maxTurn, 2*maxTurn)}
}

// Acquire marks threadID busy. It returns false if a turn already holds it.
func (g *InflightGuard) Acquire(threadID string) bool {
	return g.c.Add(threadID, time.Now(), cache.DefaultExpiration) == nil
}

func (g *InflightGuard) Release(threadID string) {
	g.c.Delete(threadID)
}
