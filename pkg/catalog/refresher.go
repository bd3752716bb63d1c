package catalog

import (
	"context"
	"time"
)

const refreshRetryInterval = 5 * time.Minute

// Run keeps the catalog fresh until ctx is cancelled. A failed refresh is
// retried sooner than a successful one is repeated.
func (c *Catalog) Run(ctx context.Context) {
	if c == nil || c.fetcher == nil {
		return
	}
	c.refreshIfDue(ctx, false)
	t := time.NewTicker(c.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.refreshIfDue(ctx, false)
		case <-c.forceCh:
			c.refreshIfDue(ctx, true)
		}
	}
}

// Trigger asks a running refresher to fetch immediately.
func (c *Catalog) Trigger() {
	if c == nil {
		return
	}
	select {
	case c.forceCh <- struct{}{}:
	default:
	}
}

func (c *Catalog) shouldRefresh(now time.Time, force bool) bool {
	if force {
		return true
	}
	if !c.stale(now) {
		return false
	}
	c.mu.RLock()
	lastAttempt, lastErr := c.lastAttempt, c.lastErr
	c.mu.RUnlock()
	if lastErr != nil && !lastAttempt.IsZero() {
		return now.Sub(lastAttempt) >= c.retry
	}
	return true
}

func (c *Catalog) refreshIfDue(ctx context.Context, force bool) {
	if !c.shouldRefresh(c.now(), force) {
		return
	}
	if _, err := c.Refresh(ctx); err != nil {
		c.logger.Warn("background model refresh failed", "err", err)
	}
}
