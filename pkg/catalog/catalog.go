// Package catalog keeps the mapping from public model ids to upstream model
// ids, refreshed from the upstream profile list and cached on disk.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lkarlslund/kagi-proxy/pkg/cache"
	"github.com/lkarlslund/kagi-proxy/pkg/kagi"
	"github.com/lkarlslund/kagi-proxy/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 6 * time.Hour

// ErrNoModels is returned by Models when nothing could be fetched and no
// earlier result is available.
var ErrNoModels = errors.New("no models available")

// Fetcher lists upstream model profiles. *kagi.Client implements it.
type Fetcher interface {
	Profiles(ctx context.Context, source kagi.ProfileSource) ([]kagi.Profile, error)
}

type Options struct {
	Source       kagi.ProfileSource
	TTL          time.Duration
	CachePath    string
	DefaultModel string
	FetchTimeout time.Duration
	Metrics      *metrics.Collector
	Logger       *slog.Logger
}

type Status struct {
	Models      int
	FetchedAt   time.Time
	LastAttempt time.Time
	LastError   string
}

type Catalog struct {
	fetcher      Fetcher
	source       kagi.ProfileSource
	ttl          time.Duration
	cachePath    string
	defaultModel string
	fetchTimeout time.Duration
	metrics      *metrics.Collector
	logger       *slog.Logger
	now          func() time.Time

	retry   time.Duration
	poll    time.Duration
	forceCh chan struct{}
	group   singleflight.Group

	mu          sync.RWMutex
	mapping     map[string]string
	fetchedAt   time.Time
	lastAttempt time.Time
	lastErr     error
}

func New(fetcher Fetcher, opts Options) *Catalog {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	def := strings.TrimSpace(opts.DefaultModel)
	if def == "" {
		def = DefaultModel
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := refreshRetryInterval
	if ttl < poll {
		poll = ttl
	}
	return &Catalog{
		fetcher:      fetcher,
		source:       opts.Source,
		ttl:          ttl,
		cachePath:    strings.TrimSpace(opts.CachePath),
		defaultModel: def,
		fetchTimeout: timeout,
		metrics:      opts.Metrics,
		logger:       logger,
		now:          time.Now,
		retry:        refreshRetryInterval,
		poll:         poll,
		forceCh:      make(chan struct{}, 1),
		mapping:      map[string]string{},
	}
}

func (c *Catalog) DefaultModel() string {
	return c.defaultModel
}

// LoadCache seeds the catalog from the cache file. A missing file is not an
// error.
func (c *Catalog) LoadCache() error {
	if c.cachePath == "" {
		return nil
	}
	snap, err := cache.Load[map[string]string](c.cachePath)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(snap.Data) == 0 {
		return nil
	}
	c.mu.Lock()
	c.mapping = snap.Data
	c.fetchedAt = snap.SavedAt
	c.mu.Unlock()
	c.logger.Debug("model catalog loaded from cache", "models", len(snap.Data), "age", snap.Age(c.now()).Round(time.Second))
	return nil
}

// Resolve maps a requested public model id to the upstream id. Unknown or
// empty names fall back to the default model. An upstream id passes through
// unchanged.
func (c *Catalog) Resolve(requested string) string {
	requested = strings.TrimSpace(requested)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, ok := c.mapping[requested]; ok {
		return id
	}
	if requested != "" {
		for _, upstream := range c.mapping {
			if upstream == requested {
				return upstream
			}
		}
	}
	if id, ok := c.mapping[c.defaultModel]; ok {
		return id
	}
	return c.defaultModel
}

// Models returns the sorted public model ids. A stale catalog is refreshed
// first; when that fails the stale list is returned instead.
func (c *Catalog) Models(ctx context.Context) ([]string, error) {
	if c.stale(c.now()) {
		if _, err := c.Refresh(ctx); err != nil {
			if c.Len() == 0 {
				return nil, fmt.Errorf("%w: %w", ErrNoModels, err)
			}
			c.logger.Warn("model refresh failed, serving cached list", "err", err)
		}
	}
	snapshot, _ := c.Snapshot()
	if len(snapshot) == 0 {
		return nil, ErrNoModels
	}
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Refresh fetches the profile list now. Concurrent callers share one fetch,
// bounded by the fetch timeout rather than by any caller's ctx. A caller
// whose ctx ends stops waiting; the fetch carries on for the others.
func (c *Catalog) Refresh(ctx context.Context) (map[string]string, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyMapping(res.Val.(map[string]string)), nil
	}
}

func (c *Catalog) fetch(parent context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(parent, c.fetchTimeout)
	defer cancel()

	start := c.now()
	profiles, err := c.fetcher.Profiles(ctx, c.source)
	var mapping map[string]string
	if err == nil {
		mapping = BuildMapping(profiles)
		if len(mapping) == 0 {
			err = fmt.Errorf("upstream listed %d profiles, none accessible", len(profiles))
		}
	}

	c.mu.Lock()
	c.lastAttempt = start
	c.lastErr = err
	if err == nil {
		c.mapping = mapping
		c.fetchedAt = c.now()
	}
	c.mu.Unlock()

	if err != nil {
		c.metrics.CatalogRefreshed("error", 0)
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	c.metrics.CatalogRefreshed("ok", len(mapping))
	c.logger.Info("fetched models from kagi", "models", len(mapping), "duration", c.now().Sub(start).Round(time.Millisecond))

	if c.cachePath != "" {
		if err := cache.Save(c.cachePath, mapping, c.now()); err != nil {
			c.logger.Warn("failed to write model cache", "path", c.cachePath, "err", err)
		}
	}
	return copyMapping(mapping), nil
}

// Snapshot returns a copy of the mapping and when it was fetched.
func (c *Catalog) Snapshot() (map[string]string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMapping(c.mapping), c.fetchedAt
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mapping)
}

func (c *Catalog) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{Models: len(c.mapping), FetchedAt: c.fetchedAt, LastAttempt: c.lastAttempt}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Catalog) stale(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.mapping) == 0 || c.fetchedAt.IsZero() {
		return true
	}
	return now.Sub(c.fetchedAt) >= c.ttl
}

func copyMapping(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
