package preview

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hrayleung/previewd/internal/metrics"
)

// CacheConfig controls cache behavior.
type CacheConfig struct {
	// TTL is the age after which an entry is treated as absent.
	TTL time.Duration
	// FetchBudget bounds the detached fetch that runs on a cache miss.
	FetchBudget time.Duration
}

// Cache orchestrates preview resolution: canonicalize, look up, join or
// start a coalesced fetch, cache the outcome, persist positive results.
// It is safe for concurrent use.
type Cache struct {
	cfg    CacheConfig
	html   HTMLFetcher
	embed  EmbedFetcher
	store  *Store
	clock  Clock
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]Entry
	group   singleflight.Group
}

// NewCache builds a Cache, seeding it from the store when one is given.
// A nil store keeps the cache memory-only.
func NewCache(
	cfg CacheConfig,
	html HTMLFetcher,
	embed EmbedFetcher,
	store *Store,
	clk Clock,
	logger *zap.Logger,
) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.FetchBudget <= 0 {
		cfg.FetchBudget = 15 * time.Second
	}
	if clk == nil {
		clk = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	entries := make(map[string]Entry)
	if store != nil {
		entries = store.Load()
	}

	return &Cache{
		cfg:     cfg,
		html:    html,
		embed:   embed,
		store:   store,
		clock:   clk,
		logger:  logger,
		entries: entries,
	}
}

// Resolve returns the preview text for rawURL. It never returns an error:
// every failure collapses to ("", false), and negative outcomes are cached
// so repeated calls do not refetch within the TTL window.
func (c *Cache) Resolve(ctx context.Context, rawURL string) (string, bool) {
	canon, err := Normalize(rawURL)
	if err != nil {
		metrics.ObserveResolution("rejected")
		return "", false
	}

	now := c.clock.Now()
	c.mu.Lock()
	if entry, ok := c.entries[canon]; ok {
		if now.Sub(entry.FetchedAt) <= c.cfg.TTL {
			c.mu.Unlock()
			metrics.ObserveCacheHit()
			metrics.ObserveResolution("hit")
			return entry.Text, entry.Text != ""
		}
		// Stale entries are evicted lazily on read.
		delete(c.entries, canon)
	}
	c.mu.Unlock()
	metrics.ObserveCacheMiss()

	ch := c.group.DoChan(canon, func() (any, error) {
		// The fetch runs detached from any single caller's context so that
		// one caller's cancellation cannot poison the shared outcome.
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchBudget)
		defer cancel()

		text := c.fetch(fetchCtx, canon)
		entry := Entry{Text: text, FetchedAt: c.clock.Now()}

		c.mu.Lock()
		c.entries[canon] = entry
		var snapshot map[string]Entry
		if text != "" && c.store != nil {
			snapshot = c.snapshotLocked()
		}
		c.mu.Unlock()

		if snapshot != nil {
			c.persist(snapshot)
		}
		return text, nil
	})

	select {
	case <-ctx.Done():
		metrics.ObserveResolution("canceled")
		return "", false
	case res := <-ch:
		if res.Shared {
			metrics.ObserveCoalescedWait("preview")
		}
		text, _ := res.Val.(string)
		if text == "" {
			metrics.ObserveResolution("miss_negative")
			return "", false
		}
		metrics.ObserveResolution("miss_positive")
		return text, true
	}
}

// fetch routes a canonical URL to the oEmbed adapter for social posts and to
// the generic HTML path otherwise. Every failure collapses to "".
func (c *Cache) fetch(ctx context.Context, canon string) string {
	if c.embed != nil {
		if statusURL, ok := matchStatusURL(canon); ok {
			text, err := c.embed.FetchEmbed(ctx, statusURL)
			if err != nil {
				c.logger.Debug("oembed fetch failed", zap.String("url", canon), zap.Error(err))
				return ""
			}
			return text
		}
	}

	htmlText, err := c.html.FetchHTML(ctx, canon)
	if err != nil {
		c.logger.Debug("html fetch failed", zap.String("url", canon), zap.Error(err))
		return ""
	}
	text, ok := Extract(htmlText)
	if !ok {
		return ""
	}
	return text
}

// Flush writes the current positive entries to disk.
func (c *Cache) Flush() {
	if c.store == nil {
		return
	}
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.persist(snapshot)
}

func (c *Cache) snapshotLocked() map[string]Entry {
	snapshot := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	return snapshot
}

func (c *Cache) persist(snapshot map[string]Entry) {
	if err := c.store.Save(snapshot, c.clock.Now(), c.cfg.TTL); err != nil {
		metrics.ObservePersistFailure()
		c.logger.Warn("persist preview cache failed", zap.Error(err))
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
