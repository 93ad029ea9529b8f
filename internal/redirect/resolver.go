// Package redirect resolves known intermediary links to their final
// destination by probing with bounded requests. Outcomes are cached in
// memory only.
package redirect

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hrayleung/previewd/internal/fetch"
	"github.com/hrayleung/previewd/internal/metrics"
	"github.com/hrayleung/previewd/internal/preview"
)

// Config controls resolver behavior.
type Config struct {
	// CacheSize bounds the in-memory outcome cache.
	CacheSize int
	// ProbeTimeout bounds each detached probe.
	ProbeTimeout time.Duration
}

// Resolver follows allowlisted redirector URLs to their destination.
// It is safe for concurrent use.
type Resolver struct {
	cfg    Config
	client fetch.Client
	logger *zap.Logger

	// cache maps canonical URL to destination; "" records a failed probe.
	cache *lru.Cache[string, string]
	group singleflight.Group
}

// New builds a Resolver probing with client.
func New(cfg Config, client fetch.Client, logger *zap.Logger) (*Resolver, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 7 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{cfg: cfg, client: client, logger: logger, cache: cache}, nil
}

// isAllowlisted reports whether u is a redirector this resolver will probe.
// Everything else is refused before any network traffic.
func isAllowlisted(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	switch host {
	case "google.com", "www.google.com":
		return u.Path == "/url"
	case "vertexaisearch.cloud.google.com":
		return strings.HasPrefix(u.Path, "/grounding-api-redirect/")
	}
	return false
}

// Resolve returns the destination URL for rawURL. It returns ("", false)
// for URLs outside the allowlist and for probes that do not move off the
// original URL. Concurrent calls for the same URL share one probe.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, bool) {
	canon, err := preview.Normalize(rawURL)
	if err != nil {
		metrics.ObserveRedirectResolution("rejected")
		return "", false
	}
	u, err := url.Parse(canon)
	if err != nil || !isAllowlisted(u) {
		metrics.ObserveRedirectResolution("refused")
		return "", false
	}

	if dest, ok := r.cache.Get(canon); ok {
		metrics.ObserveRedirectResolution("hit")
		return dest, dest != ""
	}

	ch := r.group.DoChan(canon, func() (any, error) {
		// Detached from the caller so a cancellation cannot poison the
		// shared outcome.
		probeCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ProbeTimeout)
		defer cancel()

		dest := r.probe(probeCtx, canon)
		r.cache.Add(canon, dest)
		return dest, nil
	})

	select {
	case <-ctx.Done():
		metrics.ObserveRedirectResolution("canceled")
		return "", false
	case res := <-ch:
		if res.Shared {
			metrics.ObserveCoalescedWait("redirect")
		}
		dest, _ := res.Val.(string)
		if dest == "" {
			metrics.ObserveRedirectResolution("miss_negative")
			return "", false
		}
		metrics.ObserveRedirectResolution("miss_positive")
		return dest, true
	}
}

// probe tries a HEAD first, then a one-byte ranged GET for hosts that
// reject HEAD. Either way the redirect chain is followed by the client
// and only the final URL matters.
func (r *Resolver) probe(ctx context.Context, canon string) string {
	start := time.Now()
	defer func() {
		metrics.ObserveFetchDuration("redirect", time.Since(start))
	}()

	if dest, ok := r.probeOnce(ctx, canon, http.MethodHead, nil); ok {
		return dest
	}

	header := http.Header{}
	header.Set("Range", "bytes=0-0")
	if dest, ok := r.probeOnce(ctx, canon, http.MethodGet, header); ok {
		return dest
	}
	return ""
}

func (r *Resolver) probeOnce(ctx context.Context, canon, method string, header http.Header) (string, bool) {
	resp, err := r.client.Do(ctx, fetch.Request{Method: method, URL: canon, Header: header})
	if err != nil {
		r.logger.Debug("redirect probe failed",
			zap.String("url", canon),
			zap.String("method", method),
			zap.Error(err),
		)
		return "", false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", false
	}
	if resp.FinalURL == "" || strings.EqualFold(resp.FinalURL, canon) {
		return "", false
	}
	return resp.FinalURL, true
}
