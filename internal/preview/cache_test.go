package preview

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type htmlFetcherFunc func(ctx context.Context, rawURL string) (string, error)

func (f htmlFetcherFunc) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	return f(ctx, rawURL)
}

type embedFetcherFunc func(ctx context.Context, statusURL string) (string, error)

func (f embedFetcherFunc) FetchEmbed(ctx context.Context, statusURL string) (string, error) {
	return f(ctx, statusURL)
}

const previewPage = `<html><head>
<meta property="og:description" content="A description long enough to score.">
</head><body></body></html>`

func TestResolveCachesPositiveResult(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	html := htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		fetches.Add(1)
		return previewPage, nil
	})

	c := NewCache(CacheConfig{}, html, nil, nil, newFakeClock(), nil)

	first, ok := c.Resolve(context.Background(), "https://example.com/article")
	if !ok || first == "" {
		t.Fatalf("Resolve() = %q, %v", first, ok)
	}

	// Different surface spellings of the same canonical URL share the entry.
	for _, raw := range []string{
		"https://example.com/article",
		"HTTPS://EXAMPLE.COM/article",
		"https://example.com:443/article#section",
	} {
		got, ok := c.Resolve(context.Background(), raw)
		if !ok || got != first {
			t.Fatalf("Resolve(%q) = %q, %v; want cached %q", raw, got, ok, first)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("fetch count = %d, want 1", n)
	}
}

func TestResolveCachesNegativeResult(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	html := htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		fetches.Add(1)
		return "", errors.New("fetch failed")
	})

	c := NewCache(CacheConfig{}, html, nil, nil, newFakeClock(), nil)

	for i := 0; i < 3; i++ {
		if got, ok := c.Resolve(context.Background(), "https://example.com/missing"); ok {
			t.Fatalf("Resolve() = %q, true; want negative", got)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("fetch count = %d, want 1", n)
	}
}

func TestResolveRefetchesAfterTTL(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	html := htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		fetches.Add(1)
		return previewPage, nil
	})

	clk := newFakeClock()
	c := NewCache(CacheConfig{TTL: time.Hour}, html, nil, nil, clk, nil)

	if _, ok := c.Resolve(context.Background(), "https://example.com/a"); !ok {
		t.Fatal("first Resolve failed")
	}

	clk.Advance(30 * time.Minute)
	if _, ok := c.Resolve(context.Background(), "https://example.com/a"); !ok {
		t.Fatal("Resolve within TTL failed")
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("fetch count = %d, want 1 within TTL", n)
	}

	clk.Advance(31 * time.Minute)
	if _, ok := c.Resolve(context.Background(), "https://example.com/a"); !ok {
		t.Fatal("Resolve after TTL failed")
	}
	if n := fetches.Load(); n != 2 {
		t.Fatalf("fetch count = %d, want 2 after TTL", n)
	}
}

func TestResolveCoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	release := make(chan struct{})
	html := htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		fetches.Add(1)
		<-release
		return previewPage, nil
	})

	c := NewCache(CacheConfig{}, html, nil, nil, newFakeClock(), nil)

	const callers = 8
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := c.Resolve(context.Background(), "https://example.com/busy")
			if !ok {
				results <- ""
				return
			}
			results <- got
		}()
	}

	// Give every caller time to join the in-flight fetch, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	var want string
	for got := range results {
		if got == "" {
			t.Fatal("a caller saw a negative outcome")
		}
		if want == "" {
			want = got
		}
		if got != want {
			t.Fatalf("callers disagree: %q vs %q", got, want)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("fetch count = %d, want 1", n)
	}
}

func TestResolveRoutesSocialURLsToOEmbed(t *testing.T) {
	t.Parallel()

	html := htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		t.Errorf("generic HTML fetch used for social URL %q", rawURL)
		return "", errors.New("unexpected")
	})
	embed := embedFetcherFunc(func(ctx context.Context, statusURL string) (string, error) {
		if statusURL != "https://x.com/someuser/status/12345" {
			t.Errorf("statusURL = %q", statusURL)
		}
		return "Embedded post text.", nil
	})

	c := NewCache(CacheConfig{}, html, embed, nil, newFakeClock(), nil)

	got, ok := c.Resolve(context.Background(), "https://twitter.com/someuser/status/12345")
	if !ok || got != "Embedded post text." {
		t.Fatalf("Resolve() = %q, %v", got, ok)
	}
}

func TestResolveCanceledCallerDoesNotPoisonOutcome(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	html := htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		fetches.Add(1)
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return previewPage, nil
	})

	c := NewCache(CacheConfig{}, html, nil, nil, newFakeClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if got, ok := c.Resolve(ctx, "https://example.com/slow"); ok {
			t.Errorf("canceled Resolve() = %q, true", got)
		}
	}()

	<-started
	cancel()
	<-done

	close(release)
	got, ok := c.Resolve(context.Background(), "https://example.com/slow")
	if !ok || got == "" {
		t.Fatalf("Resolve after cancellation = %q, %v", got, ok)
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("fetch count = %d, want 1", n)
	}
}

func TestResolvePersistsPositiveResults(t *testing.T) {
	t.Parallel()

	html := htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		return previewPage, nil
	})

	path := filepath.Join(t.TempDir(), "previews.json")
	store := NewStore(path, nil)
	clk := newFakeClock()

	c := NewCache(CacheConfig{}, html, nil, store, clk, nil)
	got, ok := c.Resolve(context.Background(), "https://example.com/article")
	if !ok {
		t.Fatal("Resolve failed")
	}

	// A fresh cache seeded from the same store serves the entry without
	// touching the network.
	reloaded := NewCache(CacheConfig{}, htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		t.Error("unexpected fetch after reload")
		return "", errors.New("unexpected")
	}), nil, store, clk, nil)

	again, ok := reloaded.Resolve(context.Background(), "https://example.com/article")
	if !ok || again != got {
		t.Fatalf("reloaded Resolve() = %q, %v; want %q", again, ok, got)
	}
}

func TestResolveRejectsUnparseableURLs(t *testing.T) {
	t.Parallel()

	html := htmlFetcherFunc(func(ctx context.Context, rawURL string) (string, error) {
		t.Errorf("unexpected fetch for %q", rawURL)
		return "", errors.New("unexpected")
	})
	c := NewCache(CacheConfig{}, html, nil, nil, newFakeClock(), nil)

	for _, raw := range []string{"", "   ", "ftp://example.com/x", "https://"} {
		if got, ok := c.Resolve(context.Background(), raw); ok {
			t.Fatalf("Resolve(%q) = %q, true; want rejection", raw, got)
		}
	}
}
