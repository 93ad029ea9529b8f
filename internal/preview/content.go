package preview

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/hrayleung/previewd/internal/fetch"
	"github.com/hrayleung/previewd/internal/metrics"
)

const acceptHTML = "text/html,application/xhtml+xml"

// ContentFetcher retrieves a bounded slice of a page's HTML. It implements
// HTMLFetcher on top of a fetch.Client.
type ContentFetcher struct {
	client       fetch.Client
	maxBodyBytes int
	blocklist    *extensionBlocklist
	logger       *zap.Logger
}

// NewContentFetcher builds a ContentFetcher. maxBodyBytes caps the response
// via both a Range request header and the client's body limit.
func NewContentFetcher(client fetch.Client, maxBodyBytes int, logger *zap.Logger) *ContentFetcher {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 64 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentFetcher{
		client:       client,
		maxBodyBytes: maxBodyBytes,
		blocklist:    newExtensionBlocklist(defaultBlockedExtensions),
		logger:       logger,
	}
}

// FetchHTML issues one bounded GET and returns the page text, or an error on
// any rejection: non-http(s) scheme, blocked extension, bad status, or a
// content type that explicitly names json or xml.
func (f *ContentFetcher) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if f.blocklist.IsBlocked(u) {
		return "", fmt.Errorf("blocked extension in %q", u.Path)
	}

	header := http.Header{}
	header.Set("Accept", acceptHTML)
	header.Set("Range", fmt.Sprintf("bytes=0-%d", f.maxBodyBytes-1))

	start := time.Now()
	resp, err := f.client.Do(ctx, fetch.Request{Method: http.MethodGet, URL: rawURL, Header: header})
	metrics.ObserveFetchDuration("html", time.Since(start))
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return "", fmt.Errorf("non-html content type %q", contentType)
	}

	return decodeBody(resp.Body)
}

// decodeBody interprets the possibly truncated buffer as UTF-8, falling back
// to Latin-1 when the bytes are not valid UTF-8.
func decodeBody(body []byte) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return string(decoded), nil
}
