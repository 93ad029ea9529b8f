package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hrayleung/previewd/internal/fetch"
	"github.com/hrayleung/previewd/internal/metrics"
)

// Social status path shapes, matched case-insensitively against the URL path.
var statusPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^/i/web/status/([0-9]+)`),
	regexp.MustCompile(`(?i)^/i/status/([0-9]+)`),
	regexp.MustCompile(`(?i)^/([A-Za-z0-9_]+)/status/([0-9]+)`),
}

// matchStatusURL reports whether rawURL points at a social status post and,
// if so, returns the canonical https://x.com form used for the oEmbed call.
func matchStatusURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if !isSocialHost(host) {
		return "", false
	}
	p := u.EscapedPath()
	for i, re := range statusPathPatterns {
		m := re.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		switch i {
		case 0:
			return "https://x.com/i/web/status/" + m[1], true
		case 1:
			return "https://x.com/i/status/" + m[1], true
		default:
			return fmt.Sprintf("https://x.com/%s/status/%s", m[1], m[2]), true
		}
	}
	return "", false
}

func isSocialHost(host string) bool {
	for _, base := range []string{"x.com", "twitter.com"} {
		if host == base || strings.HasSuffix(host, "."+base) {
			return true
		}
	}
	return false
}

// OEmbedAdapter fetches preview text for social posts through a third-party
// oEmbed endpoint, bypassing the generic HTML path entirely.
type OEmbedAdapter struct {
	client   fetch.Client
	endpoint string
	logger   *zap.Logger
}

// NewOEmbedAdapter builds an adapter against the given oEmbed endpoint.
func NewOEmbedAdapter(client fetch.Client, endpoint string, logger *zap.Logger) *OEmbedAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OEmbedAdapter{client: client, endpoint: endpoint, logger: logger}
}

type oembedPayload struct {
	HTML       string `json:"html"`
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

// FetchEmbed retrieves the oEmbed payload for a canonical status URL and
// extracts preview text from its embed HTML, falling back to the title.
func (a *OEmbedAdapter) FetchEmbed(ctx context.Context, statusURL string) (string, error) {
	query := url.Values{}
	query.Set("url", statusURL)
	query.Set("omit_script", "true")
	requestURL := a.endpoint + "?" + query.Encode()

	header := http.Header{}
	header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := a.client.Do(ctx, fetch.Request{Method: http.MethodGet, URL: requestURL, Header: header})
	metrics.ObserveFetchDuration("oembed", time.Since(start))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", fmt.Errorf("oembed status %d", resp.StatusCode)
	}

	var payload oembedPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("decode oembed payload: %w", err)
	}

	if payload.HTML != "" {
		if text, ok := Extract(payload.HTML); ok {
			return text, nil
		}
	}
	if title := normalizeText(payload.Title); title != "" {
		return truncateEllipsis(title), nil
	}
	return "", fmt.Errorf("empty oembed payload for %s", statusURL)
}
