// Package preview resolves short human-readable descriptions for URLs,
// caching results in memory and on disk.
package preview

import (
	"context"
	"time"
)

// Entry is one cached resolution outcome. An empty Text records a negative
// result ("tried and found nothing"), which is cacheable but never persisted.
type Entry struct {
	Text      string
	FetchedAt time.Time
}

// Source identifies where an extraction candidate came from.
type Source int

// Candidate sources, in evaluation order.
const (
	SourceMeta Source = iota
	SourceJSONLD
	SourceParagraph
	SourceTitle
)

// Candidate is a scored text fragment extracted from HTML. Candidates live
// only within a single extraction call.
type Candidate struct {
	Text   string
	Source Source
	Score  int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// HTMLFetcher retrieves the raw HTML text of a page, or an error for every
// rejection (blocked extension, bad status, non-HTML content, network).
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, rawURL string) (string, error)
}

// EmbedFetcher resolves a social status URL to a preview string through an
// oEmbed endpoint.
type EmbedFetcher interface {
	FetchEmbed(ctx context.Context, statusURL string) (string, error)
}
