// Package fetch defines the bounded HTTP client contract shared by the
// preview and redirect resolvers.
package fetch

import (
	"context"
	"net/http"
)

// Request captures everything needed to issue a single bounded request.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Response is the result returned by a Client implementation. FinalURL
// reflects the URL after any redirects were followed.
type Response struct {
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues a single HTTP request with timeout and body-size bounds.
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
}
