// Package collyfetch implements fetch.Client using gocolly.
package collyfetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/hrayleung/previewd/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Client implements fetch.Client using cloned Colly collectors.
type Client struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Client.
func New(cfg Config) *Client {
	// Synchronous collector; colly v2.1.0's Async option sets Async=true
	// regardless of its argument, so rely on the synchronous default.
	c := colly.NewCollector()
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Previews are fetched on behalf of a user action, never crawled.
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 7 * time.Second
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(newHTTPTransport())

	return &Client{cfg: cfg, base: c}
}

// Do executes a single HTTP request using a cloned collector.
func (c *Client) Do(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	collector := c.base.Clone()

	var (
		resp     fetch.Response
		hookErr  error
		received bool
	)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Header {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		received = true
		resp = fetch.Response{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		hookErr = err
	})

	done := make(chan error, 1)
	go func() {
		if req.Method == http.MethodHead {
			done <- collector.Head(req.URL)
			return
		}
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return fetch.Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fetch.Response{}, fmt.Errorf("visit %s: %w", req.URL, err)
		}
		if hookErr != nil {
			return fetch.Response{}, fmt.Errorf("fetch %s: %w", req.URL, hookErr)
		}
		if !received {
			return fetch.Response{}, errors.New("fetch produced no response")
		}
		return resp, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
