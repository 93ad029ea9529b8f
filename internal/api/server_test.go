package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hrayleung/previewd/internal/config"
)

type previewFunc func(ctx context.Context, rawURL string) (string, bool)

func (f previewFunc) Resolve(ctx context.Context, rawURL string) (string, bool) {
	return f(ctx, rawURL)
}

type redirectFunc func(ctx context.Context, rawURL string) (string, bool)

func (f redirectFunc) Resolve(ctx context.Context, rawURL string) (string, bool) {
	return f(ctx, rawURL)
}

func newTestServer(previews PreviewResolver, redirects RedirectResolver, cfg config.Config) *httptest.Server {
	return httptest.NewServer(NewServer(previews, redirects, cfg, nil).Handler())
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestGetPreview(t *testing.T) {
	previews := previewFunc(func(ctx context.Context, rawURL string) (string, bool) {
		if rawURL == "https://example.com/known" {
			return "A known preview.", true
		}
		return "", false
	})
	srv := newTestServer(previews, redirectFunc(func(context.Context, string) (string, bool) {
		return "", false
	}), config.Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/preview?url=https%3A%2F%2Fexample.com%2Fknown")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		URL     string  `json:"url"`
		Preview *string `json:"preview"`
	}
	decodeBody(t, resp, &body)
	if body.URL != "https://example.com/known" {
		t.Fatalf("url = %q", body.URL)
	}
	if body.Preview == nil || *body.Preview != "A known preview." {
		t.Fatalf("preview = %v", body.Preview)
	}
}

func TestGetPreviewNegativeOutcomeIsNull(t *testing.T) {
	srv := newTestServer(previewFunc(func(context.Context, string) (string, bool) {
		return "", false
	}), redirectFunc(func(context.Context, string) (string, bool) {
		return "", false
	}), config.Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/preview?url=https%3A%2F%2Fexample.com%2Funknown")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Preview *string `json:"preview"`
	}
	decodeBody(t, resp, &body)
	if body.Preview != nil {
		t.Fatalf("preview = %q, want null", *body.Preview)
	}
}

func TestGetPreviewMissingParam(t *testing.T) {
	srv := newTestServer(previewFunc(func(context.Context, string) (string, bool) {
		t.Error("resolver should not run without a url parameter")
		return "", false
	}), redirectFunc(func(context.Context, string) (string, bool) {
		return "", false
	}), config.Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/preview")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetResolve(t *testing.T) {
	redirects := redirectFunc(func(ctx context.Context, rawURL string) (string, bool) {
		return "https://dest.example/article", true
	})
	srv := newTestServer(previewFunc(func(context.Context, string) (string, bool) {
		return "", false
	}), redirects, config.Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/resolve?url=https%3A%2F%2Fwww.google.com%2Furl%3Fq%3Dx")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		URL      string  `json:"url"`
		Location *string `json:"location"`
	}
	decodeBody(t, resp, &body)
	if body.Location == nil || *body.Location != "https://dest.example/article" {
		t.Fatalf("location = %v", body.Location)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(previewFunc(func(context.Context, string) (string, bool) {
		return "", false
	}), redirectFunc(func(context.Context, string) (string, bool) {
		return "", false
	}), config.Config{})
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("GET %s missing request id", path)
		}
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv := newTestServer(previewFunc(func(context.Context, string) (string, bool) {
		return "text", true
	}), redirectFunc(func(context.Context, string) (string, bool) {
		return "", false
	}), cfg)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/preview?url=https%3A%2F%2Fexample.com")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unauthenticated status = %d, want 403", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/preview?url=https%3A%2F%2Fexample.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
}
