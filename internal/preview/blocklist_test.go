package preview

import (
	"net/url"
	"testing"
)

func TestExtensionBlocklist(t *testing.T) {
	t.Parallel()

	bl := newExtensionBlocklist(defaultBlockedExtensions)
	if bl == nil {
		t.Fatal("expected blocklist to be created")
	}

	cases := []struct {
		raw     string
		blocked bool
	}{
		{"https://example.com/image.png", true},
		{"https://example.com/IMAGE.PNG", true},
		{"https://example.com/archive.tar.gz", true},
		{"https://example.com/song.mp3", true},
		{"https://example.com/clip.webm", true},
		{"https://example.com/article", false},
		{"https://example.com/article.html", false},
		{"https://example.com/", false},
		{"https://example.com/download.png?format=article", true},
	}
	for _, tc := range cases {
		u, err := url.Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got := bl.IsBlocked(u); got != tc.blocked {
			t.Fatalf("IsBlocked(%q) = %v, want %v", tc.raw, got, tc.blocked)
		}
	}
}

func TestExtensionBlocklistNil(t *testing.T) {
	t.Parallel()

	var bl *extensionBlocklist
	u, _ := url.Parse("https://example.com/image.png")
	if bl.IsBlocked(u) {
		t.Fatal("nil blocklist should never block")
	}
	if newExtensionBlocklist(nil) != nil {
		t.Fatal("empty pattern list should produce nil blocklist")
	}
}
