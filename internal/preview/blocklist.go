package preview

import (
	"net/url"
	"path"
	"strings"
)

// extensionBlocklist stores lowercase path extensions that are never fetched.
type extensionBlocklist struct {
	exts map[string]struct{}
}

// Extensions whose URLs are rejected before any network call: images,
// archives, audio, and video.
var defaultBlockedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".bmp", ".tif", ".tiff", ".avif", ".heic",
	".zip", ".tar", ".gz", ".tgz", ".bz2", ".xz", ".7z", ".rar", ".dmg", ".iso",
	".mp3", ".wav", ".ogg", ".oga", ".flac", ".aac", ".m4a", ".opus",
	".mp4", ".m4v", ".mov", ".avi", ".mkv", ".webm", ".wmv", ".flv",
}

func newExtensionBlocklist(extensions []string) *extensionBlocklist {
	matcher := &extensionBlocklist{
		exts: make(map[string]struct{}, len(extensions)),
	}
	for _, raw := range extensions {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		if !strings.HasPrefix(value, ".") {
			value = "." + value
		}
		matcher.exts[value] = struct{}{}
	}
	if len(matcher.exts) == 0 {
		return nil
	}
	return matcher
}

func (b *extensionBlocklist) IsBlocked(u *url.URL) bool {
	if b == nil || u == nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	_, blocked := b.exts[ext]
	return blocked
}
