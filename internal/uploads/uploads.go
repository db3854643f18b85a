// Package uploads removes and serves the image files attached to messages.
package uploads

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ErrNotUploaded is returned for URLs that do not point at an uploaded file.
var ErrNotUploaded = errors.New("not an uploaded file")

// objectName extracts the file name below prefix from an image URL. Absolute
// URLs are reduced to their path first.
func objectName(fileURL, prefix string) (string, error) {
	raw := strings.TrimSpace(fileURL)
	if raw == "" {
		return "", ErrNotUploaded
	}
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		raw = parsed.Path
	}

	prefix = "/" + strings.Trim(prefix, "/") + "/"
	if !strings.HasPrefix(raw, prefix) {
		return "", ErrNotUploaded
	}
	name := strings.TrimPrefix(raw, prefix)
	if name == "" || strings.Contains(name, "\\") {
		return "", ErrNotUploaded
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrNotUploaded
		}
	}
	return path.Clean(name), nil
}
