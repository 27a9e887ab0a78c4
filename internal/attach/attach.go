// Package attach stores submission screenshots on disk under a predictable,
// sanitized layout and returns the public URL each file is served from.
package attach

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// forbidden are characters stripped from user-supplied path segments.
const forbidden = `<>:"/\|?*`

// extensions maps normalized content types to file extensions. Anything
// unrecognized falls back to jpg.
var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Sink writes attachments under a root directory.
type Sink struct {
	root    string
	baseURL string
}

// NewSink builds a sink rooted at dir, serving files under baseURL.
func NewSink(dir, baseURL string) *Sink {
	return &Sink{root: filepath.Clean(dir), baseURL: strings.TrimRight(baseURL, "/")}
}

// sanitizeSegment strips forbidden characters and collapses whitespace to
// underscores so a segment is safe as a single path element.
func sanitizeSegment(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		switch {
		case strings.ContainsRune(forbidden, r):
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = "file"
	}
	return out
}

// extensionFor normalizes a content type to a file extension.
func extensionFor(contentType string) string {
	base := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if ext, ok := extensions[base]; ok {
		return ext
	}
	return "jpg"
}

// Save writes one attachment and returns its public URL. The layout is
// <root>/<external player id>/<kind>[/<subfolder>]/<name>.<ext>; existing
// names get a numeric suffix instead of being overwritten.
func (s *Sink) Save(externalPlayerID int64, kind, subfolder, name, contentType string, r io.Reader) (string, error) {
	if externalPlayerID <= 0 {
		return "", fmt.Errorf("external player id is required")
	}
	parts := []string{s.root, fmt.Sprintf("%d", externalPlayerID), sanitizeSegment(kind)}
	if strings.TrimSpace(subfolder) != "" {
		parts = append(parts, sanitizeSegment(subfolder))
	}
	dir := filepath.Join(parts...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	base := sanitizeSegment(strings.TrimSuffix(name, filepath.Ext(name)))
	ext := extensionFor(contentType)

	path := filepath.Join(dir, base+"."+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		} else if err != nil {
			return "", fmt.Errorf("probe attachment path: %w", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.%s", base, n, ext))
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close attachment: %w", err)
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("attachment relative path: %w", err)
	}
	return s.baseURL + "/" + filepath.ToSlash(rel), nil
}
