package mentormatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/mentormatch/parser"
)

const (
	mediaPrefix   = "/media/"
	maxCVRunes    = 20000
	cvCacheMaxLen = 256
)

// cvResolver turns stored CV values into text. Values of the form
// /media/<name> are read from the media directory and parsed; anything
// else is returned as is.
type cvResolver struct {
	mediaDir string
	parsers  *parser.Registry

	mu    sync.Mutex
	cache map[string]cvEntry
}

type cvEntry struct {
	modTime time.Time
	text    string
}

func newCVResolver(mediaDir string, parsers *parser.Registry) *cvResolver {
	return &cvResolver{
		mediaDir: mediaDir,
		parsers:  parsers,
		cache:    make(map[string]cvEntry),
	}
}

func (c *cvResolver) Resolve(ctx context.Context, raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, mediaPrefix) {
		return raw
	}

	name := filepath.Base(strings.TrimPrefix(raw, mediaPrefix))
	if name == "." || name == "/" || name == "" {
		return raw
	}
	path := filepath.Join(c.mediaDir, name)

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("cv: file not available", "path", path, "error", err)
		return raw
	}

	c.mu.Lock()
	if e, ok := c.cache[path]; ok && e.modTime.Equal(info.ModTime()) {
		c.mu.Unlock()
		return e.text
	}
	c.mu.Unlock()

	res, err := c.parsers.Extract(ctx, path)
	if err != nil {
		slog.Warn("cv: extraction failed", "path", path, "error", err)
		return raw
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return raw
	}
	text = truncateRunes("CV (file "+name+"):\n"+text, maxCVRunes)

	c.mu.Lock()
	if len(c.cache) >= cvCacheMaxLen {
		clear(c.cache)
	}
	c.cache[path] = cvEntry{modTime: info.ModTime(), text: text}
	c.mu.Unlock()
	return text
}
