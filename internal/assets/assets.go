// Package assets resolves reference-photo template images by treatment
// category. Images live in a flat directory (`<category>.jpg` or
// `<category>.png`); binary payloads are resized once and cached, and an
// optional base URL serves channels that only accept link-based media.
package assets

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// ErrNotFound is returned when no template image exists for a category.
var ErrNotFound = fmt.Errorf("template asset not found")

// Asset is a resolved template image ready for upload.
type Asset struct {
	Data     []byte
	MimeType string
}

// Resolver loads, resizes and caches template images.
type Resolver struct {
	dir      string
	baseURL  string
	maxWidth int

	mu    sync.Mutex
	cache map[string]*Asset

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewResolver creates a resolver over dir. baseURL may be empty when no
// URL-based delivery is needed; maxWidth bounds the longest side of
// delivered images (0 disables resizing).
func NewResolver(dir, baseURL string, maxWidth int) *Resolver {
	return &Resolver{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxWidth: maxWidth,
		cache:    make(map[string]*Asset),
	}
}

// Watch invalidates the cache when files under the asset directory change.
// Optional; without it, edits require a restart.
func (r *Resolver) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create asset watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch asset dir %s: %w", r.dir, err)
	}
	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					r.invalidate(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("asset watcher error", "error", err)
			}
		}
	}()

	slog.Info("watching template assets", "dir", r.dir)
	return nil
}

// Close stops the watcher if one is running.
func (r *Resolver) Close() {
	if r.watcher != nil {
		close(r.done)
		r.watcher.Close()
		r.watcher = nil
	}
}

func (r *Resolver) invalidate(path string) {
	name := strings.ToLower(filepath.Base(path))
	category := strings.TrimSuffix(name, filepath.Ext(name))

	r.mu.Lock()
	delete(r.cache, category)
	r.mu.Unlock()

	slog.Debug("template asset cache invalidated", "category", category)
}

// Binary returns the resized template image for a category.
func (r *Resolver) Binary(category string) (*Asset, error) {
	key := strings.ToLower(category)

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	path, err := r.find(key)
	if err != nil {
		return nil, err
	}

	asset, err := r.load(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = asset
	r.mu.Unlock()
	return asset, nil
}

// URL returns the public URL for a category's template image, when a base
// URL is configured and the file exists.
func (r *Resolver) URL(category string) (string, error) {
	if r.baseURL == "" {
		return "", ErrNotFound
	}
	path, err := r.find(strings.ToLower(category))
	if err != nil {
		return "", err
	}
	return r.baseURL + "/" + filepath.Base(path), nil
}

func (r *Resolver) find(category string) (string, error) {
	for _, ext := range imageExtensions {
		path := filepath.Join(r.dir, category+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: category %q in %s", ErrNotFound, category, r.dir)
}

func (r *Resolver) load(path string) (*Asset, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open template asset %s: %w", path, err)
	}

	if r.maxWidth > 0 && img.Bounds().Dx() > r.maxWidth {
		img = imaging.Resize(img, r.maxWidth, 0, imaging.Lanczos)
	}

	format, mimeType := encodingFor(path)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode template asset %s: %w", path, err)
	}
	return &Asset{Data: buf.Bytes(), MimeType: mimeType}, nil
}

func encodingFor(path string) (imaging.Format, string) {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return imaging.PNG, "image/png"
	}
	return imaging.JPEG, "image/jpeg"
}

// Dimensions reports the stored image size without decoding pixels. Used by
// the doctor command to sanity-check assets.
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}
