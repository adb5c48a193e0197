package giftcard

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/zombor/giftcard-ocr/internal/scanning"
)

// thumbnailSize bounds the width and height of a preview
const thumbnailSize = 320

// ErrPreviewNotFound is returned for unknown or released previews
var ErrPreviewNotFound = errors.New("preview not found")

// PreviewStore holds preview images for results while they are on screen.
// Every Acquire must be paired with a Release once the result is discarded.
type PreviewStore interface {
	// Acquire stores a preview for id and returns its URL
	Acquire(id string, data []byte, contentType string) (string, error)

	// Open returns the preview bytes and content type
	Open(id string) ([]byte, string, error)

	// Release deletes the preview
	Release(id string) error
}

type previewEntry struct {
	path        string
	contentType string
}

// Previews implements PreviewStore on top of a Storage, keeping JPEG thumbnails
type Previews struct {
	storage Storage
	mu      sync.Mutex
	entries map[string]previewEntry
}

// NewPreviews creates a new Previews store
func NewPreviews(storage Storage) *Previews {
	return &Previews{
		storage: storage,
		entries: make(map[string]previewEntry),
	}
}

// PreviewURL is where the HTTP server serves the preview for id
func PreviewURL(id string) string {
	return "/api/previews/" + id
}

// Acquire stores a thumbnail for id, or the original bytes if they cannot be decoded
func (p *Previews) Acquire(id string, data []byte, contentType string) (string, error) {
	preview, previewType := thumbnail(data, contentType)

	path, err := p.storage.Save(id, preview)
	if err != nil {
		return "", fmt.Errorf("saving preview: %w", err)
	}

	p.mu.Lock()
	p.entries[id] = previewEntry{path: path, contentType: previewType}
	p.mu.Unlock()

	return PreviewURL(id), nil
}

// Open returns a preview's bytes and content type
func (p *Previews) Open(id string) ([]byte, string, error) {
	p.mu.Lock()
	entry, ok := p.entries[id]
	p.mu.Unlock()
	if !ok {
		return nil, "", ErrPreviewNotFound
	}

	data, err := p.storage.Get(entry.path)
	if err != nil {
		return nil, "", fmt.Errorf("getting preview: %w", err)
	}
	return data, entry.contentType, nil
}

// Release deletes a preview; releasing an unknown id is a no-op
func (p *Previews) Release(id string) error {
	p.mu.Lock()
	entry, ok := p.entries[id]
	delete(p.entries, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	if err := p.storage.Delete(entry.path); err != nil {
		return fmt.Errorf("deleting preview: %w", err)
	}
	return nil
}

// Live returns the number of previews currently held
func (p *Previews) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// thumbnail downsizes an image to a JPEG preview.
// HEIC is converted too since browsers cannot display it.
func thumbnail(data []byte, contentType string) ([]byte, string) {
	img, err := scanning.DecodeImage(data, contentType)
	if err != nil {
		slog.Debug("Keeping original bytes as preview", "content_type", contentType, "error", err)
		return data, contentType
	}

	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		slog.Debug("Keeping original bytes as preview", "content_type", contentType, "error", err)
		return data, contentType
	}
	return buf.Bytes(), "image/jpeg"
}
