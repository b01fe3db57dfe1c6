package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"kostfinder/internal/config"
)

// ErrImageNotFound is returned when a key does not name a stored image.
var ErrImageNotFound = errors.New("image not found")

// UploadResult is where an uploaded image ended up.
type UploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// IImageStore is a blob store for listing and profile images.
// Both providers are interchangeable behind it.
type IImageStore interface {
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (*UploadResult, error)
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
	Replace(ctx context.Context, key, contentType string, data []byte) error
	Provider() string
}

// NewImageStore builds the provider selected by cfg.ImageProvider.
func NewImageStore(ctx context.Context, cfg *config.Config, database *mongo.Database) (IImageStore, error) {
	switch cfg.ImageProvider {
	case config.ImageProviderS3:
		return NewS3Storage(ctx, cfg)
	case config.ImageProviderGridFS:
		return NewGridFSStorage(database, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.ImageProvider)
	}
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename keeps only the base name and replaces anything outside
// [A-Za-z0-9._-] so the result is safe inside an object key.
func SanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "image"
	}
	return base
}
