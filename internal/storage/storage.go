package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/adscript/api/internal/config"
)

// ErrNotFound is returned by Get when no object exists under the key
var ErrNotFound = errors.New("object not found")

// BlobStore defines the object storage operations used for scenario
// documents and generated images. Keys are slash separated.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New builds the configured blob store wrapped in a read cache. The s3
// driver falls back to the local filesystem when credentials are missing.
func New(cfg *config.StorageConfig) (BlobStore, error) {
	var (
		origin BlobStore
		err    error
	)
	switch strings.ToLower(cfg.Driver) {
	case "s3":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			log.Println("Info: S3 storage not configured, using local storage")
			origin, err = NewLocalStore(cfg.Root)
		} else {
			origin, err = NewS3Store(cfg)
		}
	case "", "local":
		origin, err = NewLocalStore(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize <= 0 {
		return origin, nil
	}
	return NewCachedStore(origin, cfg.CacheSize)
}

// ScenarioKey is the document key of a project's scenario
func ScenarioKey(userID string, projectID int64) string {
	return fmt.Sprintf("%s/%d/%s_%d_scenario.json", userID, projectID, userID, projectID)
}

// ImageKey is the key of a generated block image. token keeps successive
// jobs for the same block from overwriting each other, so an image that
// moved to another index with a reorder is never clobbered.
func ImageKey(userID string, projectID int64, index int, edited bool, token string) string {
	variant := "image"
	if edited {
		variant = "edited_image"
	}
	return fmt.Sprintf("%s/%d/%s_%d_block_%d_%s_%s.png", userID, projectID, userID, projectID, index, token, variant)
}
