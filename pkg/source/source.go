// Package source lists and opens cost export blobs in object storage.
package source

import (
	"context"
	"fmt"
	"io"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Name         string
	LastModified time.Time
	ETag         string
	Size         int64
}

// Source is a read-only view of a bucket or container holding cost exports.
type Source interface {
	// Name returns the source identifier.
	Name() string

	// List returns all blobs whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)

	// Open streams a blob's content. The caller closes the reader.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Config selects and configures a Source.
type Config struct {
	Type  string
	Azure AzureConfig
	S3    S3Config
	Local LocalConfig
}

// New builds the Source named by cfg.Type.
func New(ctx context.Context, cfg Config) (Source, error) {
	switch cfg.Type {
	case "azure":
		return NewAzure(cfg.Azure)
	case "s3":
		return NewS3(ctx, cfg.S3)
	case "local", "":
		return NewLocal(cfg.Local.Dir)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
