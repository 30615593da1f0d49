// Package storage opens the buckets used for downloads and the catalog.
//
// A location is either a blob URL (file://, s3://, gs://, mem://) or a plain
// local directory. Local directories are created, including parents, before
// the bucket is opened.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
)

// IsURL reports whether location names a blob URL rather than a directory.
func IsURL(location string) bool {
	return strings.Contains(location, "://")
}

// Open returns a bucket rooted at location.
func Open(ctx context.Context, location string) (*blob.Bucket, error) {
	if location == "" {
		return nil, fmt.Errorf("storage: empty location")
	}
	if IsURL(location) {
		bucket, err := blob.OpenBucket(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", location, err)
		}
		return bucket, nil
	}

	dir, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", location, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{
		Metadata: fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", dir, err)
	}
	return bucket, nil
}
