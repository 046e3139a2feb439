package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/heirloomvault/custody-backend/interfaces"
)

// BlobBackendFactory creates blob store backends from URI strings.
type BlobBackendFactory struct {
	log *slog.Logger
}

// NewBlobBackendFactory creates a factory for blob store backends.
func NewBlobBackendFactory(log *slog.Logger) *BlobBackendFactory {
	return &BlobBackendFactory{log: log}
}

// BackendFor creates a blob store from a location URI.
//
// Supported schemes:
//   - file:///var/lib/custody/blobs
//   - s3://bucket/prefix?region=eu-west-1&endpoint=http://minio:9000&access_key=...&secret_key=...
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *BlobBackendFactory) BackendFor(locationURI string) (interfaces.BlobStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid blob store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	default:
		return nil, fmt.Errorf("unsupported blob store scheme: %s", u.Scheme)
	}
}

// createFileBackend creates a local filesystem backend.
// URI format: file:///absolute/path
func (f *BlobBackendFactory) createFileBackend(u *url.URL) (interfaces.BlobStore, error) {
	dir := u.Path
	if u.Host != "" {
		// file://relative/path parses the first segment as host.
		dir = u.Host + u.Path
	}
	if dir == "" {
		return nil, fmt.Errorf("file blob store requires a path")
	}
	return NewFileBackend(dir, f.log)
}

// createS3Backend creates an S3 backend.
// URI format: s3://bucket/prefix with region/endpoint/credentials as query
// parameters.
func (f *BlobBackendFactory) createS3Backend(u *url.URL) (interfaces.BlobStore, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3 blob store requires a bucket name")
	}

	q := u.Query()
	region := q.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	accessKey := q.Get("access_key")
	secretKey := q.Get("secret_key")
	if u.User != nil {
		accessKey = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			secretKey = pw
		}
	}

	return NewS3Backend(bucket, prefix, region, q.Get("endpoint"), accessKey, secretKey, f.log)
}
