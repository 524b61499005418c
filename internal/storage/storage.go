// Package storage keeps uploaded and signed documents in object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// MaxPresignTTL is the longest validity S3-compatible stores accept for a presigned URL.
const MaxPresignTTL = 7 * 24 * time.Hour

var ErrObjectNotFound = errors.New("storage: object not found")

type ObjectStore interface {
	// Upload stores the object and returns its public URL.
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)
	Rename(ctx context.Context, from, to string) error
	PresignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	PublicURL(path string) string
	PathFromURL(rawURL string) (string, error)
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxPresignTTL {
		return MaxPresignTTL
	}
	return ttl
}

// pathFromURL resolves an object path from either a path-style bucket URL
// (https://host/<bucket>/<path>) or a download URL that carries the escaped path
// after "/o/".
func pathFromURL(rawURL, bucket string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("storage: parse url: %w", err)
	}
	p := u.EscapedPath()
	if i := strings.Index(p, "/o/"); i >= 0 {
		p = p[i+len("/o/"):]
	} else {
		p = strings.TrimPrefix(p, "/")
		p = strings.TrimPrefix(p, bucket+"/")
	}
	p, err = url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("storage: unescape path: %w", err)
	}
	if p == "" || p == bucket {
		return "", fmt.Errorf("storage: no object path in %q", rawURL)
	}
	return p, nil
}
