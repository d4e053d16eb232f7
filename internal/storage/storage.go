package storage

import (
	"context"
	"io"
)

// Storage receives published report files.
type Storage interface {
	// Put stores the content under key and returns where it ended up.
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error)
}
