package scrape

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves one target. The per-call deadline travels in ctx.
type Fetcher interface {
	Fetch(ctx context.Context, target Target) (FetchResult, error)
}

// Sink persists a finished batch.
type Sink interface {
	Write(ctx context.Context, batch Batch) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
