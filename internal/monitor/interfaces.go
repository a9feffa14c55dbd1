package monitor

import (
	"context"
	"time"
)

// Store is the externally owned key-value store holding snapshots, the URL
// list and the latest report.
type Store interface {
	// Get returns the value for key; found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Close() error
}

// Fetcher retrieves the current rendered content of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Analyzer summarizes the most significant difference between two snapshots.
// Any returned error is treated by callers as a soft failure.
type Analyzer interface {
	Analyze(ctx context.Context, previous, current string) (*Analysis, error)
}

// Relay hands a scan request to the asynchronous worker.
type Relay interface {
	Enqueue(ctx context.Context, req ScanRequest) error
}

// Handler processes one relayed scan request.
type Handler func(ctx context.Context, req ScanRequest) error

// Consumer delivers relayed scan requests to a handler until ctx ends.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Hasher computes content digests for logging.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
