// Package filestore defines the interface for object storage backends that
// can hold the persisted cursor.
//
// Callers depend only on this package, never on a specific provider package.
//
// Usage:
//
//	cfg := &filestore.Config{Endpoint: "localhost:9000", AccessKey: "minioadmin", SecretKey: "minioadmin"}
//	cfg.Bucket = "pipelines"
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	err = store.PutObject(ctx, cfg.Bucket, cfg.Key, []byte("42\n"))
package filestore

import "context"

// Store is the single interface all object storage providers must implement.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources (connections, goroutines, etc.).
	Close() error

	// GetObject opens a streaming handle to the object at key inside bucket.
	// A missing object is reported as errs.ErrKindNotFound.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// PutObject replaces the object at key with data in a single request.
	// Readers observe either the previous content or data, never a mix.
	PutObject(ctx context.Context, bucket, key string, data []byte) error

	// RemoveObject deletes the object at key. Removing a missing object
	// is not an error.
	RemoveObject(ctx context.Context, bucket, key string) error
}
