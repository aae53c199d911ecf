// Package ignite provides a high-performance key/value data store
// designed for fast read and write operations, inspired by Bitcask.
// It combines an in-memory hash index with a bounded in-memory memtable that
// is flushed into immutable, append-only disktable files on disk. It is
// designed for applications requiring fast read and write operations, such as
// caching, session management, and real-time data processing.
package ignite

import (
	"context"
	"errors"
	"time"

	"github.com/ignitedb/ignite/internal/engine"
	"github.com/ignitedb/ignite/pkg/logger"
	"github.com/ignitedb/ignite/pkg/options"
)

// ErrNotFound is returned by Get when the key has no live value, whether it
// was never written, has been deleted, or has expired.
var ErrNotFound = errors.New("ignite: key not found")

// Represents an instance of the Ignite key/value data store.
// It encapsulates the core engine responsible for data handling and
// the configuration options for this specific database instance.
//
// Instance is the primary entry point for interacting with the Ignite store,
// providing methods for setting, getting, and deleting key-value pairs.
type Instance struct {
	engine  *engine.Engine   // The underlying database engine handling read/write operations.
	options *options.Options // Configuration options applied to this DB instance.
}

// Creates and initializes a new Ignite DB instance.
func NewInstance(context context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	// Initialize a logger for the given service.
	log := logger.New(service)

	// Initialize default options.
	defaultOpts := options.NewDefaultOptions()

	// Apply any provided functional options to override defaults.
	if len(opts) > 0 {
		for _, opt := range opts {
			opt(&defaultOpts)
		}
	}

	// Create a new internal engine with the initialized logger.
	eng, err := engine.New(context, &engine.Config{Logger: log, Options: &defaultOpts})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, options: &defaultOpts}, nil
}

// Set stores a key-value pair in the database.
// If the key already exists, its value will be updated.
// The write lands in the memtable and becomes durable once that memtable
// is flushed to a disktable.
func (i *Instance) Set(ctx context.Context, key string, value []byte) error {
	return i.engine.Set(ctx, []byte(key), value)
}

// SetX stores a key-value pair with an expiration time.
// The entry will automatically be considered expired and inaccessible
// after the specified duration from the time of setting.
// If the key already exists, its value and expiry will be updated. expiry
// is rounded up to whole seconds, since the on-disk record only carries a
// seconds-resolution TTL.
func (i *Instance) SetX(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	ttlSeconds := uint32(0)
	if expiry > 0 {
		secs := int64((expiry + time.Second - 1) / time.Second)
		if secs > 0 {
			ttlSeconds = uint32(secs)
		}
	}
	return i.engine.SetX(ctx, []byte(key), value, ttlSeconds)
}

// Get retrieves the value associated with the given key. It returns
// ErrNotFound if the key was never written, has been deleted, or has
// expired.
func (i *Instance) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := i.engine.Get(ctx, []byte(key))
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Delete removes a key-value pair from the database.
// The operation marks the key as deleted and will eventually be
// removed during compaction.
func (i *Instance) Delete(ctx context.Context, key string) error {
	return i.engine.Delete(ctx, []byte(key))
}

// Truncate drops every key, disktable, and the memtable, resetting the
// store to its empty state. Intended for tests and benchmarks.
func (i *Instance) Truncate(ctx context.Context) error {
	return i.engine.Truncate(ctx)
}

// Stats returns a point-in-time snapshot of store-wide size accounting.
func (i *Instance) Stats(ctx context.Context) (engine.Stats, error) {
	return i.engine.Stats(ctx)
}

// Close gracefully shuts down the Ignite DB instance: it stops the actor
// and reclaim goroutines, closes every disktable file handle, and releases
// the data directory lock.
func (i *Instance) Close(ctx context.Context) error {
	return i.engine.Close()
}
