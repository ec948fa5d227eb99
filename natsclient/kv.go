package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

var (
	ErrKVKeyNotFound      = errors.New("kv: key not found")
	ErrKVRevisionMismatch = errors.New("kv: revision mismatch")
)

// KVEntry is a value with the revision it was read at.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore wraps a JetStream bucket with a per-call timeout and this
// package's errors. Watch is long-lived and has no timeout.
type KVStore struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
	logger  *slog.Logger
}

// NewKVStore wraps bucket with the client's logger and a 5s call timeout.
func (c *Client) NewKVStore(bucket jetstream.KeyValue) *KVStore {
	return NewKVStore(bucket, c.logger, 5*time.Second)
}

// NewKVStore wraps any jetstream.KeyValue. A zero timeout leaves calls
// bounded only by their context.
func NewKVStore(bucket jetstream.KeyValue, logger *slog.Logger, timeout time.Duration) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{bucket: bucket, timeout: timeout, logger: logger}
}

func (kv *KVStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, kv.timeout)
}

func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	switch {
	case IsKVNotFoundError(err):
		return nil, ErrKVKeyNotFound
	case err != nil:
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes key unconditionally and returns the new revision.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	kv.logger.Debug("kv put", "key", key, "revision", rev)
	return rev, nil
}

// Update writes key only if it is still at revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	switch {
	case errors.Is(err, jetstream.ErrKeyExists):
		return 0, ErrKVRevisionMismatch
	case err != nil:
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.bounded(ctx)
	defer cancel()

	err := kv.bucket.Delete(ctx, key)
	switch {
	case IsKVNotFoundError(err):
		return ErrKVKeyNotFound
	case err != nil:
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (kv *KVStore) Watch(ctx context.Context, pattern string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern, opts...)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return watcher, nil
}

func IsKVNotFoundError(err error) bool {
	return errors.Is(err, ErrKVKeyNotFound) || errors.Is(err, jetstream.ErrKeyNotFound)
}
