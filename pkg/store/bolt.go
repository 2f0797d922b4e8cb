package store

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/flowforge/flowforge/pkg/flowlog"
	"github.com/flowforge/flowforge/pkg/mcperrors"
)

// Bolt is a durable KV backed by go.etcd.io/bbolt, grounded on the
// teacher's BoltSessionStore: one bucket per group, created lazily on
// first write, every operation respecting ctx cancellation via a buffered
// result channel.
type Bolt struct {
	db     *bolt.DB
	logger flowlog.Logger
}

// OpenBolt opens (creating if necessary) a BoltDB database at path.
func OpenBolt(path string, logger flowlog.Logger) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, mcperrors.Wrap(err, "store", "failed to open bolt database").
			WithContext("path", path)
	}
	return &Bolt{db: db, logger: logger}, nil
}

// Close releases the underlying database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func bucketName(group string) []byte {
	return []byte(group)
}

// Get implements KV.
func (b *Bolt) Get(ctx context.Context, group, key string) ([]byte, bool, error) {
	type result struct {
		value []byte
		found bool
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		var value []byte
		var found bool
		err := b.db.View(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(bucketName(group))
			if bucket == nil {
				return nil
			}
			v := bucket.Get([]byte(key))
			if v == nil {
				return nil
			}
			found = true
			value = append([]byte(nil), v...)
			return nil
		})
		resultCh <- result{value: value, found: found, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-resultCh:
		return res.value, res.found, res.err
	}
}

// Set implements KV.
func (b *Bolt) Set(ctx context.Context, group, key string, value []byte) error {
	resultCh := make(chan error, 1)

	go func() {
		resultCh <- b.db.Update(func(tx *bolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists(bucketName(group))
			if err != nil {
				return err
			}
			return bucket.Put([]byte(key), value)
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-resultCh:
		return err
	}
}

// Delete implements KV.
func (b *Bolt) Delete(ctx context.Context, group, key string) error {
	resultCh := make(chan error, 1)

	go func() {
		resultCh <- b.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(bucketName(group))
			if bucket == nil {
				return nil
			}
			return bucket.Delete([]byte(key))
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-resultCh:
		return err
	}
}

// GetGroup implements KV.
func (b *Bolt) GetGroup(ctx context.Context, group string) ([][]byte, error) {
	type result struct {
		values [][]byte
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		var values [][]byte
		err := b.db.View(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(bucketName(group))
			if bucket == nil {
				return nil
			}
			return bucket.ForEach(func(_, v []byte) error {
				values = append(values, append([]byte(nil), v...))
				return nil
			})
		})
		resultCh <- result{values: values, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.values, res.err
	}
}

// Clear implements KV.
func (b *Bolt) Clear(ctx context.Context, group string) error {
	resultCh := make(chan error, 1)

	go func() {
		resultCh <- b.db.Update(func(tx *bolt.Tx) error {
			if tx.Bucket(bucketName(group)) == nil {
				return nil
			}
			return tx.DeleteBucket(bucketName(group))
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-resultCh:
		return err
	}
}
