// Stores collections in a bolt database.

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

// OpenBolt opens or creates the bolt database at path.
//
// The caller owns the returned database and must close it.
func OpenBolt(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	return db, nil
}

// Bolt is a Backend storing each record as a JSON value in a bolt bucket,
// keyed by its big endian ID so that cursor order is ID order.
type Bolt[T Row[T]] struct {
	db     *bolt.DB
	bucket []byte
}

// NewBolt returns a backend over bucket in db, creating the bucket if needed.
func NewBolt[T Row[T]](db *bolt.DB, bucket string) (*Bolt[T], error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return &Bolt[T]{db: db, bucket: []byte(bucket)}, nil
}

// Load implements Backend.
func (b *Bolt[T]) Load(_ context.Context) ([]T, error) {
	rows := []T{}
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, v []byte) error {
			var row T
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("failed to decode %s/%d: %w", b.bucket, binary.BigEndian.Uint64(k), err)
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Save implements Backend. The bucket is rewritten in a single transaction.
func (b *Bolt[T]) Save(_ context.Context, rows []T) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(b.bucket) != nil {
			if err := tx.DeleteBucket(b.bucket); err != nil {
				return fmt.Errorf("failed to clear bucket %s: %w", b.bucket, err)
			}
		}
		bk, err := tx.CreateBucket(b.bucket)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", b.bucket, err)
		}
		for _, row := range rows {
			v, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("failed to encode %s/%d: %w", b.bucket, row.GetID(), err)
			}
			if err := bk.Put(boltKey(row.GetID()), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func boltKey(id int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(id))
	return k[:]
}
