package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/arobust/arobust/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Nested bucket and key names inside a role bucket
	bucketRecords = []byte("records")
	bucketSteps   = []byte("steps")
	keyLatest     = []byte("latest")
)

const (
	// ManifestFile is the database file name inside a checkpoint root
	ManifestFile = "manifest.db"

	// OpenTimeout bounds the wait for another process's file lock
	OpenTimeout = time.Second
)

// BoltStore implements Manifest using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the manifest database in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, ManifestFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// stepKey orders (episode, step) pairs bytewise, including negative values
func stepKey(episode, step int64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(episode)^(1<<63))
	binary.BigEndian.PutUint64(k[8:], uint64(step)^(1<<63))
	return k
}

func roleBuckets(tx *bolt.Tx, role types.Role, create bool) (root, records, steps *bolt.Bucket, err error) {
	name := []byte(role)
	if create {
		if root, err = tx.CreateBucketIfNotExists(name); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create bucket %s: %w", role, err)
		}
		if records, err = root.CreateBucketIfNotExists(bucketRecords); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create records bucket: %w", err)
		}
		if steps, err = root.CreateBucketIfNotExists(bucketSteps); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create steps bucket: %w", err)
		}
		return root, records, steps, nil
	}

	root = tx.Bucket(name)
	if root == nil {
		return nil, nil, nil, nil
	}
	return root, root.Bucket(bucketRecords), root.Bucket(bucketSteps), nil
}

func decodeRecord(data []byte) (*types.CheckpointRecord, error) {
	var rec types.CheckpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint record: %w", err)
	}
	return &rec, nil
}

// Publish commits rec, its step index entry and the latest pointer in one transaction
func (s *BoltStore) Publish(rec *types.CheckpointRecord) (*types.CheckpointRecord, error) {
	var replaced *types.CheckpointRecord

	err := s.db.Update(func(tx *bolt.Tx) error {
		root, records, steps, err := roleBuckets(tx, rec.Role, true)
		if err != nil {
			return err
		}

		sk := stepKey(rec.Episode, rec.Step)
		if prev := steps.Get(sk); prev != nil {
			if data := records.Get(prev); data != nil {
				if replaced, err = decodeRecord(data); err != nil {
					return err
				}
			}
			if err := records.Delete(prev); err != nil {
				return err
			}
		}

		seq, err := records.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		rec.Sequence = seq

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := records.Put(key, data); err != nil {
			return err
		}
		if err := steps.Put(sk, key); err != nil {
			return err
		}
		return root.Put(keyLatest, key)
	})
	if err != nil {
		rec.Sequence = 0
		return nil, err
	}
	return replaced, nil
}

// Remove deletes one record and repairs the index and latest pointer
func (s *BoltStore) Remove(role types.Role, seq uint64) (*types.CheckpointRecord, error) {
	var removed *types.CheckpointRecord

	err := s.db.Update(func(tx *bolt.Tx) error {
		root, records, steps, _ := roleBuckets(tx, role, false)
		if root == nil {
			return fmt.Errorf("checkpoint %s/%d: %w", role, seq, ErrNotFound)
		}

		key := seqKey(seq)
		data := records.Get(key)
		if data == nil {
			return fmt.Errorf("checkpoint %s/%d: %w", role, seq, ErrNotFound)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		removed = rec

		if err := records.Delete(key); err != nil {
			return err
		}
		sk := stepKey(rec.Episode, rec.Step)
		if cur := steps.Get(sk); cur != nil && binary.BigEndian.Uint64(cur) == seq {
			if err := steps.Delete(sk); err != nil {
				return err
			}
		}

		if latest := root.Get(keyLatest); latest != nil && binary.BigEndian.Uint64(latest) == seq {
			last, _ := records.Cursor().Last()
			if last == nil {
				return root.Delete(keyLatest)
			}
			return root.Put(keyLatest, append([]byte(nil), last...))
		}
		return nil
	})
	return removed, err
}

// Get returns the record published for (episode, step)
func (s *BoltStore) Get(role types.Role, episode, step int64) (*types.CheckpointRecord, error) {
	var rec *types.CheckpointRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		root, records, steps, _ := roleBuckets(tx, role, false)
		if root == nil {
			return fmt.Errorf("checkpoint %s episode %d step %d: %w", role, episode, step, ErrNotFound)
		}
		key := steps.Get(stepKey(episode, step))
		if key == nil {
			return fmt.Errorf("checkpoint %s episode %d step %d: %w", role, episode, step, ErrNotFound)
		}
		data := records.Get(key)
		if data == nil {
			return fmt.Errorf("checkpoint %s episode %d step %d: %w", role, episode, step, ErrNotFound)
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	return rec, err
}

// Latest returns the most recently published record
func (s *BoltStore) Latest(role types.Role) (*types.CheckpointRecord, error) {
	var rec *types.CheckpointRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		root, records, _, _ := roleBuckets(tx, role, false)
		if root == nil {
			return fmt.Errorf("latest checkpoint %s: %w", role, ErrNotFound)
		}
		key := root.Get(keyLatest)
		if key == nil {
			return fmt.Errorf("latest checkpoint %s: %w", role, ErrNotFound)
		}
		data := records.Get(key)
		if data == nil {
			return fmt.Errorf("latest checkpoint %s: %w", role, ErrNotFound)
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	return rec, err
}

// List returns all records of a role in publish order
func (s *BoltStore) List(role types.Role) ([]*types.CheckpointRecord, error) {
	var recs []*types.CheckpointRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		root, records, _, _ := roleBuckets(tx, role, false)
		if root == nil {
			return nil
		}
		return records.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

// Roles returns the roles present in the manifest
func (s *BoltStore) Roles() ([]types.Role, error) {
	var roles []types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			roles = append(roles, types.Role(name))
			return nil
		})
	})
	return roles, err
}
