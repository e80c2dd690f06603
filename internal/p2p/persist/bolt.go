// Package persist implements the Persistence interface over
// github.com/boltdb/bolt, the embedded key-value store this corpus's
// teacher repo already depends on for local durability.
package persist

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/empower1/empower1/internal/p2p"
)

var addressBookBucket = []byte("addressbook")

// BoltStore implements p2p.Persistence backed by a single boltdb file.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) the boltdb file at path and ensures the
// address-book bucket exists.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("persist: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(addressBookBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: creating bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying boltdb file handle.
func (s *BoltStore) Close() error { return s.db.Close() }

// record is the gob-encoded on-disk form of a PeerAddressSnapshot.
// p2p.Service wraps an unexported net.IP field, so it is flattened to
// its textual form here rather than gob-encoding the struct directly.
type record struct {
	Service      string
	SourceGroup  string
	Services     uint64
	LastSeen     int64
	LastTry      int64
	AttemptCount uint32
	SuccessCount uint32
}

// WriteAddressBook implements p2p.Persistence, invoked by the Lifecycle
// Supervisor's Address Dumper every 100s and once on shutdown.
func (s *BoltStore) WriteAddressBook(entries []p2p.PeerAddressSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		// boltdb has no bulk-clear; drop and recreate the bucket so a
		// shrinking address book doesn't leave stale entries behind.
		if err := tx.DeleteBucket(addressBookBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(addressBookBucket)
		if err != nil {
			return err
		}
		for _, e := range entries {
			rec := record{
				Service:      e.Service.String(),
				SourceGroup:  e.SourceGroup,
				Services:     e.Services,
				LastSeen:     e.LastSeen,
				LastTry:      e.LastTry,
				AttemptCount: e.AttemptCount,
				SuccessCount: e.SuccessCount,
			}
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
				return fmt.Errorf("persist: encoding %s: %w", rec.Service, err)
			}
			if err := b.Put([]byte(rec.Service), buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadAddressBook implements p2p.Persistence, invoked once at startup.
func (s *BoltStore) ReadAddressBook() ([]p2p.PeerAddressSnapshot, error) {
	var out []p2p.PeerAddressSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(addressBookBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec record
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
				return fmt.Errorf("persist: decoding %s: %w", k, err)
			}
			svc, err := p2p.ParseService(rec.Service)
			if err != nil {
				return nil // skip a corrupted/legacy entry rather than failing startup
			}
			out = append(out, p2p.PeerAddressSnapshot{
				Service:      svc,
				SourceGroup:  rec.SourceGroup,
				Services:     rec.Services,
				LastSeen:     rec.LastSeen,
				LastTry:      rec.LastTry,
				AttemptCount: rec.AttemptCount,
				SuccessCount: rec.SuccessCount,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
