// Package boltstore persists trigger variables in a bbolt file so they
// survive restarts and trigger reloads.
package boltstore

import (
	"context"
	"fmt"
	"log"
	"os"

	bbolt "go.etcd.io/bbolt"
)

// Store wraps a bbolt database holding one variable map per trigger id.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketVars} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyVersion); v == nil {
			return meta.Put(keyVersion, intToKey(storeVersion))
		} else if got := keyToInt(v); got != storeVersion {
			return fmt.Errorf("unsupported store version %d", got)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init %s: %w", path, err)
	}
	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// LoadVars returns the stored variables of a trigger, or an empty map.
func (s *Store) LoadVars(ctx context.Context, triggerID int) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vars := map[string]string{}
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketVars).Get(intToKey(triggerID))
		if data == nil {
			return nil
		}
		v, err := decodeVars(data)
		if err != nil {
			return err
		}
		vars = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load vars of trigger %d: %w", triggerID, err)
	}
	return vars, nil
}

// SaveVars replaces the stored variables of a trigger. An empty map
// deletes the entry.
func (s *Store) SaveVars(ctx context.Context, triggerID int, vars map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vars) == 0 {
		return s.DeleteVars(triggerID)
	}
	data, err := encodeVars(vars)
	if err != nil {
		return fmt.Errorf("boltstore: encode vars of trigger %d: %w", triggerID, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVars).Put(intToKey(triggerID), data)
	})
}

// DeleteVars removes the stored variables of a trigger.
func (s *Store) DeleteVars(triggerID int) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVars).Delete(intToKey(triggerID))
	})
}

// TriggerIDs returns the ids that have stored variables, in ascending order.
func (s *Store) TriggerIDs() ([]int, error) {
	var ids []int
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVars).ForEach(func(k, _ []byte) error {
			ids = append(ids, keyToInt(k))
			return nil
		})
	})
	return ids, err
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		if err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}
