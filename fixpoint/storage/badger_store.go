// Package storage persists named base collections in BadgerDB so plans can
// read them as sources.
package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
)

// Key layout:
//
//	meta/<name>              -> uvarint arity
//	src/<name>\x00<row>      -> big-endian int64 multiplicity
var (
	metaPrefix = []byte("meta/")
	srcPrefix  = []byte("src/")
)

// BadgerStore holds named collections of rows with positive multiplicities.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a store at path. An empty path opens an in-memory
// store.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.DetectConflicts = false
	opts.ValueThreshold = 1 << 10

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func checkName(name string) error {
	if name == "" || strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("invalid source name %q", name)
	}
	return nil
}

func metaKey(name string) []byte {
	return append(append([]byte{}, metaPrefix...), name...)
}

func rowPrefix(name string) []byte {
	k := make([]byte, 0, len(srcPrefix)+len(name)+1)
	k = append(k, srcPrefix...)
	k = append(k, name...)
	return append(k, 0)
}

func rowKey(name string, r fixpoint.Row) []byte {
	return append(rowPrefix(name), fixpoint.EncodeRow(r)...)
}

func encodeDiff(d int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(d))
	return buf[:]
}

func decodeDiff(val []byte) (int64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt multiplicity of %d bytes", len(val))
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

// validate consolidates c and checks its arity.
func validate(name string, arity int, c *collection.Collection) (*collection.Collection, error) {
	c = c.Consolidate()
	if u, ok := c.CheckArity(arity); !ok {
		return nil, &fixpoint.ArityError{Binding: name, Expected: arity, Got: len(u.Row), Row: u.Row}
	}
	return c, nil
}

// arity reads the declared arity of name; ok is false when it does not exist.
func arity(txn *badger.Txn, name string) (int, bool, error) {
	item, err := txn.Get(metaKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		var read int
		n, read = binary.Uvarint(val)
		if read <= 0 {
			return fmt.Errorf("corrupt arity for %s", name)
		}
		return nil
	})
	return int(n), true, err
}

// rowKeys lists the stored row keys of name.
func (s *BadgerStore) rowKeys(name string) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = rowPrefix(name)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// Put replaces the named collection. Every multiplicity must be positive
// after consolidation. Writes go through a write batch so the collection
// size is not limited by a single transaction; a failed Put may leave the
// collection partially replaced.
func (s *BadgerStore) Put(name string, arityN int, c *collection.Collection) error {
	if err := checkName(name); err != nil {
		return err
	}
	c, err := validate(name, arityN, c)
	if err != nil {
		return err
	}
	if u, neg := c.HasNegative(); neg {
		return fixpoint.NegativeAccumulationf("source %s holds %s with multiplicity %d", name, u.Row, u.Diff)
	}
	stale, err := s.rowKeys(name)
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	entries := c.Entries()
	written := make(map[string]struct{}, len(entries))
	for _, u := range entries {
		key := rowKey(name, u.Row)
		written[string(key)] = struct{}{}
		if err := wb.Set(key, encodeDiff(u.Diff)); err != nil {
			return fmt.Errorf("put %s: %w", name, err)
		}
	}
	for _, k := range stale {
		if _, ok := written[string(k)]; ok {
			continue
		}
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("put %s: %w", name, err)
		}
	}
	if err := wb.Set(metaKey(name), binary.AppendUvarint(nil, uint64(arityN))); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return wb.Flush()
}

// Append adds the updates of c to the named collection, creating it when
// absent. Retractions are allowed as long as no row ends up negative; the
// whole batch is rejected otherwise.
func (s *BadgerStore) Append(name string, arityN int, c *collection.Collection) error {
	if err := checkName(name); err != nil {
		return err
	}
	c, err := validate(name, arityN, c)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		existing, ok, err := arity(txn, name)
		if err != nil {
			return err
		}
		if ok && existing != arityN {
			return &fixpoint.ArityError{Binding: name, Expected: existing, Got: arityN}
		}
		if !ok {
			if err := txn.Set(metaKey(name), binary.AppendUvarint(nil, uint64(arityN))); err != nil {
				return err
			}
		}
		for _, u := range c.Entries() {
			key := rowKey(name, u.Row)
			var current int64
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					current, err = decodeDiff(val)
					return err
				}); err != nil {
					return err
				}
			}
			next := current + u.Diff
			switch {
			case next < 0:
				return fixpoint.NegativeAccumulationf("source %s would hold %s with multiplicity %d", name, u.Row, next)
			case next == 0:
				if err := txn.Delete(key); err != nil {
					return err
				}
			default:
				if err := txn.Set(key, encodeDiff(next)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Drop removes the named collection. Dropping a missing name is not an error.
func (s *BadgerStore) Drop(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	keys, err := s.rowKeys(name)
	if err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range append(keys, metaKey(name)) {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return wb.Flush()
}

// Arity returns the declared arity of the named collection.
func (s *BadgerStore) Arity(name string) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		a, ok, err := arity(txn, name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", fixpoint.ErrUnknownSource, name)
		}
		n = a
		return nil
	})
	return n, err
}

// Names returns the stored collection names in order.
func (s *BadgerStore) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = metaPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(bytes.TrimPrefix(it.Item().Key(), metaPrefix)))
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// Source reads the named collection. It implements executor.Sources.
func (s *BadgerStore) Source(ctx context.Context, name string) (*collection.Collection, error) {
	var updates []collection.Update
	err := s.db.View(func(txn *badger.Txn) error {
		if _, ok, err := arity(txn, name); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %s", fixpoint.ErrUnknownSource, name)
		}

		prefix := rowPrefix(name)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			r, err := fixpoint.DecodeRow(item.Key()[len(prefix):])
			if err != nil {
				return fmt.Errorf("source %s: %w", name, err)
			}
			var diff int64
			if err := item.Value(func(val []byte) error {
				diff, err = decodeDiff(val)
				return err
			}); err != nil {
				return fmt.Errorf("source %s: %w", name, err)
			}
			updates = append(updates, collection.Update{Row: r, Diff: diff})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return collection.FromUpdates(updates), nil
}
