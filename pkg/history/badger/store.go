// Package badger provides an embedded [history.Store] on BadgerDB. Entry
// lists are msgpack-encoded under "history/<key>".
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/voxbridge/pkg/history"
)

const keyPrefix = "history/"

var _ history.Store = (*Store)(nil)

// Store is a BadgerDB-backed history store. All methods are safe for
// concurrent use.
type Store struct {
	db *badgerdb.DB
}

// Options configures [Open].
type Options struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Useful for tests.
	InMemory bool
}

// Open opens (or creates) a store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("history badger: Dir is required for on-disk mode")
	}
	dbOpts := badgerdb.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("history badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Load implements [history.Store]. A missing key yields an empty list.
func (s *Store) Load(_ context.Context, key string) ([]history.Entry, error) {
	if key == "" {
		return nil, history.ErrEmptyKey
	}
	var raw []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history badger: load %q: %w", key, err)
	}

	var entries []history.Entry
	if err := msgpack.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("history badger: decode %q: %w", key, err)
	}
	return entries, nil
}

// Save implements [history.Store].
func (s *Store) Save(_ context.Context, key string, entries []history.Entry) error {
	if key == "" {
		return history.ErrEmptyKey
	}
	raw, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("history badger: encode %q: %w", key, err)
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyPrefix+key), raw)
	})
	if err != nil {
		return fmt.Errorf("history badger: save %q: %w", key, err)
	}
	return nil
}

// slogLogger routes badger's internal logging through slog. Info and debug
// output is demoted to debug.
type slogLogger struct{}

func (slogLogger) Errorf(format string, args ...any) {
	slog.Error(fmt.Sprintf("badger: "+format, args...))
}

func (slogLogger) Warningf(format string, args ...any) {
	slog.Warn(fmt.Sprintf("badger: "+format, args...))
}

func (slogLogger) Infof(format string, args ...any) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}

func (slogLogger) Debugf(format string, args ...any) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}
