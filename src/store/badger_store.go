package store

import (
	"github.com/dgraph-io/badger"
	badger_options "github.com/dgraph-io/badger/options"
	cm "github.com/mosaicnetworks/hub/src/common"
	"github.com/sirupsen/logrus"
)

// BadgerStore is a Store persisted in a Badger database.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithTableLoadingMode(badger_options.FileIO).
		WithValueLogLoadingMode(badger_options.FileIO)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// StorePath returns the full path of the underlying Badger database directory.
func (s *BadgerStore) StorePath() string {
	return s.path
}

// Get implements Store.
func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if isDBKeyNotFound(err) {
		return nil, cm.NewStoreErr("BadgerStore", cm.KeyNotFound, cm.EncodeToString(key))
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Has implements Store.
func (s *BadgerStore) Has(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if isDBKeyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Iterate implements Store.
func (s *BadgerStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}

		return nil
	})

	if err == ErrStopIteration {
		return nil
	}
	return err
}

// Count implements Store. It only walks the LSM tree, values are not read.
func (s *BadgerStore) Count(prefix []byte) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// Write implements Store.
func (s *BadgerStore) Write(batch *Batch) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	for _, op := range batch.Ops() {
		var err error
		switch op.Type {
		case OpPut:
			err = tx.Set(op.Key, op.Value)
		case OpDelete:
			err = tx.Delete(op.Key)
		}
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func isDBKeyNotFound(err error) bool {
	return err != nil && err.Error() == badger.ErrKeyNotFound.Error()
}
