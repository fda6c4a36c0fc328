// Package badger persists peer statistics between runs so the merit
// ordering of the stats table survives restarts.
package badger

import (
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// A Store is a badger-backed store.
type Store struct {
	db  *badger.DB
	log *zap.Logger
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenDatabase opens a badger database at the given path.
func OpenDatabase(path string, log *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}
