package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type Storage struct {
	Db *leveldb.DB
}

// NewStorage opens (or creates) the leveldb database at path, recovering it
// once if the manifest is corrupted.
func NewStorage(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}

	db, err := leveldb.OpenFile(path, &opt.Options{})
	if errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %s: %w", path, err)
	}
	return &Storage{Db: db}, nil
}
