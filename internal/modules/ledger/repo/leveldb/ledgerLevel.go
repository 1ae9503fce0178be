package leveldb

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var keyPrefix = []byte("ledger/")

// LedgerLevel keeps ledger entries under sequence-numbered keys so that
// iteration order equals insertion order.
type LedgerLevel struct {
	db  *leveldb.DB
	log *slog.Logger

	mu     sync.Mutex
	loaded bool
	first  uint64 // sequence of the oldest live entry
	next   uint64 // sequence for the next append
}

func NewLedgerLevel(db *leveldb.DB, log *slog.Logger) *LedgerLevel {
	return &LedgerLevel{
		db:  db,
		log: log.With(slog.String("component", "ledger_leveldb")),
	}
}

func (s *LedgerLevel) key(seq uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], seq)
	return k
}

func (s *LedgerLevel) Load(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *LedgerLevel) load(ctx context.Context) ([]string, error) {
	op := "LedgerLevel.Load"

	iter := s.db.NewIterator(util.BytesPrefix(keyPrefix), nil)
	defer iter.Release()

	var ids []string
	first, next := uint64(0), uint64(0)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq := binary.BigEndian.Uint64(iter.Key()[len(keyPrefix):])
		if len(ids) == 0 {
			first = seq
		}
		next = seq + 1
		ids = append(ids, string(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		s.log.Error("failed to iterate ledger", slog.String("op", op), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.first, s.next, s.loaded = first, next, true
	return ids, nil
}

func (s *LedgerLevel) Append(ctx context.Context, id string, capacity int) error {
	op := "LedgerLevel.Append"

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if _, err := s.load(ctx); err != nil {
			return err
		}
	}

	batch := new(leveldb.Batch)
	batch.Put(s.key(s.next), []byte(id))
	next, first := s.next+1, s.first
	for capacity > 0 && next-first > uint64(capacity) {
		batch.Delete(s.key(first))
		first++
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.next, s.first = next, first
	return nil
}

func (s *LedgerLevel) Close() error {
	return s.db.Close()
}
