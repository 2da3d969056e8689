package services

// badgerstore.go adapts the teacher's Badger dependency into a real
// HashStore backend, grounded in badger's own recommended usage pattern:
// db.View/db.Update transactions, Txn.Get/Item.Value (copying the value out)
// for reads, Txn.SetEntry for writes.
//
// © 2025 disasm-cache authors. MIT License.

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/Voskan/disasm-cache/internal/domain"
)

// BadgerHashStore is a HashStore backed by an embedded Badger LSM-tree
// key-value store — useful when a host process wants the hash store's
// content survive across the worker pool's own lifetime without a
// dedicated external service.
type BadgerHashStore struct {
	db *badger.DB
}

// OpenBadgerHashStore opens (creating if absent) a Badger database rooted
// at dir.
func OpenBadgerHashStore(dir string) (*BadgerHashStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerHashStore{db: db}, nil
}

// Close releases the underlying Badger database.
func (b *BadgerHashStore) Close() error { return b.db.Close() }

type badgerTxnScope struct {
	txn *badger.Txn
}

func (s *badgerTxnScope) Close() { s.txn.Discard() }

// ScopeOpen starts a read-only transaction, matching the hash store's
// scope_open/close contract — a scope is just a bounded read window.
func (b *BadgerHashStore) ScopeOpen() HashScope {
	return &badgerTxnScope{txn: b.db.NewTransaction(false)}
}

func (b *BadgerHashStore) DataFromHash(scope HashScope, hash domain.ContentHash) ([]byte, bool) {
	ts, ok := scope.(*badgerTxnScope)
	if !ok {
		return nil, false
	}
	item, err := ts.txn.Get(hash[:])
	if err != nil {
		return nil, false
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

func (b *BadgerHashStore) HashFromKey(key string, rewindIdx int) (domain.ContentHash, bool) {
	revKey := revisionListKey(key)
	var hashes []domain.ContentHash
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(revKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hashes = decodeRevisionList(val)
			return nil
		})
	})
	if err != nil || len(hashes) == 0 {
		return domain.ZeroHash, false
	}
	idx := len(hashes) - 1 - rewindIdx
	if idx < 0 {
		return domain.ZeroHash, false
	}
	return hashes[idx], true
}

func (b *BadgerHashStore) HashFromData(data []byte) domain.ContentHash {
	return hashBytes(data)
}

func (b *BadgerHashStore) SubmitData(key string, data []byte) domain.ContentHash {
	h := hashBytes(data)
	_ = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(append([]byte(nil), h[:]...), data)); err != nil {
			return err
		}
		if key == "" {
			return nil
		}
		revKey := revisionListKey(key)
		var hashes []domain.ContentHash
		if item, err := txn.Get(revKey); err == nil {
			_ = item.Value(func(val []byte) error {
				hashes = decodeRevisionList(val)
				return nil
			})
		}
		hashes = append(hashes, h)
		return txn.SetEntry(badger.NewEntry(revKey, encodeRevisionList(hashes)))
	})
	return h
}

func revisionListKey(key string) []byte {
	return append([]byte("rev:"), []byte(key)...)
}

func encodeRevisionList(hashes []domain.ContentHash) []byte {
	out := make([]byte, 0, len(hashes)*16)
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

func decodeRevisionList(raw []byte) []domain.ContentHash {
	n := len(raw) / 16
	out := make([]domain.ContentHash, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], raw[i*16:i*16+16])
	}
	return out
}
