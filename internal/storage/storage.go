// Package storage provides persistent storage for the stake ledger.
// It uses BoltDB as the underlying storage engine and acts as the ledger's
// write-ahead journal: every mutation is committed here in a single bbolt
// transaction before the in-memory ledger applies it.
//
// Model records are stored by model id; transactions are stored under a
// monotonically increasing sequence key so that iteration order equals
// apply order.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stake-consensus/internal/ledger"

	"go.etcd.io/bbolt"
)

const (
	modelsBucket       = "models"       // Bucket name for model records
	transactionsBucket = "transactions" // Bucket name for the transaction log

	dbFileName = "ledger.db"
)

// Store provides persistent storage for ledger state using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
// Returns an error if the database cannot be opened or buckets cannot be created.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(modelsBucket)); err != nil {
			return fmt.Errorf("create models bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(transactionsBucket)); err != nil {
			return fmt.Errorf("create transactions bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Commit writes the post-mutation record of modelID and appends txs to the
// transaction log atomically. It implements ledger.Journal.
func (s *Store) Commit(modelID string, record ledger.ModelRecord, txs []ledger.Transaction) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		mb := tx.Bucket([]byte(modelsBucket))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal model record: %w", err)
		}
		if err := mb.Put([]byte(modelID), data); err != nil {
			return fmt.Errorf("put model record: %w", err)
		}

		tb := tx.Bucket([]byte(transactionsBucket))
		for _, t := range txs {
			seq, err := tb.NextSequence()
			if err != nil {
				return fmt.Errorf("next transaction sequence: %w", err)
			}
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal transaction: %w", err)
			}
			if err := tb.Put(seqKey(seq), data); err != nil {
				return fmt.Errorf("put transaction: %w", err)
			}
		}
		return nil
	})
}

// Load reads every model record and the full transaction log in apply order.
func (s *Store) Load() (map[string]ledger.ModelRecord, []ledger.Transaction, error) {
	models := make(map[string]ledger.ModelRecord)
	var txs []ledger.Transaction

	err := s.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket([]byte(modelsBucket)).ForEach(func(k, v []byte) error {
			var rec ledger.ModelRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal model %s: %w", k, err)
			}
			models[string(k)] = rec
			return nil
		})
		if err != nil {
			return err
		}

		c := tx.Bucket([]byte(transactionsBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t ledger.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshal transaction %d: %w", binary.BigEndian.Uint64(k), err)
			}
			txs = append(txs, t)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return models, txs, nil
}

// Reset deletes all persisted ledger state.
func (s *Store) Reset() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{modelsBucket, transactionsBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && err != bbolt.ErrBucketNotFound {
				return fmt.Errorf("delete %s bucket: %w", name, err)
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// TransactionCount returns the number of persisted transactions.
func (s *Store) TransactionCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(transactionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
