package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketTxids   = []byte("txids")

	// ErrNotFound is returned for a txid that was never journaled.
	ErrNotFound = errors.New("transaction not in history")
)

// Status is the lifecycle stage of a journaled transaction.
type Status string

const (
	StatusBuilt     Status = "built"
	StatusFinalized Status = "finalized"
)

// Entry is one transaction in the journal.
type Entry struct {
	// Seq orders the entries by the time they were first recorded.
	Seq uint64 `json:"seq"`

	TxID   chainhash.Hash `json:"txid"`
	Status Status         `json:"status"`

	// Hex is the signed transaction. It is empty for transactions that
	// were finalized without being built here.
	Hex string `json:"hex,omitempty"`

	Fee     int64 `json:"fee"`
	VSize   int64 `json:"vsize"`
	Inputs  int   `json:"inputs"`
	Outputs int   `json:"outputs"`

	Recorded  time.Time `json:"recorded"`
	Finalized time.Time `json:"finalized"`
}

// Journal is an append-mostly record of the transactions the operator built
// and finalized, kept in a bbolt database next to the state file.
type Journal struct {
	db  *bbolt.DB
	now func() time.Time
}

// PathFor returns the journal path that belongs to a state file.
func PathFor(statePath string) string {
	return statePath + ".history.db"
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening history: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketTxids} {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return fmt.Errorf("error creating bucket %q: %w",
					name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// lookup returns the entry of txid, or nil if there is none.
func lookup(tx *bbolt.Tx, txid chainhash.Hash) (*Entry, error) {
	key := tx.Bucket(bucketTxids).Get(txid[:])
	if key == nil {
		return nil, nil
	}
	data := tx.Bucket(bucketEntries).Get(key)
	if data == nil {
		return nil, fmt.Errorf("dangling index for %v", txid)
	}

	entry := &Entry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("error decoding entry %v: %w", txid, err)
	}

	return entry, nil
}

// put writes entry, assigning a sequence number to new entries.
func put(tx *bbolt.Tx, entry *Entry) error {
	entries := tx.Bucket(bucketEntries)
	if entry.Seq == 0 {
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		entry.Seq = seq
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := seqKey(entry.Seq)
	if err := entries.Put(key, data); err != nil {
		return err
	}

	return tx.Bucket(bucketTxids).Put(entry.TxID[:], key)
}

// Record journals a built transaction. Building the same transaction again
// refreshes its entry but keeps its position. A finalized entry keeps its
// status.
func (j *Journal) Record(entry Entry) (*Entry, error) {
	err := j.db.Update(func(tx *bbolt.Tx) error {
		existing, err := lookup(tx, entry.TxID)
		if err != nil {
			return err
		}

		entry.Status = StatusBuilt
		entry.Recorded = j.now()
		if existing != nil {
			entry.Seq = existing.Seq
			entry.Recorded = existing.Recorded
			entry.Status = existing.Status
			entry.Finalized = existing.Finalized
		}

		return put(tx, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("error recording %v: %w", entry.TxID, err)
	}
	log.Debugf("Recorded %v as entry %d", entry.TxID, entry.Seq)

	return &entry, nil
}

// MarkFinal marks a transaction as finalized. Transactions that were never
// built here get a new entry without hex.
func (j *Journal) MarkFinal(txid chainhash.Hash) (*Entry, error) {
	var entry *Entry
	err := j.db.Update(func(tx *bbolt.Tx) error {
		var err error
		entry, err = lookup(tx, txid)
		if err != nil {
			return err
		}

		now := j.now()
		if entry == nil {
			entry = &Entry{TxID: txid, Recorded: now}
		}
		entry.Status = StatusFinalized
		entry.Finalized = now

		return put(tx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("error finalizing %v: %w", txid, err)
	}
	log.Debugf("Marked %v final", txid)

	return entry, nil
}

// Get returns the entry of txid.
func (j *Journal) Get(txid chainhash.Hash) (*Entry, error) {
	var entry *Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		var err error
		entry, err = lookup(tx, txid)
		return err
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, txid)
	}

	return entry, nil
}

// List returns all entries in the order they were first recorded.
func (j *Journal) List() ([]*Entry, error) {
	var entries []*Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			entry := &Entry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("error listing history: %w", err)
	}

	return entries, nil
}
