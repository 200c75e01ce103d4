package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	scansBucket    = "scans"
	timeoutsBucket = "timeouts"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SaveRecord saves a scan record to the database
	SaveRecord(record *Record) error

	// GetRecord retrieves a scan record by ID
	GetRecord(id string) (*Record, error)

	// ListRecords returns all scan records
	ListRecords() ([]*Record, error)

	// DeleteRecord removes a scan record from the database
	DeleteRecord(id string) error

	// SaveTimeout saves a timed out session
	SaveTimeout(timeout *Timeout) error

	// ListTimeouts returns all timed out sessions
	ListTimeouts() ([]*Timeout, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{scansBucket, timeoutsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func put(db *bbolt.DB, bucket, key string, v any) error {
	return db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", bucket, err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// SaveRecord saves a scan record to the database
func (b *BoltDB) SaveRecord(record *Record) error {
	return put(b.db, scansBucket, record.ID, record)
}

// GetRecord retrieves a scan record by ID
func (b *BoltDB) GetRecord(id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(scansBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords returns all scan records
func (b *BoltDB) ListRecords() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(scansBucket)).ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteRecord removes a scan record from the database
func (b *BoltDB) DeleteRecord(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(scansBucket)).Delete([]byte(id))
	})
}

// SaveTimeout saves a timed out session
func (b *BoltDB) SaveTimeout(timeout *Timeout) error {
	return put(b.db, timeoutsBucket, timeout.SessionID, timeout)
}

// ListTimeouts returns all timed out sessions
func (b *BoltDB) ListTimeouts() ([]*Timeout, error) {
	timeouts := make([]*Timeout, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(timeoutsBucket)).ForEach(func(k, v []byte) error {
			var timeout Timeout
			if err := json.Unmarshal(v, &timeout); err != nil {
				return fmt.Errorf("unmarshaling timeout: %w", err)
			}
			timeouts = append(timeouts, &timeout)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return timeouts, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
