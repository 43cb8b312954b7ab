package checkpoint

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/loom/internal/errors"
)

const recordPrefix = "record/"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps the database off disk, for tests.
	InMemory bool
	// SyncWrites fsyncs every transaction.
	SyncWrites bool
	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// BadgerStore keeps each record under its own key, written in its own
// transaction.
type BadgerStore struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerStore opens (creating if needed) a badger-backed store.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New(errors.ErrCodeStoreRead, "badger store path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("create state directory %s", cfg.Path), err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "open badger store", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get returns the record for nodeID.
func (s *BadgerStore) Get(nodeID string) (Record, bool, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + nodeID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Wrap(errors.ErrCodeStoreRead, fmt.Sprintf("read record %s", nodeID), err)
	}
	return rec, true, nil
}

// Snapshot returns every record.
func (s *BadgerStore) Snapshot() (map[string]Record, error) {
	out := make(map[string]Record)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(recordPrefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out[rec.NodeID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "scan records", err)
	}
	return out, nil
}

// Put writes one record in its own transaction.
func (s *BadgerStore) Put(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &errors.PersistenceError{Op: "marshal record " + rec.NodeID, Cause: err}
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordPrefix+rec.NodeID), data)
	}); err != nil {
		return &errors.PersistenceError{Op: "write record " + rec.NodeID, Cause: err}
	}
	return nil
}

// Delete removes the record for nodeID.
func (s *BadgerStore) Delete(nodeID string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(recordPrefix + nodeID))
	}); err != nil {
		return &errors.PersistenceError{Op: "delete record " + nodeID, Cause: err}
	}
	return nil
}

// Flush syncs the database to disk.
func (s *BadgerStore) Flush() error {
	if s.db.Opts().InMemory {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return &errors.PersistenceError{Op: "sync badger store", Path: s.db.Opts().Dir, Cause: err}
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
